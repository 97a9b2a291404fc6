package amqp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/service"
)

// One handler per routing key. Each receives an already-deduplicated,
// decoded payload and produces the notification side effect.

func (c *Consumer) onViolation(ctx context.Context, ev *model.ViolationEvent) error {
	if ev.UserID == uuid.Nil {
		return service.Invalid("violation.events: missing user_id")
	}
	_, err := c.notifier.Create(ctx, ev.UserID, model.RKViolationEvents,
		"Community guidelines warning",
		fmt.Sprintf("Your livestream was flagged: %s", ev.Reason),
		c.link("/streams/"+ev.StreamID))
	return err
}

func (c *Consumer) onPostCreated(ctx context.Context, ev *model.PostCreatedEvent) error {
	if ev.UserID == uuid.Nil {
		return service.Invalid("post.created: missing user_id")
	}
	followers, err := c.followers.Followers(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("post.created: followers lookup: %w", err)
	}
	return c.notifier.CreateMany(ctx, followers, model.RKPostCreated,
		"New post",
		"New post from someone you follow",
		c.link("/posts/"+ev.PostID))
}

func (c *Consumer) onUserFollowed(ctx context.Context, ev *model.UserFollowedEvent) error {
	if ev.UserID == uuid.Nil {
		return service.Invalid("user.followed: missing user_id")
	}
	_, err := c.notifier.Create(ctx, ev.UserID, model.RKUserFollowed,
		"New follower",
		fmt.Sprintf("%s followed you", ev.FollowerUsername),
		c.link("/users/"+ev.FollowerID.String()))
	return err
}

func (c *Consumer) onPostLiked(ctx context.Context, ev *model.PostLikedEvent) error {
	if ev.PostOwner == uuid.Nil {
		return service.Invalid("post.liked: missing post_owner")
	}
	_, err := c.notifier.CreateAggregated(ctx, service.AggregateParams{
		UserID:      ev.PostOwner,
		Type:        model.NotificationPostLiked,
		ReferenceID: ev.PostID,
		EventType:   model.RKPostLiked,
		Title:       "Your post was liked",
		Action:      "liked your post",
		Link:        c.link("/posts/" + ev.PostID),
		ActorID:     ev.LikerID,
		ActorName:   ev.LikerUsername,
	})
	return err
}

func (c *Consumer) onPostCommented(ctx context.Context, ev *model.PostCommentedEvent) error {
	if ev.PostOwner == uuid.Nil {
		return service.Invalid("post.commented: missing post_owner")
	}
	_, err := c.notifier.CreateAggregated(ctx, service.AggregateParams{
		UserID:      ev.PostOwner,
		Type:        model.NotificationPostCommented,
		ReferenceID: ev.PostID,
		EventType:   model.RKPostCommented,
		Title:       "New comment on your post",
		Action:      "commented on your post",
		Link:        c.link("/posts/" + ev.PostID),
		ActorID:     ev.CommenterID,
		ActorName:   ev.CommenterUsername,
	})
	return err
}

func (c *Consumer) onCommentReplied(ctx context.Context, ev *model.CommentRepliedEvent) error {
	if ev.ParentAuthor == uuid.Nil {
		return service.Invalid("comment.replied: missing parent_author")
	}
	_, err := c.notifier.Create(ctx, ev.ParentAuthor, model.RKCommentReplied,
		"New reply",
		fmt.Sprintf("%s replied: %s", ev.ReplierUsername, ev.Excerpt),
		c.link("/posts/"+ev.PostID))
	return err
}

func (c *Consumer) onCommunityJoined(ctx context.Context, ev *model.CommunityJoinedEvent) error {
	if ev.UserID == uuid.Nil {
		return service.Invalid("community.joined: missing user_id")
	}
	_, err := c.notifier.Create(ctx, ev.UserID, model.RKCommunityJoined,
		"Welcome",
		fmt.Sprintf("You joined %s", ev.CommunityName),
		c.link("/communities/"+ev.CommunityID))
	return err
}

func (c *Consumer) link(path string) string {
	return c.frontendBase + path
}
