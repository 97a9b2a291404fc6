package model

import "github.com/google/uuid"

// Routing keys understood by the event consumer. The set is closed: an
// envelope with any other key never reaches a handler queue.
const (
	RKPostCreated     = "post.created"
	RKPostLiked       = "post.liked"
	RKPostCommented   = "post.commented"
	RKCommentReplied  = "comment.replied"
	RKUserFollowed    = "user.followed"
	RKCommunityJoined = "community.joined"
	RKViolationEvents = "violation.events"
)

// PostCreatedEvent announces a new post to the author's followers.
type PostCreatedEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	PostID   string    `json:"post_id"`
}

// PostLikedEvent is aggregatable on (post_owner, post_liked, post_id).
type PostLikedEvent struct {
	PostOwner     uuid.UUID `json:"post_owner"`
	PostID        string    `json:"post_id"`
	LikerID       uuid.UUID `json:"liker_id"`
	LikerUsername string    `json:"liker_username"`
}

// PostCommentedEvent is aggregatable on (post_owner, post_commented, post_id).
type PostCommentedEvent struct {
	PostOwner         uuid.UUID `json:"post_owner"`
	PostID            string    `json:"post_id"`
	CommenterID       uuid.UUID `json:"commenter_id"`
	CommenterUsername string    `json:"commenter_username"`
}

// CommentRepliedEvent notifies the author of the parent comment.
type CommentRepliedEvent struct {
	ParentAuthor    uuid.UUID `json:"parent_author"`
	PostID          string    `json:"post_id"`
	ReplierID       uuid.UUID `json:"replier_id"`
	ReplierUsername string    `json:"replier_username"`
	Excerpt         string    `json:"excerpt"`
}

// UserFollowedEvent notifies the followee.
type UserFollowedEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	FollowerID       uuid.UUID `json:"follower_id"`
	FollowerUsername string    `json:"follower_username"`
}

// CommunityJoinedEvent confirms membership to the joining user.
type CommunityJoinedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	CommunityID   string    `json:"community_id"`
	CommunityName string    `json:"community_name"`
}

// ViolationEvent carries a moderation verdict for a livestream.
type ViolationEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	StreamID string    `json:"stream_id"`
	Reason   string    `json:"reason"`
}
