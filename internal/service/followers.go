package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// FollowerRepo answers the followers lookup. Its consistency model belongs
// to the collaborator owning the follows graph; a read-committed snapshot at
// event-handling time is accepted here.
type FollowerRepo interface {
	Followers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// FollowerSource caches the hot follower sets in front of the repo. Fan-out
// for post.created hits this once per event, not once per recipient.
type FollowerSource struct {
	repo  FollowerRepo
	cache *expirable.LRU[uuid.UUID, []uuid.UUID]
}

func NewFollowerSource(repo FollowerRepo) *FollowerSource {
	return &FollowerSource{
		repo:  repo,
		cache: expirable.NewLRU[uuid.UUID, []uuid.UUID](10000, nil, time.Minute),
	}
}

func (f *FollowerSource) Followers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if cached, ok := f.cache.Get(userID); ok {
		return cached, nil
	}
	followers, err := f.repo.Followers(ctx, userID)
	if err != nil {
		return nil, err
	}
	f.cache.Add(userID, followers)
	return followers, nil
}
