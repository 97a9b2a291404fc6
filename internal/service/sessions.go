package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/internal/domain/model"
)

// SessionRepo is the persistence capability set for RTMP sessions. The
// conditional transitions are atomic: the returned bool reports whether the
// row actually moved, and on success the session owner's id comes with it.
type SessionRepo interface {
	FindByID(ctx context.Context, id int64) (*model.StreamSession, error)
	TransitionToLive(ctx context.Context, id int64, streamKey string) (uuid.UUID, bool, error)
	TransitionToEnded(ctx context.Context, id int64) (uuid.UUID, bool, error)
}

// StreamSessions drives the RTMP publish state machine from media-server
// webhooks.
type StreamSessions struct {
	repo   SessionRepo
	logger *slog.Logger
}

func NewStreamSessions(repo SessionRepo, logger *slog.Logger) *StreamSessions {
	return &StreamSessions{repo: repo, logger: logger}
}

// OnPublish admits a stream only when the stored session is IDLE and the
// presented token matches its key. Any other state is rejected. The owner's
// id is returned so the caller can attach a moderation monitor.
func (s *StreamSessions) OnPublish(ctx context.Context, streamID int64, token string) (uuid.UUID, error) {
	userID, moved, err := s.repo.TransitionToLive(ctx, streamID, token)
	if err != nil {
		return uuid.Nil, err
	}
	if !moved {
		s.logger.Warn("RTMP_PUBLISH_REJECTED", "stream_id", streamID)
		return uuid.Nil, ErrRejected
	}
	s.logger.Info("RTMP_STREAM_LIVE", "stream_id", streamID, "user_id", userID)
	return userID, nil
}

// OnUnpublish ends a LIVE session. Repeated or out-of-order callbacks are
// acked without effect: the media server retries until it sees an accept.
func (s *StreamSessions) OnUnpublish(ctx context.Context, streamID int64) error {
	_, moved, err := s.repo.TransitionToEnded(ctx, streamID)
	if err != nil {
		return err
	}
	if moved {
		s.logger.Info("RTMP_STREAM_ENDED", "stream_id", streamID)
	}
	return nil
}
