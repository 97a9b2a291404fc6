package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the RTMP publish lifecycle. The only legal sequence is a
// prefix of IDLE -> LIVE -> ENDED; no transition moves backward.
type SessionStatus string

const (
	SessionIdle  SessionStatus = "IDLE"
	SessionLive  SessionStatus = "LIVE"
	SessionEnded SessionStatus = "ENDED"
)

// StreamSession is a single livestream attempt keyed by the media server's
// stream name.
type StreamSession struct {
	ID          int64         `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	StreamKey   string        `json:"-"`
	Status      SessionStatus `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	ViewerCount int           `json:"viewer_count"`
}
