package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification types that participate in aggregation. The triple
// (user_id, type, reference_id) identifies at most one active aggregated row.
const (
	NotificationPostLiked     = "post_liked"
	NotificationPostCommented = "post_commented"
)

// Notification is the durable record behind every realtime push. Realtime
// delivery is advisory; this row is the source of truth clients reconcile
// against after a reconnect.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Type          string     `json:"notification_type,omitempty"`
	ReferenceID   string     `json:"reference_id,omitempty"`
	ActorsCount   int        `json:"actors_count"`
	LastActorID   *uuid.UUID `json:"last_actor_id,omitempty"`
	LastActorName string     `json:"last_actor_name,omitempty"`
	IsRead        bool       `json:"is_read"`
	LinkURL       string     `json:"link_url"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
