package model

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
)

// OutboxEntry is written in the same transaction as the aggregate it
// describes and later dispatched to the bus by the polling worker.
type OutboxEntry struct {
	ID          uuid.UUID    `json:"id"`
	AggregateID string       `json:"aggregate_id"`
	RoutingKey  string       `json:"routing_key"`
	Payload     []byte       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}
