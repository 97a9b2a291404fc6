package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PushFrame is the server-to-client envelope carried over the gateway socket.
// It is marshaled exactly once per publish; gateways forward the raw bytes.
type PushFrame struct {
	EventType string      `json:"event_type"`
	UserIDs   []uuid.UUID `json:"user_ids"`
	Payload   PushPayload `json:"payload"`
}

type PushPayload struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"createdAt"`
}

func (f PushFrame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}
