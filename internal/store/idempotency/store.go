// Package idempotency provides atomic set-if-absent keys with TTL, shared by
// every process in the fleet. It backs both event dedup (processed_msg:) and
// request dedup (idempotency:).
package idempotency

import (
	"context"
	"errors"
	"time"
)

const (
	// NamespaceProcessedMsg marks consumed bus envelopes. Short TTL: it only
	// needs to cover broker redelivery and network partitions.
	NamespaceProcessedMsg = "processed_msg:"

	// NamespaceRequest marks deduplicated client requests.
	NamespaceRequest = "idempotency:"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("idempotency: empty key")

// Store is the cross-process dedup contract.
//
// CheckAndMark returns first=true when the key was absent and is now marked,
// first=false when another invocation already holds it. The check-and-set is
// atomic across processes sharing the store.
type Store interface {
	CheckAndMark(ctx context.Context, namespace, key string, ttl time.Duration) (first bool, err error)

	// Remove evicts a key, re-permitting a retry after a failed handler.
	Remove(ctx context.Context, namespace, key string) error
}
