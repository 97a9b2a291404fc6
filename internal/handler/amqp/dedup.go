package amqp

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// dedupKey derives a stable identity for an envelope. Producers that set a
// message id get exact dedup; for the rest, a 128-bit hash over the payload
// bytes identifies byte-identical retries.
func dedupKey(msg *message.Message) string {
	if msg.UUID != "" {
		return msg.UUID
	}
	h := fnv.New128a()
	_, _ = h.Write(msg.Payload)
	return hex.EncodeToString(h.Sum(nil))
}
