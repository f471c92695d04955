// Package queue implements a small Redis-backed job queue: pending work in a
// list, scheduled retries in a sorted set, exhausted messages in a
// dead-letter list.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueConfig sizes the queue runtime.
type QueueConfig struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
}

// Message is the wire form of one enqueued job invocation.
type Message struct {
	ID        string
	Type      string
	Payload   interface{}
	Attempts  int
	Timestamp time.Time
}

// ParsePayload recovers a typed payload inside a job handler. Payloads arrive
// as raw JSON after a Redis round trip and as live values when a job is
// invoked directly.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return unmarshalPayload[T](p)
	case []byte:
		return unmarshalPayload[T](p)
	default:
		// Anything else was decoded generically; round-trip through JSON.
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("queue: encode payload: %w", err)
		}
		return unmarshalPayload[T](data)
	}
}

func unmarshalPayload[T any](data []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("queue: decode payload: %w", err)
	}
	return &out, nil
}
