package queue

import "context"

// Job handles one message type. Handle errors trigger the retry schedule and
// eventually the dead-letter list.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type the job consumes.
	Type() string

	// Handle processes one payload. Use ParsePayload to recover the typed
	// value.
	Handle(ctx context.Context, payload interface{}) error
}
