package ingest

import (
	"context"
	"time"
)

// Message is one record read from the event stream.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Source delivers event messages with at-least-once semantics. Messages are
// redelivered until committed.
type Source interface {
	// Fetch may return messages together with an error; those messages have
	// been read and the caller must still process them.
	Fetch(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}
