// Package queue defines the named FIFO channels used to hand work to the
// analysis/format workers and to receive their verdicts.
//
// Producers push to the tail of a named list; consumers pop from the head.
// A pop removes the message before it is processed (at-most-once).
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Pop when no message arrived within the timeout.
var ErrEmpty = errors.New("queue: empty")

// Default channel names shared with the workers.
const (
	DefaultSCAQueue       = "snippet_sca_queue"
	DefaultFormatQueue    = "snippet_formatting_queue"
	DefaultSCASingleQueue = "snippet_sca_unique_queue"
	DefaultStatusQueue    = "snippet_sca_status"
)

type Publisher interface {
	Push(ctx context.Context, queue string, payload []byte) error
}

// Consumer blocks for up to timeout waiting for one message.
type Consumer interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// Queue is a Publisher and Consumer backed by one connection.
type Queue interface {
	Publisher
	Consumer
	Ping(ctx context.Context) error
	Close() error
}
