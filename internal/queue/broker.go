package queue

import (
	"context"
	"errors"
	"fmt"
)

// Broker is the message transport underneath the Gateway. Delivery is at
// least once: a received message stays claimed until it is deleted or
// released, and an abandoned claim becomes visible again after the broker's
// visibility timeout.
type Broker interface {
	CreateQueue(ctx context.Context, name string) error
	DeleteQueue(ctx context.Context, name string) error
	Queues(ctx context.Context) ([]string, error)

	Send(ctx context.Context, queue string, body string, attrs map[string]string) (string, error)
	// Receive claims at most one message. It returns nil when the queue is empty.
	Receive(ctx context.Context, queue string) (*Delivery, error)
	Delete(ctx context.Context, queue, receipt string) error
	// Release hands a claimed message back to the end of the queue.
	Release(ctx context.Context, queue, receipt string) error

	Close() error
}

// Delivery is a claimed message plus the receipt needed to settle it.
type Delivery struct {
	Message
	Receipt string
}

// ErrQueueNotFound matches every *QueueNotFoundError through errors.Is.
var ErrQueueNotFound = errors.New("queue not found")

type QueueNotFoundError struct {
	Name string
}

func (e *QueueNotFoundError) Error() string {
	return fmt.Sprintf("queue %q not found", e.Name)
}

func (e *QueueNotFoundError) Is(target error) bool { return target == ErrQueueNotFound }
