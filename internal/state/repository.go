package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for the requested key
var ErrNotFound = errors.New("record not found")

// Repository abstracts persistence of subscriptions and global streams to
// enable testing with in-memory fakes. Saves are upserts; all mutation goes
// through the owning state machines, never ad hoc field writes.
type Repository interface {
	GetSubscription(ctx context.Context, key Key) (*Subscription, error)
	SaveSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptions(ctx context.Context, workflowID, blockID string) ([]*Subscription, error)

	GetStream(ctx context.Context, workflowID, blockID, topicID string) (*GlobalStream, error)
	SaveStream(ctx context.Context, stream *GlobalStream) error
	ListStreams(ctx context.Context, workflowID, blockID string) ([]*GlobalStream, error)
}
