package ledger

import (
	"context"
	"time"
)

// TopicReader abstracts read access to the ledger's append-only topics to
// enable testing with mocks. All methods return messages in consensus order.
type TopicReader interface {
	// TopicDescriptor fetches and parses the descriptor message of a topic
	TopicDescriptor(ctx context.Context, id TopicID) (*TopicDescriptor, error)

	// Messages returns the full message history of a topic
	Messages(ctx context.Context, id TopicID) ([]Message, error)

	// MessagesAfter returns messages strictly after the cursor message id.
	// An empty cursor means the beginning of the topic.
	MessagesAfter(ctx context.Context, id TopicID, cursor string) ([]Message, error)

	// MessagesFrom returns messages at or after the given consensus timestamp
	MessagesFrom(ctx context.Context, id TopicID, start Timestamp) ([]Message, error)

	// CollectMessages performs a time-bounded subscribe-then-collect read of
	// messages strictly after the cursor. The call returns once the window
	// has elapsed; messages published later are picked up on the next call.
	CollectMessages(ctx context.Context, id TopicID, cursor string, window time.Duration) ([]Message, error)

	// Contents dereferences the full payload of a message, reassembling
	// chunked payloads where necessary
	Contents(ctx context.Context, msg Message) ([]byte, error)

	// ResolveAccount maps a subscriber identity to its paying ledger account
	ResolveAccount(ctx context.Context, identity string) (string, error)
}
