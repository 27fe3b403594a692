package intake

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/state"
)

// Producer abstracts Kafka producer operations to enable testing with mocks
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// EventKind discriminates the block events emitted towards the hosting
// workflow engine
type EventKind string

const (
	KindDocumentProduced EventKind = "document-produced"
	KindRelease          EventKind = "release"
	KindRefresh          EventKind = "refresh"
)

// BlockEvent is one event routed to downstream blocks of the hosting
// workflow
type BlockEvent struct {
	Kind   EventKind
	Key    state.Key
	Record *DocumentRecord
}

// EventEmitter abstracts the hosting workflow's event routing
type EventEmitter interface {
	Emit(ctx context.Context, event BlockEvent) error
}

// StatusNotifier pushes status transitions to the operator channel
type StatusNotifier interface {
	PushStatus(ctx context.Context, event events.StatusChangedEvent) error
}
