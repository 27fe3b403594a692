// Package topology resolves where a document topic sits in the ledger's
// parent-topic chain and what policy publications govern it.
package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hashgraph/guardian-sub018/internal/ledger"
)

// maxHops bounds the climb up the parent chain, defending against cyclic or
// malicious parent pointers.
const maxHops = 20

var (
	// ErrTooManyHops is returned when the parent chain exceeds maxHops
	ErrTooManyHops = errors.New("topic parent chain exceeds maximum hop count")

	// ErrInvalidTopic is returned for dead ends, unexpected topic types and
	// policy topics reached without an instance topic on the way
	ErrInvalidTopic = errors.New("invalid topic")
)

// Topology is the resolved classification of a document topic's chain
type Topology struct {
	RootTopic      *ledger.TopicDescriptor
	PolicyTopic    *ledger.TopicDescriptor
	InstanceTopic  *ledger.TopicDescriptor
	SchemaMessages []ledger.SchemaMessage
	PolicyInstance *ledger.PolicyMessage
}

// Walker climbs topic parent chains through a ledger reader
type Walker struct {
	reader ledger.TopicReader
}

// NewWalker creates a topology walker
func NewWalker(reader ledger.TopicReader) *Walker {
	return &Walker{reader: reader}
}

// Resolve climbs from topicID to its governing policy topic, collecting the
// root (document) topic, the policy-instance topic, the schema publications
// and the policy-publish message along the way.
func (w *Walker) Resolve(ctx context.Context, topicID ledger.TopicID) (*Topology, error) {
	topology := &Topology{}
	current := topicID

	for hops := 0; ; hops++ {
		if hops >= maxHops {
			return nil, fmt.Errorf("%w: gave up after %d hops from topic %s", ErrTooManyHops, maxHops, topicID)
		}

		descriptor, err := w.reader.TopicDescriptor(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve topic %s: %w", current, err)
		}

		switch descriptor.MessageType {
		case ledger.TopicTypeDynamic:
			if topology.RootTopic == nil {
				topology.RootTopic = descriptor
			}

		case ledger.TopicTypeInstancePolicy:
			// An instance topic subscribed to directly is both the document
			// topic and the instance topic.
			if topology.RootTopic == nil {
				topology.RootTopic = descriptor
			}
			topology.InstanceTopic = descriptor

		case ledger.TopicTypePolicy:
			if topology.InstanceTopic == nil {
				return nil, fmt.Errorf("%w: policy topic %s reached without an instance topic", ErrInvalidTopic, current)
			}
			topology.PolicyTopic = descriptor
			if err := w.collectPolicyMessages(ctx, topology); err != nil {
				return nil, err
			}
			return topology, nil

		default:
			return nil, fmt.Errorf("%w: topic %s has unexpected type %q", ErrInvalidTopic, current, descriptor.MessageType)
		}

		if descriptor.ParentID == "" {
			return nil, fmt.Errorf("%w: topic %s has no parent and no policy topic was reached", ErrInvalidTopic, current)
		}
		parent, err := ledger.ParseTopicID(descriptor.ParentID)
		if err != nil {
			return nil, fmt.Errorf("%w: topic %s declares malformed parent %q", ErrInvalidTopic, current, descriptor.ParentID)
		}
		current = parent
	}
}

// collectPolicyMessages enumerates the policy topic, partitioning its
// entries into schema publications and the policy-publish message matching
// the recorded instance topic.
func (w *Walker) collectPolicyMessages(ctx context.Context, topology *Topology) error {
	policyID := topology.PolicyTopic.TopicID
	messages, err := w.reader.Messages(ctx, policyID)
	if err != nil {
		return fmt.Errorf("failed to enumerate policy topic %s: %w", policyID, err)
	}

	instanceID := topology.InstanceTopic.TopicID.String()
	for _, msg := range messages {
		switch ledger.ParsePayloadType(msg.Raw) {
		case ledger.PayloadTypeSchema:
			var schema ledger.SchemaMessage
			if err := json.Unmarshal(msg.Raw, &schema); err != nil {
				log.Printf("⚠️ Skipping malformed schema publication %s on topic %s: %v", msg.ID, policyID, err)
				continue
			}
			topology.SchemaMessages = append(topology.SchemaMessages, schema)

		case ledger.PayloadTypePolicy:
			var policy ledger.PolicyMessage
			if err := json.Unmarshal(msg.Raw, &policy); err != nil {
				log.Printf("⚠️ Skipping malformed policy publication %s on topic %s: %v", msg.ID, policyID, err)
				continue
			}
			if policy.InstanceTopicID == instanceID {
				instance := policy
				topology.PolicyInstance = &instance
			}
		}
	}

	if topology.PolicyInstance == nil {
		return fmt.Errorf("%w: policy topic %s carries no publication for instance topic %s", ErrInvalidTopic, policyID, instanceID)
	}
	return nil
}
