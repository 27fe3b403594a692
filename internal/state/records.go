// Package state holds the persisted records of the ingestion subsystem and
// the repository capability they are stored through.
package state

import (
	"time"

	"github.com/hashgraph/guardian-sub018/internal/schemacheck"
)

// SubscriptionStatus is the lifecycle state of a topic subscription.
// It doubles as a non-reentrant advisory lock: the scheduler only starts
// work on Free subscriptions and flips the status before any suspension
// point.
type SubscriptionStatus string

const (
	StatusNeedTopic    SubscriptionStatus = "NEED_TOPIC"
	StatusSearch       SubscriptionStatus = "SEARCH"
	StatusNeedSchema   SubscriptionStatus = "NEED_SCHEMA"
	StatusVerification SubscriptionStatus = "VERIFICATION"
	StatusFree         SubscriptionStatus = "FREE"
	StatusProcessing   SubscriptionStatus = "PROCESSING"
	StatusError        SubscriptionStatus = "ERROR"
)

// StreamStatus is the lifecycle state of a global notification stream
type StreamStatus string

const (
	StreamFree       StreamStatus = "FREE"
	StreamProcessing StreamStatus = "PROCESSING"
	StreamError      StreamStatus = "ERROR"
)

// Key addresses a subscription: one per hosting block and subscriber identity
type Key struct {
	WorkflowID string
	BlockID    string
	Subscriber string
}

// String returns the colon-joined form used in logs and event keys
func (k Key) String() string {
	return k.WorkflowID + ":" + k.BlockID + ":" + k.Subscriber
}

// SchemaCandidate is a schema publication discovered on the policy topic
type SchemaCandidate struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ContentRef    string             `json:"contentRef"`
	Compatibility schemacheck.Status `json:"compatibility"`
}

// Subscription is the persisted per-subscriber intake record.
// It is created lazily on first operator interaction and never deleted;
// deactivation happens through Active=false.
type Subscription struct {
	Key              Key
	Status           SubscriptionStatus
	DocumentTopicID  string
	PolicyTopicID    string
	InstanceTopicID  string
	Candidates       []SchemaCandidate
	SelectedSchemaID string
	SelectedSchema   *SchemaCandidate
	Active           bool
	Cursor           string
	LastUpdate       time.Time
}

// Candidate returns the discovered candidate with the given schema id
func (s *Subscription) Candidate(schemaID string) *SchemaCandidate {
	for i := range s.Candidates {
		if s.Candidates[i].ID == schemaID {
			return &s.Candidates[i]
		}
	}
	return nil
}

// GlobalStream is the persisted record of one shared/global anchor topic.
// Streams are reconciled against an operator-declared desired set and never
// hard-deleted.
type GlobalStream struct {
	WorkflowID    string
	BlockID       string
	TopicID       string
	OwnerIdentity string
	RoutingHint   string
	Cursor        string
	Active        bool
	Status        StreamStatus
	LastUpdate    time.Time
}
