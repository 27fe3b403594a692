package events

import (
	"encoding/json"
	"time"
)

// DocumentIngestedEvent is the external-integration notification published
// after a document has been verified and forwarded. The record it carries is
// complete; consumers never need to dereference the ledger again.
type DocumentIngestedEvent struct {
	WorkflowID    string          `json:"workflowId"`
	BlockID       string          `json:"blockId"`
	Subscriber    string          `json:"subscriber"`
	RecordID      string          `json:"recordId"`
	SchemaID      string          `json:"schemaId"`
	TopicID       string          `json:"topicId"`
	MessageID     string          `json:"messageId"`
	Document      json.RawMessage `json:"document"`
	Relationships []string        `json:"relationships,omitempty"`
	IngestedDate  time.Time       `json:"ingestedDate"`
}

// BlockEventMessage is the wire form of a hosting-workflow block event
type BlockEventMessage struct {
	Kind       string    `json:"kind"`
	WorkflowID string    `json:"workflowId"`
	BlockID    string    `json:"blockId"`
	Subscriber string    `json:"subscriber"`
	RecordID   string    `json:"recordId,omitempty"`
	EmittedAt  time.Time `json:"emittedAt"`
}

// StatusChangedEvent is pushed to the operator channel on every asynchronous
// status transition of a subscription or stream
type StatusChangedEvent struct {
	WorkflowID  string    `json:"workflowId"`
	BlockID     string    `json:"blockId"`
	Subscriber  string    `json:"subscriber"`
	Target      string    `json:"target"` // "subscription" or "stream"
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ChangedDate time.Time `json:"changedDate"`
}
