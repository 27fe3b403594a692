package intake

import (
	"encoding/json"
	"time"
)

// DocumentRecord is the internal record built from a verified document
// before it is handed to the hosting workflow and the integration bus.
// Relationships carry the lineage of the record: the configured relationship
// root (when one is bound to the block) followed by the source message id.
type DocumentRecord struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	BlockID       string          `json:"blockId"`
	Owner         string          `json:"owner"`
	SchemaID      string          `json:"schemaId"`
	TopicID       string          `json:"topicId"`
	MessageID     string          `json:"messageId"`
	Document      json.RawMessage `json:"document"`
	Relationships []string        `json:"relationships,omitempty"`
	CreatedDate   time.Time       `json:"createdDate"`
}
