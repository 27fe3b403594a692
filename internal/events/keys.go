package events

import (
	"fmt"
	"strings"
)

// DocumentEventKey represents the components of a document event key
type DocumentEventKey struct {
	WorkflowID string
	BlockID    string
	Subscriber string
	MessageID  string
}

// GenerateDocumentEventKey creates a standardized key for document events
// Format: {workflowId}:{blockId}:{subscriber}:{messageId}
// Colons are safe delimiters: ledger message ids and entity ids never
// contain them.
func GenerateDocumentEventKey(workflowID, blockID, subscriber, messageID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", workflowID, blockID, subscriber, messageID)
}

// ParseDocumentEventKey parses a document event key into its components.
// Returns an error if the key doesn't have the expected format.
func ParseDocumentEventKey(key string) (*DocumentEventKey, error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid document event key format: expected exactly 4 parts separated by colons, got %d parts: %s", len(parts), key)
	}

	return &DocumentEventKey{
		WorkflowID: parts[0],
		BlockID:    parts[1],
		Subscriber: parts[2],
		MessageID:  parts[3],
	}, nil
}

// String returns the key in the standard format
func (k *DocumentEventKey) String() string {
	return GenerateDocumentEventKey(k.WorkflowID, k.BlockID, k.Subscriber, k.MessageID)
}
