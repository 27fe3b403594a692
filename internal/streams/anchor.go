// Package streams implements the global notification front end: shared
// topics carrying compact anchors that point at documents living on other
// topics.
package streams

import (
	"encoding/json"

	"github.com/hashgraph/guardian-sub018/internal/ledger"
)

// Anchor bounds, guarding against obviously corrupted or spoofed pointers
const (
	// maxTopicNum is the upper bound (inclusive) for a topic id's numeric
	// segment
	maxTopicNum = 1_000_000_000_000

	// minAnchorSeconds is the sanity floor for anchor timestamps
	// (2020-01-01T00:00:00Z); the ledger predates no document topic.
	minAnchorSeconds = 1577836800
)

// Anchor is the raw payload published on a global topic
type Anchor struct {
	DocumentTopicID   string `json:"documentTopicId"`
	DocumentMessageID string `json:"documentMessageId"`
	Hash              string `json:"hash,omitempty"`
	Owner             string `json:"owner,omitempty"`
}

// ResolvedAnchor is a fully validated anchor ready to dereference.
// QueryStart is one second before the anchored message, widening the
// lookup window to tolerate clock skew between publishers.
type ResolvedAnchor struct {
	TopicID    ledger.TopicID
	MessageID  ledger.Timestamp
	QueryStart ledger.Timestamp
	Hash       string
	Owner      string
}

// ParseAnchor parses a raw global-topic payload into an anchor.
// Returns nil when the payload is malformed or misses the mandatory
// pointer fields; untrusted garbage is dropped, never propagated.
func ParseAnchor(raw []byte) *Anchor {
	var anchor Anchor
	if err := json.Unmarshal(raw, &anchor); err != nil {
		return nil
	}
	if anchor.DocumentTopicID == "" || anchor.DocumentMessageID == "" {
		return nil
	}
	return &anchor
}

// ResolveAnchor validates an anchor's pointer fields.
// Returns nil on any violation: a topic id whose numeric segment is outside
// (0, 1e12], a message id that is not a strict two-part consensus timestamp,
// or a timestamp below the sanity floor.
func ResolveAnchor(anchor *Anchor) *ResolvedAnchor {
	if anchor == nil {
		return nil
	}

	topicID, err := ledger.ParseTopicID(anchor.DocumentTopicID)
	if err != nil {
		return nil
	}
	if topicID.Num <= 0 || topicID.Num > maxTopicNum {
		return nil
	}

	messageID, err := ledger.ParseTimestamp(anchor.DocumentMessageID)
	if err != nil {
		return nil
	}
	if messageID.Seconds < minAnchorSeconds {
		return nil
	}

	return &ResolvedAnchor{
		TopicID:    topicID,
		MessageID:  messageID,
		QueryStart: ledger.Timestamp{Seconds: messageID.Seconds - 1, Nanos: 0},
		Hash:       anchor.Hash,
		Owner:      anchor.Owner,
	}
}
