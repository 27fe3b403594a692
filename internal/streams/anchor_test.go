package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashgraph/guardian-sub018/internal/ledger"
)

// Validates anchor parsing requires both pointer fields
func TestParseAnchor(t *testing.T) {
	anchor := ParseAnchor([]byte(`{"documentTopicId":"0.0.1234","documentMessageId":"1696161234.000000001","hash":"abc","owner":"did:x"}`))
	require.NotNil(t, anchor)
	assert.Equal(t, "0.0.1234", anchor.DocumentTopicID)
	assert.Equal(t, "1696161234.000000001", anchor.DocumentMessageID)
	assert.Equal(t, "abc", anchor.Hash)
	assert.Equal(t, "did:x", anchor.Owner)

	assert.Nil(t, ParseAnchor([]byte(`{"documentMessageId":"1696161234.000000001"}`)))
	assert.Nil(t, ParseAnchor([]byte(`{"documentTopicId":"0.0.1234"}`)))
	assert.Nil(t, ParseAnchor([]byte(`not json`)))
	assert.Nil(t, ParseAnchor(nil))
}

// Validates anchor resolution enforces pointer bounds and formats
func TestResolveAnchor(t *testing.T) {
	tests := []struct {
		name      string
		topicID   string
		messageID string
		valid     bool
	}{
		{
			name:      "valid anchor",
			topicID:   "0.0.1234",
			messageID: "1696161234.000000001",
			valid:     true,
		},
		{
			name:      "topic number at upper bound",
			topicID:   "0.0.1000000000000",
			messageID: "1696161234.000000001",
			valid:     true,
		},
		{
			name:      "topic number above upper bound",
			topicID:   "0.0.1000000000001",
			messageID: "1696161234.000000001",
		},
		{
			name:      "zero topic number",
			topicID:   "0.0.0",
			messageID: "1696161234.000000001",
		},
		{
			name:      "malformed topic id",
			topicID:   "1234",
			messageID: "1696161234.000000001",
		},
		{
			name:      "timestamp before sanity floor",
			topicID:   "0.0.1234",
			messageID: "1000000000.000000001",
		},
		{
			name:      "short nano part",
			topicID:   "0.0.1234",
			messageID: "1696161234.1",
		},
		{
			name:      "non-numeric message id",
			topicID:   "0.0.1234",
			messageID: "not-a-timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := ResolveAnchor(&Anchor{DocumentTopicID: tt.topicID, DocumentMessageID: tt.messageID})
			if !tt.valid {
				assert.Nil(t, resolved)
				return
			}
			require.NotNil(t, resolved)
			assert.Equal(t, tt.messageID, resolved.MessageID.String())
		})
	}
}

// Validates the dereference window starts one second before the anchored
// message with zeroed nanoseconds
func TestResolveAnchorQueryStart(t *testing.T) {
	resolved := ResolveAnchor(&Anchor{
		DocumentTopicID:   "0.0.1234",
		DocumentMessageID: "1696161234.000000001",
	})
	require.NotNil(t, resolved)
	assert.Equal(t, "1696161233.000000000", resolved.QueryStart.String())
	assert.Equal(t, ledger.Timestamp{Seconds: 1696161233, Nanos: 0}, resolved.QueryStart)
}

// Validates nil anchors resolve to nil
func TestResolveAnchorNil(t *testing.T) {
	assert.Nil(t, ResolveAnchor(nil))
}
