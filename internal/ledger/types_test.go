package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Validates topic id parsing accepts canonical forms and rejects malformed ones
func TestParseTopicID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected TopicID
		wantErr  bool
	}{
		{
			name:     "canonical topic id",
			input:    "0.0.1234",
			expected: TopicID{Shard: 0, Realm: 0, Num: 1234},
		},
		{
			name:     "non-zero shard and realm",
			input:    "1.2.3",
			expected: TopicID{Shard: 1, Realm: 2, Num: 3},
		},
		{
			name:    "too few segments",
			input:   "0.1234",
			wantErr: true,
		},
		{
			name:    "too many segments",
			input:   "0.0.0.1234",
			wantErr: true,
		},
		{
			name:    "empty segment",
			input:   "0..1234",
			wantErr: true,
		},
		{
			name:    "non-numeric segment",
			input:   "0.0.abc",
			wantErr: true,
		},
		{
			name:    "negative segment",
			input:   "0.0.-5",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topicID, err := ParseTopicID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, topicID)
			assert.Equal(t, tt.input, topicID.String())
		})
	}
}

// Validates consensus timestamp parsing enforces the nine-digit nano part
func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Timestamp
		wantErr  bool
	}{
		{
			name:     "canonical timestamp",
			input:    "1696161234.000000001",
			expected: Timestamp{Seconds: 1696161234, Nanos: 1},
		},
		{
			name:     "zero nanos",
			input:    "1696161234.000000000",
			expected: Timestamp{Seconds: 1696161234, Nanos: 0},
		},
		{
			name:    "short nano part",
			input:   "1696161234.123",
			wantErr: true,
		},
		{
			name:    "long nano part",
			input:   "1696161234.0000000001",
			wantErr: true,
		},
		{
			name:    "missing nano part",
			input:   "1696161234",
			wantErr: true,
		},
		{
			name:    "non-numeric seconds",
			input:   "abc.000000001",
			wantErr: true,
		},
		{
			name:    "negative seconds",
			input:   "-5.000000001",
			wantErr: true,
		},
		{
			name:    "three segments",
			input:   "1.2.000000003",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ts)
			assert.Equal(t, tt.input, ts.String())
		})
	}
}

// Validates timestamp ordering compares seconds before nanos
func TestTimestampBefore(t *testing.T) {
	assert.True(t, Timestamp{Seconds: 1, Nanos: 999999999}.Before(Timestamp{Seconds: 2, Nanos: 0}))
	assert.True(t, Timestamp{Seconds: 1, Nanos: 1}.Before(Timestamp{Seconds: 1, Nanos: 2}))
	assert.False(t, Timestamp{Seconds: 1, Nanos: 2}.Before(Timestamp{Seconds: 1, Nanos: 2}))
	assert.False(t, Timestamp{Seconds: 2, Nanos: 0}.Before(Timestamp{Seconds: 1, Nanos: 999999999}))
}

// Validates payload type extraction tolerates malformed payloads
func TestParsePayloadType(t *testing.T) {
	assert.Equal(t, "VC-Document", ParsePayloadType([]byte(`{"type":"VC-Document","cid":"x"}`)))
	assert.Equal(t, "", ParsePayloadType([]byte(`{"cid":"x"}`)))
	assert.Equal(t, "", ParsePayloadType([]byte(`not json`)))
	assert.Equal(t, "", ParsePayloadType(nil))
}
