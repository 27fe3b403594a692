package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Topic message types declared by topic descriptor messages
const (
	TopicTypePolicy         = "PolicyTopic"
	TopicTypeInstancePolicy = "InstancePolicyTopic"
	TopicTypeDynamic        = "DynamicTopic"
)

// Payload type discriminators carried in the "type" field of message payloads
const (
	PayloadTypeTopic      = "Topic"
	PayloadTypePolicy     = "Policy"
	PayloadTypeSchema     = "Schema"
	PayloadTypeVCDocument = "VC-Document"
)

// TopicID identifies an append-only topic on the ledger in shard.realm.num form
type TopicID struct {
	Shard int64
	Realm int64
	Num   int64
}

// ParseTopicID parses a dotted "shard.realm.num" topic identifier.
// All three segments must be non-negative decimal integers.
func ParseTopicID(s string) (TopicID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TopicID{}, fmt.Errorf("invalid topic id %q: expected shard.realm.num", s)
	}

	var segments [3]int64
	for i, part := range parts {
		if part == "" || !isAllDigits(part) {
			return TopicID{}, fmt.Errorf("invalid topic id %q: segment %q is not a decimal number", s, part)
		}
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return TopicID{}, fmt.Errorf("invalid topic id %q: %w", s, err)
		}
		segments[i] = value
	}

	return TopicID{Shard: segments[0], Realm: segments[1], Num: segments[2]}, nil
}

// String returns the canonical shard.realm.num form
func (t TopicID) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Shard, t.Realm, t.Num)
}

// IsZero reports whether the topic id is the zero value
func (t TopicID) IsZero() bool {
	return t.Shard == 0 && t.Realm == 0 && t.Num == 0
}

// Timestamp is a consensus timestamp identifying a message within a topic.
// The wire form is "<seconds>.<nanos>" with exactly nine nanosecond digits.
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

// ParseTimestamp parses a strict two-part dotted consensus timestamp.
// Both parts must be all digits and the nanosecond part must be exactly
// nine digits long; anything else is rejected.
func ParseTimestamp(s string) (Timestamp, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: expected seconds.nanos", s)
	}

	secondsPart, nanosPart := parts[0], parts[1]
	if secondsPart == "" || !isAllDigits(secondsPart) {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: seconds part is not a decimal number", s)
	}
	if len(nanosPart) != 9 || !isAllDigits(nanosPart) {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: nanos part must be exactly 9 digits", s)
	}

	seconds, err := strconv.ParseInt(secondsPart, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	return Timestamp{Seconds: seconds, Nanos: nanos}, nil
}

// String returns the canonical "<seconds>.<nanos>" form with nine nano digits
func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", ts.Seconds, ts.Nanos)
}

// Before reports whether ts is strictly earlier than other
func (ts Timestamp) Before(other Timestamp) bool {
	if ts.Seconds != other.Seconds {
		return ts.Seconds < other.Seconds
	}
	return ts.Nanos < other.Nanos
}

// Message is a single entry of a topic as returned by the ledger reader.
// Raw holds the inline payload for small messages (topic descriptors,
// schema/policy publishes, stream anchors); large payloads such as signed
// documents are dereferenced separately through Contents.
type Message struct {
	ID      string
	TopicID TopicID
	Payer   string
	Type    string
	Hash    string
	Raw     []byte
}

// TopicDescriptor is the first message of a topic, declaring what the topic
// carries and its position in the parent-topic chain.
type TopicDescriptor struct {
	TopicID     TopicID
	MessageType string `json:"messageType"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	ParentID    string `json:"parentId,omitempty"`
}

// PolicyMessage is a policy-publish entry on a policy topic
type PolicyMessage struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	InstanceTopicID string `json:"instanceTopicId"`
	ContentRef      string `json:"cid"`
}

// SchemaMessage is a schema-publish entry on a policy topic
type SchemaMessage struct {
	Type       string `json:"type"`
	SchemaID   string `json:"schemaId"`
	Name       string `json:"name"`
	ContentRef string `json:"cid"`
}

// envelopeHeader is the minimal shape shared by all message payloads
type envelopeHeader struct {
	Type string `json:"type"`
	Hash string `json:"hash,omitempty"`
}

// ParsePayloadType extracts the "type" discriminator from a raw message
// payload. Returns an empty string when the payload is not a JSON object or
// carries no discriminator.
func ParsePayloadType(raw []byte) string {
	var header envelopeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return ""
	}
	return header.Type
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
