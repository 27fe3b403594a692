package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/intake"
	"github.com/hashgraph/guardian-sub018/internal/ledger"
	"github.com/hashgraph/guardian-sub018/internal/state"
	"github.com/hashgraph/guardian-sub018/internal/vc"
)

const (
	testSchemaID  = "ipfs://schema-ctx"
	testSchemaRef = "ipfs://expected-schema"
	globalTopic   = "0.0.7000"
	documentTopic = "0.0.1234"
)

// fakeLedger serves canned topic messages
type fakeLedger struct {
	messages map[string][]ledger.Message
}

func (f *fakeLedger) TopicDescriptor(ctx context.Context, id ledger.TopicID) (*ledger.TopicDescriptor, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeLedger) Messages(ctx context.Context, id ledger.TopicID) ([]ledger.Message, error) {
	return f.messages[id.String()], nil
}

func (f *fakeLedger) MessagesAfter(ctx context.Context, id ledger.TopicID, cursor string) ([]ledger.Message, error) {
	all := f.messages[id.String()]
	if cursor == "" {
		return all, nil
	}
	for i, msg := range all {
		if msg.ID == cursor {
			return all[i+1:], nil
		}
	}
	return all, nil
}

func (f *fakeLedger) MessagesFrom(ctx context.Context, id ledger.TopicID, start ledger.Timestamp) ([]ledger.Message, error) {
	var out []ledger.Message
	for _, msg := range f.messages[id.String()] {
		ts, err := ledger.ParseTimestamp(msg.ID)
		if err != nil {
			continue
		}
		if !ts.Before(start) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeLedger) CollectMessages(ctx context.Context, id ledger.TopicID, cursor string, window time.Duration) ([]ledger.Message, error) {
	return f.MessagesAfter(ctx, id, cursor)
}

func (f *fakeLedger) Contents(ctx context.Context, msg ledger.Message) ([]byte, error) {
	return msg.Raw, nil
}

func (f *fakeLedger) ResolveAccount(ctx context.Context, identity string) (string, error) {
	return "", nil
}

// fakeStore serves schema documents by content ref
type fakeStore struct {
	blobs map[string][]byte
}

func (f *fakeStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	body, ok := f.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", ref)
	}
	return body, nil
}

// fakeVerifier accepts every document unless told to fail
type fakeVerifier struct {
	failOn string
}

func (f *fakeVerifier) CheckConformance(ctx context.Context, doc *vc.Document, schemaDoc []byte) (bool, error) {
	if f.failOn != "" && f.failOn == doc.ID {
		return false, fmt.Errorf("verification service unreachable")
	}
	return true, nil
}

func (f *fakeVerifier) VerifyProof(ctx context.Context, doc *vc.Document) (bool, error) {
	return true, nil
}

// nullEmitter drops block events
type nullEmitter struct{}

func (nullEmitter) Emit(ctx context.Context, event intake.BlockEvent) error { return nil }

// MockProducer is a simple mock for testing
type MockProducer struct {
	messages [][]byte
	events   chan kafka.Event
}

func NewMockProducer() *MockProducer {
	return &MockProducer{events: make(chan kafka.Event, 100)}
}

func (m *MockProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	m.messages = append(m.messages, msg.Value)
	return nil
}

func (m *MockProducer) Events() chan kafka.Event { return m.events }

func (m *MockProducer) Flush(timeoutMs int) int { return 0 }

func (m *MockProducer) Close() {}

// recordingNotifier captures status pushes
type recordingNotifier struct {
	pushed []events.StatusChangedEvent
}

func (r *recordingNotifier) PushStatus(ctx context.Context, event events.StatusChangedEvent) error {
	r.pushed = append(r.pushed, event)
	return nil
}

// memoryRepo is an in-memory state repository
type memoryRepo struct {
	subscriptions map[string]state.Subscription
	streams       map[string]state.GlobalStream
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		subscriptions: make(map[string]state.Subscription),
		streams:       make(map[string]state.GlobalStream),
	}
}

func (m *memoryRepo) GetSubscription(ctx context.Context, key state.Key) (*state.Subscription, error) {
	sub, ok := m.subscriptions[key.String()]
	if !ok {
		return nil, state.ErrNotFound
	}
	copied := sub
	return &copied, nil
}

func (m *memoryRepo) SaveSubscription(ctx context.Context, sub *state.Subscription) error {
	m.subscriptions[sub.Key.String()] = *sub
	return nil
}

func (m *memoryRepo) ListSubscriptions(ctx context.Context, workflowID, blockID string) ([]*state.Subscription, error) {
	return nil, nil
}

func (m *memoryRepo) GetStream(ctx context.Context, workflowID, blockID, topicID string) (*state.GlobalStream, error) {
	stream, ok := m.streams[workflowID+":"+blockID+":"+topicID]
	if !ok {
		return nil, state.ErrNotFound
	}
	copied := stream
	return &copied, nil
}

func (m *memoryRepo) SaveStream(ctx context.Context, stream *state.GlobalStream) error {
	m.streams[stream.WorkflowID+":"+stream.BlockID+":"+stream.TopicID] = *stream
	return nil
}

func (m *memoryRepo) ListStreams(ctx context.Context, workflowID, blockID string) ([]*state.GlobalStream, error) {
	var out []*state.GlobalStream
	for _, stream := range m.streams {
		if stream.WorkflowID == workflowID && stream.BlockID == blockID {
			copied := stream
			out = append(out, &copied)
		}
	}
	return out, nil
}

func anchorPayload(topicID, messageID, hash, owner string) []byte {
	payload, _ := json.Marshal(Anchor{
		DocumentTopicID:   topicID,
		DocumentMessageID: messageID,
		Hash:              hash,
		Owner:             owner,
	})
	return payload
}

func signedDocument(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"@context": [%q],
		"id": %q,
		"credentialSubject": {"field0": 1},
		"proof": {"type": "Ed25519Signature2018"}
	}`, testSchemaID, id))
}

type readerFixture struct {
	reader   *Reader
	ledger   *fakeLedger
	verifier *fakeVerifier
	producer *MockProducer
	repo     *memoryRepo
	notifier *recordingNotifier
}

func newReaderFixture(t *testing.T) *readerFixture {
	t.Helper()

	fake := &fakeLedger{messages: map[string][]ledger.Message{
		documentTopic: {
			{
				ID:      "1696161234.000000001",
				TopicID: ledger.TopicID{Num: 1234},
				Type:    ledger.PayloadTypeVCDocument,
				Hash:    "hash-1",
				Raw:     signedDocument("doc-1"),
			},
		},
		globalTopic: {
			{ID: "1700000000.000000001", TopicID: ledger.TopicID{Num: 7000}, Raw: anchorPayload(documentTopic, "1696161234.000000001", "", "did:anchor-owner")},
		},
	}}
	store := &fakeStore{blobs: map[string][]byte{
		testSchemaRef: []byte(`{"properties": {"field0": {"type": "number"}}}`),
	}}
	verifier := &fakeVerifier{}
	producer := NewMockProducer()
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}

	pipeline := intake.NewPipeline(fake, store, verifier, nullEmitter{}, producer, repo, "PolicyIngest.Documents", "")

	reader := NewReader(Config{
		WorkflowID: "wf-1",
		BlockID:    "block-1",
		SchemaID:   testSchemaID,
		SchemaRef:  testSchemaRef,
		Window:     time.Second,
	}, repo, fake, pipeline, notifier)

	return &readerFixture{reader: reader, ledger: fake, verifier: verifier, producer: producer, repo: repo, notifier: notifier}
}

func activeStream(t *testing.T, f *readerFixture, topicID, ownerIdentity string) {
	t.Helper()
	require.NoError(t, f.repo.SaveStream(context.Background(), &state.GlobalStream{
		WorkflowID:    "wf-1",
		BlockID:       "block-1",
		TopicID:       topicID,
		OwnerIdentity: ownerIdentity,
		Active:        true,
		Status:        state.StreamFree,
	}))
}

// Validates reconciliation creates, updates and deactivates streams
func TestSetStreamsReconciliation(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reader.SetStreams(ctx, []StreamSpec{
		{TopicID: "0.0.7000", OwnerIdentity: "did:a"},
		{TopicID: "0.0.7001", RoutingHint: "partner-b"},
	}))

	streams, err := f.reader.List(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	for _, stream := range streams {
		assert.True(t, stream.Active)
		assert.Equal(t, state.StreamFree, stream.Status)
	}

	// Redeclare only one stream: the other is deactivated but kept.
	require.NoError(t, f.reader.SetStreams(ctx, []StreamSpec{
		{TopicID: "0.0.7000", OwnerIdentity: "did:changed"},
	}))

	kept, err := f.repo.GetStream(ctx, "wf-1", "block-1", "0.0.7000")
	require.NoError(t, err)
	assert.True(t, kept.Active)
	assert.Equal(t, "did:changed", kept.OwnerIdentity)

	dropped, err := f.repo.GetStream(ctx, "wf-1", "block-1", "0.0.7001")
	require.NoError(t, err)
	assert.False(t, dropped.Active)
}

// Validates redeclaring a failed stream clears its error state
func TestSetStreamsReactivatesErrorStream(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.SaveStream(ctx, &state.GlobalStream{
		WorkflowID: "wf-1", BlockID: "block-1", TopicID: "0.0.7000",
		Active: true, Status: state.StreamError, Cursor: "1699.000000001",
	}))

	require.NoError(t, f.reader.SetStreams(ctx, []StreamSpec{{TopicID: "0.0.7000"}}))

	stream, err := f.repo.GetStream(ctx, "wf-1", "block-1", "0.0.7000")
	require.NoError(t, err)
	assert.Equal(t, state.StreamFree, stream.Status)
	assert.Equal(t, "1699.000000001", stream.Cursor)
}

// Validates malformed topic ids are rejected before any write
func TestSetStreamsRejectsMalformedTopic(t *testing.T) {
	f := newReaderFixture(t)

	err := f.reader.SetStreams(context.Background(), []StreamSpec{{TopicID: "seven-thousand"}})
	require.Error(t, err)

	streams, listErr := f.reader.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, streams)
}

// Validates explicit inactive declarations are honored
func TestSetStreamsExplicitInactive(t *testing.T) {
	f := newReaderFixture(t)
	inactive := false

	require.NoError(t, f.reader.SetStreams(context.Background(), []StreamSpec{
		{TopicID: "0.0.7000", Active: &inactive},
	}))

	stream, err := f.repo.GetStream(context.Background(), "wf-1", "block-1", "0.0.7000")
	require.NoError(t, err)
	assert.False(t, stream.Active)
}

// Validates a tick dereferences anchors and forwards the pointed documents
func TestTickDereferencesAnchors(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	stream, err := f.repo.GetStream(ctx, "wf-1", "block-1", globalTopic)
	require.NoError(t, err)
	assert.Equal(t, state.StreamFree, stream.Status)
	assert.Equal(t, "1700000000.000000001", stream.Cursor)
	assert.False(t, stream.LastUpdate.IsZero())

	require.Len(t, f.producer.messages, 1)
	var notification events.DocumentIngestedEvent
	require.NoError(t, json.Unmarshal(f.producer.messages[0], &notification))
	// The anchor's owner wins over the stream's configured identity.
	assert.Equal(t, "did:anchor-owner", notification.Subscriber)
	assert.Equal(t, "1696161234.000000001", notification.MessageID)

	// Re-ticking from the advanced cursor forwards nothing new.
	f.reader.Tick(ctx)
	assert.Len(t, f.producer.messages, 1)
}

// Validates the stream identity is used when the anchor names no owner
func TestTickFallsBackToStreamOwner(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	f.ledger.messages[globalTopic] = []ledger.Message{
		{ID: "1700000000.000000001", Raw: anchorPayload(documentTopic, "1696161234.000000001", "", "")},
	}
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	require.Len(t, f.producer.messages, 1)
	var notification events.DocumentIngestedEvent
	require.NoError(t, json.Unmarshal(f.producer.messages[0], &notification))
	assert.Equal(t, "did:stream-owner", notification.Subscriber)
}

// Validates anchors can pin their document by content hash
func TestTickMatchesAnchorByHash(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	// Message id in the anchor is wrong, the hash is right.
	f.ledger.messages[globalTopic] = []ledger.Message{
		{ID: "1700000000.000000001", Raw: anchorPayload(documentTopic, "1696161234.000000999", "hash-1", "")},
	}
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	assert.Len(t, f.producer.messages, 1)
}

// Validates malformed and out-of-bounds anchors are dropped without
// blocking the stream
func TestTickDropsInvalidAnchors(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	f.ledger.messages[globalTopic] = []ledger.Message{
		{ID: "1700000000.000000001", Raw: []byte(`garbage`)},
		{ID: "1700000000.000000002", Raw: anchorPayload("0.0.0", "1696161234.000000001", "", "")},
		{ID: "1700000000.000000003", Raw: anchorPayload(documentTopic, "1696161234.000000001", "", "")},
	}
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	stream, err := f.repo.GetStream(ctx, "wf-1", "block-1", globalTopic)
	require.NoError(t, err)
	assert.Equal(t, state.StreamFree, stream.Status)
	assert.Equal(t, "1700000000.000000003", stream.Cursor)
	assert.Len(t, f.producer.messages, 1)
}

// Validates anchors pointing at absent messages are skipped
func TestTickSkipsUnresolvableAnchor(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	f.ledger.messages[globalTopic] = []ledger.Message{
		{ID: "1700000000.000000001", Raw: anchorPayload(documentTopic, "1696169999.000000001", "", "")},
	}
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	stream, err := f.repo.GetStream(ctx, "wf-1", "block-1", globalTopic)
	require.NoError(t, err)
	assert.Equal(t, state.StreamFree, stream.Status)
	assert.Equal(t, "", stream.Cursor)
	assert.Empty(t, f.producer.messages)
}

// Validates dereference failures park the stream in the error state
func TestTickFailureMovesStreamToError(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	f.verifier.failOn = "doc-1"
	activeStream(t, f, globalTopic, "did:stream-owner")

	f.reader.Tick(ctx)

	stream, err := f.repo.GetStream(ctx, "wf-1", "block-1", globalTopic)
	require.NoError(t, err)
	assert.Equal(t, state.StreamError, stream.Status)
	assert.Equal(t, "", stream.Cursor)

	require.NotEmpty(t, f.notifier.pushed)
	last := f.notifier.pushed[len(f.notifier.pushed)-1]
	assert.Equal(t, "stream", last.Target)
	assert.Equal(t, string(state.StreamError), last.Status)

	// Error streams are skipped until explicitly redeclared.
	f.reader.Tick(ctx)
	assert.Empty(t, f.producer.messages)
}

// Validates inactive streams are never polled
func TestTickSkipsInactiveStreams(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveStream(ctx, &state.GlobalStream{
		WorkflowID: "wf-1", BlockID: "block-1", TopicID: globalTopic,
		Active: false, Status: state.StreamFree,
	}))

	f.reader.Tick(ctx)

	assert.Empty(t, f.producer.messages)
}
