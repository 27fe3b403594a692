package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/hashgraph/guardian-sub018/internal/contentstore"
	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/ledger"
	"github.com/hashgraph/guardian-sub018/internal/state"
	"github.com/hashgraph/guardian-sub018/internal/vc"
	"github.com/hashgraph/guardian-sub018/internal/verify"
)

// Target describes one intake destination for the verify-and-forward steps.
// OwnerAccount gates the payer check; the global stream front end leaves it
// empty because anchors already pin the exact message.
type Target struct {
	Key          state.Key
	Owner        string
	OwnerAccount string
	SchemaID     string
	SchemaDoc    []byte
	Relationship string
}

// Pipeline implements the document poll-and-verify steps shared by both
// intake front ends
type Pipeline struct {
	reader          ledger.TopicReader
	contents        contentstore.Store
	verifier        verify.Verifier
	emitter         EventEmitter
	producer        Producer
	repo            state.Repository
	documentsTopic  string
	relationshipRef string
}

// NewPipeline creates a poll-and-verify pipeline. relationshipRef optionally
// names an upstream relationship-root document linked into every record.
func NewPipeline(reader ledger.TopicReader, contents contentstore.Store, verifier verify.Verifier,
	emitter EventEmitter, producer Producer, repo state.Repository, documentsTopic, relationshipRef string) *Pipeline {
	return &Pipeline{
		reader:          reader,
		contents:        contents,
		verifier:        verifier,
		emitter:         emitter,
		producer:        producer,
		repo:            repo,
		documentsTopic:  documentsTopic,
		relationshipRef: relationshipRef,
	}
}

// RelationshipRef returns the configured relationship-root ref, if any
func (p *Pipeline) RelationshipRef() string {
	return p.relationshipRef
}

// Schema fetches a schema document by content ref
func (p *Pipeline) Schema(ctx context.Context, ref string) ([]byte, error) {
	return p.contents.Fetch(ctx, ref)
}

// PollSubscription scans the subscription's document topic strictly after
// its cursor, forwarding every verified document and advancing the cursor
// after each forward. The scan is idempotent with respect to the cursor:
// re-polling with no new messages forwards nothing.
//
// A failed message aborts the remaining batch with the cursor left at the
// last success; skip conditions drop single messages without blocking the
// cursor from advancing past them on later successes.
func (p *Pipeline) PollSubscription(ctx context.Context, sub *state.Subscription) (int, error) {
	if sub.SelectedSchema == nil {
		return 0, fmt.Errorf("subscription %s has no selected schema", sub.Key)
	}
	topicID, err := ledger.ParseTopicID(sub.DocumentTopicID)
	if err != nil {
		return 0, fmt.Errorf("subscription %s has malformed document topic: %w", sub.Key, err)
	}

	account, err := p.reader.ResolveAccount(ctx, sub.Key.Subscriber)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve account for %s: %w", sub.Key, err)
	}
	schemaDoc, err := p.contents.Fetch(ctx, sub.SelectedSchema.ContentRef)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch schema %s: %w", sub.SelectedSchemaID, err)
	}

	target := Target{
		Key:          sub.Key,
		Owner:        sub.Key.Subscriber,
		OwnerAccount: account,
		SchemaID:     sub.SelectedSchemaID,
		SchemaDoc:    schemaDoc,
		Relationship: p.relationshipRef,
	}

	messages, err := p.reader.MessagesAfter(ctx, topicID, sub.Cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to read topic %s after cursor %q: %w", topicID, sub.Cursor, err)
	}

	forwarded := 0
	for _, msg := range messages {
		ok, err := p.ProcessMessage(ctx, target, msg)
		if err != nil {
			return forwarded, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		if !ok {
			continue
		}

		// The cursor only moves after the document has been fully verified
		// and forwarded; a crash between forwarding and this persist means
		// redelivery, never loss.
		sub.Cursor = msg.ID
		if err := p.repo.SaveSubscription(ctx, sub); err != nil {
			return forwarded, fmt.Errorf("failed to persist cursor %s: %w", msg.ID, err)
		}
		forwarded++
	}

	return forwarded, nil
}

// ProcessMessage runs the verify-and-forward steps for one ledger message.
// It returns (false, nil) for skip conditions, (true, nil) after a
// successful forward and a non-nil error for failures that must abort the
// caller's batch.
func (p *Pipeline) ProcessMessage(ctx context.Context, target Target, msg ledger.Message) (bool, error) {
	if msg.Type != ledger.PayloadTypeVCDocument {
		return false, nil
	}
	if target.OwnerAccount != "" && msg.Payer != target.OwnerAccount {
		return false, nil
	}

	contents, err := p.reader.Contents(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("failed to fetch contents: %w", err)
	}
	doc, err := vc.ParseDocument(contents)
	if err != nil {
		return false, fmt.Errorf("failed to parse document: %w", err)
	}

	if !doc.HasContext(target.SchemaID) {
		return false, nil
	}

	// Conformance is the cheap check; it short-circuits before the
	// cryptographic proof verification.
	conformant, err := p.verifier.CheckConformance(ctx, doc, target.SchemaDoc)
	if err != nil {
		return false, fmt.Errorf("conformance check failed: %w", err)
	}
	if !conformant {
		log.Printf("⚠️ Dropping message %s for %s: schema conformance failed", msg.ID, target.Key)
		return false, nil
	}
	proven, err := p.verifier.VerifyProof(ctx, doc)
	if err != nil {
		return false, fmt.Errorf("proof verification failed: %w", err)
	}
	if !proven {
		log.Printf("⚠️ Dropping message %s for %s: invalid proof", msg.ID, target.Key)
		return false, nil
	}

	record := p.buildRecord(target, msg, doc)
	if err := p.forwardRecord(ctx, target, record); err != nil {
		return false, err
	}

	log.Printf("✅ Forwarded document %s from message %s for %s", record.ID, msg.ID, target.Key)
	return true, nil
}

// buildRecord constructs the internal document record for a verified message
func (p *Pipeline) buildRecord(target Target, msg ledger.Message, doc *vc.Document) *DocumentRecord {
	record := &DocumentRecord{
		ID:          uuid.NewString(),
		WorkflowID:  target.Key.WorkflowID,
		BlockID:     target.Key.BlockID,
		Owner:       target.Owner,
		SchemaID:    target.SchemaID,
		TopicID:     msg.TopicID.String(),
		MessageID:   msg.ID,
		Document:    doc.Raw(),
		CreatedDate: time.Now().UTC(),
	}
	if target.Relationship != "" {
		record.Relationships = append(record.Relationships, target.Relationship)
	}
	record.Relationships = append(record.Relationships, msg.ID)
	return record
}

// forwardRecord emits the three block events in order and then the
// external-integration notification
func (p *Pipeline) forwardRecord(ctx context.Context, target Target, record *DocumentRecord) error {
	for _, kind := range []EventKind{KindDocumentProduced, KindRelease, KindRefresh} {
		event := BlockEvent{Kind: kind, Key: target.Key, Record: record}
		if err := p.emitter.Emit(ctx, event); err != nil {
			return fmt.Errorf("failed to emit %s event: %w", kind, err)
		}
	}
	return p.publishNotification(target, record)
}

// publishNotification publishes the record to the integration bus
func (p *Pipeline) publishNotification(target Target, record *DocumentRecord) error {
	notification := events.DocumentIngestedEvent{
		WorkflowID:    record.WorkflowID,
		BlockID:       record.BlockID,
		Subscriber:    target.Owner,
		RecordID:      record.ID,
		SchemaID:      record.SchemaID,
		TopicID:       record.TopicID,
		MessageID:     record.MessageID,
		Document:      record.Document,
		Relationships: record.Relationships,
		IngestedDate:  record.CreatedDate,
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal document notification: %w", err)
	}

	key := events.GenerateDocumentEventKey(record.WorkflowID, record.BlockID, target.Owner, record.MessageID)
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.documentsTopic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
	}

	// Nil delivery channel: broker errors surface through the shared
	// delivery report handler.
	if err := p.producer.Produce(message, nil); err != nil {
		return fmt.Errorf("failed to produce document notification: %w", err)
	}
	return nil
}
