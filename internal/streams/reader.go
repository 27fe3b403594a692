package streams

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/intake"
	"github.com/hashgraph/guardian-sub018/internal/ledger"
	"github.com/hashgraph/guardian-sub018/internal/state"
)

// Config carries the block options of the global stream front end
type Config struct {
	WorkflowID string
	BlockID    string

	// Expected schema forwarded documents must reference
	SchemaID  string
	SchemaRef string

	// Window bounds the subscribe-then-collect read per stream per tick
	Window time.Duration
}

// StreamSpec is one desired stream in a SetStreams command
type StreamSpec struct {
	TopicID       string `json:"globalTopicId"`
	OwnerIdentity string `json:"ownerIdentity,omitempty"`
	RoutingHint   string `json:"routingHint,omitempty"`
	Active        *bool  `json:"active,omitempty"`
}

// Reader polls the global anchor topics, dereferencing validated anchors
// through the shared verify-and-forward pipeline
type Reader struct {
	cfg      Config
	repo     state.Repository
	reader   ledger.TopicReader
	pipeline *intake.Pipeline
	notifier intake.StatusNotifier

	mu sync.Mutex
}

// NewReader creates the global stream reader for one hosting block
func NewReader(cfg Config, repo state.Repository, reader ledger.TopicReader,
	pipeline *intake.Pipeline, notifier intake.StatusNotifier) *Reader {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &Reader{
		cfg:      cfg,
		repo:     repo,
		reader:   reader,
		pipeline: pipeline,
		notifier: notifier,
	}
}

// SetStreams reconciles the persisted stream set against the operator's
// desired set: missing streams are created, declared ones are updated and
// reactivated, and streams absent from the payload are deactivated, never
// deleted. Reactivating a declared stream clears a stuck Error status.
func (r *Reader) SetStreams(ctx context.Context, specs []StreamSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.repo.ListStreams(ctx, r.cfg.WorkflowID, r.cfg.BlockID)
	if err != nil {
		return fmt.Errorf("failed to list streams: %w", err)
	}
	byTopic := make(map[string]*state.GlobalStream, len(existing))
	for _, stream := range existing {
		byTopic[stream.TopicID] = stream
	}

	declared := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if _, err := ledger.ParseTopicID(spec.TopicID); err != nil {
			return fmt.Errorf("invalid global topic id %q: %w", spec.TopicID, err)
		}
		declared[spec.TopicID] = true

		active := true
		if spec.Active != nil {
			active = *spec.Active
		}

		stream, ok := byTopic[spec.TopicID]
		if !ok {
			stream = &state.GlobalStream{
				WorkflowID: r.cfg.WorkflowID,
				BlockID:    r.cfg.BlockID,
				TopicID:    spec.TopicID,
				Status:     state.StreamFree,
			}
		}
		stream.OwnerIdentity = spec.OwnerIdentity
		stream.RoutingHint = spec.RoutingHint
		stream.Active = active
		if active && stream.Status == state.StreamError {
			stream.Status = state.StreamFree
		}
		if err := r.repo.SaveStream(ctx, stream); err != nil {
			return err
		}
	}

	for _, stream := range existing {
		if declared[stream.TopicID] || !stream.Active {
			continue
		}
		stream.Active = false
		if err := r.repo.SaveStream(ctx, stream); err != nil {
			return err
		}
		log.Printf("📡 Deactivated global stream %s (absent from declared set)", stream.TopicID)
	}

	return nil
}

// List returns the persisted stream set for the operator query surface
func (r *Reader) List(ctx context.Context) ([]*state.GlobalStream, error) {
	return r.repo.ListStreams(ctx, r.cfg.WorkflowID, r.cfg.BlockID)
}

// Tick processes every active Free stream once, sequentially. Streams in
// Error stay untouched until a SetStreams reactivates them.
func (r *Reader) Tick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams, err := r.repo.ListStreams(ctx, r.cfg.WorkflowID, r.cfg.BlockID)
	if err != nil {
		log.Printf("❌ Failed to list streams for tick: %v", err)
		return
	}

	for _, stream := range streams {
		if !stream.Active || stream.Status != state.StreamFree {
			continue
		}

		stream.Status = state.StreamProcessing
		if err := r.repo.SaveStream(ctx, stream); err != nil {
			log.Printf("❌ Failed to lock stream %s for polling: %v", stream.TopicID, err)
			continue
		}

		pollErr := r.pollStream(ctx, stream)
		if pollErr != nil {
			log.Printf("❌ Stream %s poll failed: %v", stream.TopicID, pollErr)
			stream.Status = state.StreamError
		} else {
			stream.Status = state.StreamFree
			stream.LastUpdate = time.Now().UTC()
		}
		if err := r.repo.SaveStream(ctx, stream); err != nil {
			log.Printf("❌ Failed to unlock stream %s: %v", stream.TopicID, err)
			continue
		}
		if pollErr != nil {
			r.pushStatus(ctx, stream, fmt.Sprintf("stream poll failed: %v", pollErr))
		}
	}
}

// pollStream collects raw anchor messages for one window and dereferences
// each valid anchor. The stream cursor is the raw global-topic message id,
// advanced only after the dereferenced document was forwarded.
func (r *Reader) pollStream(ctx context.Context, stream *state.GlobalStream) error {
	topicID, err := ledger.ParseTopicID(stream.TopicID)
	if err != nil {
		return fmt.Errorf("stream has malformed topic id: %w", err)
	}

	schemaDoc, err := r.pipeline.Schema(ctx, r.cfg.SchemaRef)
	if err != nil {
		return fmt.Errorf("failed to fetch expected schema: %w", err)
	}

	messages, err := r.reader.CollectMessages(ctx, topicID, stream.Cursor, r.cfg.Window)
	if err != nil {
		return fmt.Errorf("failed to collect anchors: %w", err)
	}

	for _, msg := range messages {
		anchor := ParseAnchor(msg.Raw)
		if anchor == nil {
			log.Printf("⚠️ Dropping malformed anchor %s on stream %s", msg.ID, stream.TopicID)
			continue
		}
		resolved := ResolveAnchor(anchor)
		if resolved == nil {
			log.Printf("⚠️ Dropping invalid anchor %s on stream %s", msg.ID, stream.TopicID)
			continue
		}

		forwarded, err := r.dereference(ctx, stream, resolved, schemaDoc)
		if err != nil {
			return fmt.Errorf("anchor %s: %w", msg.ID, err)
		}
		if !forwarded {
			continue
		}

		stream.Cursor = msg.ID
		if err := r.repo.SaveStream(ctx, stream); err != nil {
			return fmt.Errorf("failed to persist cursor %s: %w", msg.ID, err)
		}
	}

	return nil
}

// dereference locates the anchored document message and runs it through the
// shared verify-and-forward steps
func (r *Reader) dereference(ctx context.Context, stream *state.GlobalStream, anchor *ResolvedAnchor, schemaDoc []byte) (bool, error) {
	candidates, err := r.reader.MessagesFrom(ctx, anchor.TopicID, anchor.QueryStart)
	if err != nil {
		return false, fmt.Errorf("failed to query topic %s: %w", anchor.TopicID, err)
	}

	wantID := anchor.MessageID.String()
	var target *ledger.Message
	for i := range candidates {
		if anchor.Hash != "" && candidates[i].Hash == anchor.Hash {
			target = &candidates[i]
			break
		}
		if candidates[i].ID == wantID {
			target = &candidates[i]
			break
		}
	}
	if target == nil {
		log.Printf("⚠️ Anchored message %s not found on topic %s", wantID, anchor.TopicID)
		return false, nil
	}

	owner := anchor.Owner
	if owner == "" {
		owner = stream.OwnerIdentity
	}

	return r.pipeline.ProcessMessage(ctx, intake.Target{
		Key:          state.Key{WorkflowID: stream.WorkflowID, BlockID: stream.BlockID, Subscriber: stream.TopicID},
		Owner:        owner,
		SchemaID:     r.cfg.SchemaID,
		SchemaDoc:    schemaDoc,
		Relationship: r.pipeline.RelationshipRef(),
	}, *target)
}

// pushStatus notifies the operator channel of a stream status change
func (r *Reader) pushStatus(ctx context.Context, stream *state.GlobalStream, reason string) {
	if r.notifier == nil {
		return
	}
	event := events.StatusChangedEvent{
		WorkflowID:  stream.WorkflowID,
		BlockID:     stream.BlockID,
		Subscriber:  stream.TopicID,
		Target:      "stream",
		Status:      string(stream.Status),
		Reason:      reason,
		ChangedDate: time.Now().UTC(),
	}
	if err := r.notifier.PushStatus(ctx, event); err != nil {
		log.Printf("⚠️ Failed to push status for stream %s: %v", stream.TopicID, err)
	}
}
