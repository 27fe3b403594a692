// Package subscription implements the per-subscriber intake state machine:
// the lifecycle from "no topic chosen" through schema selection to active
// polling, driven by operator commands and the scheduler tick.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashgraph/guardian-sub018/internal/contentstore"
	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/intake"
	"github.com/hashgraph/guardian-sub018/internal/ledger"
	"github.com/hashgraph/guardian-sub018/internal/schemacheck"
	"github.com/hashgraph/guardian-sub018/internal/state"
	"github.com/hashgraph/guardian-sub018/internal/topology"
)

// Operator command discriminators
const (
	OpSetTopic            = "SetTopic"
	OpVerificationSchema  = "VerificationSchema"
	OpVerificationSchemas = "VerificationSchemas"
	OpSetSchema           = "SetSchema"
	OpLoadDocuments       = "LoadDocuments"
	OpRestart             = "Restart"
)

// Precondition errors surfaced synchronously to the submitting caller.
// The subscription state is unchanged when one of these is returned.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrUnknownSchema    = errors.New("schema is not among the discovered candidates")
)

// Command is one operator command consumed from the hosting workflow's
// submit entry point
type Command struct {
	Operation string `json:"operation"`
	Value     string `json:"value,omitempty"`
}

// Config carries the block options the machine is hosted with
type Config struct {
	WorkflowID string
	BlockID    string

	// Expected schema the workflow requires: candidates are compared
	// against it and forwarded documents must reference it.
	SchemaID  string
	SchemaRef string
}

// Machine owns all subscription records of one hosting block.
// Every mutation goes through its transition functions; the status field
// acts as the per-subscriber advisory lock.
type Machine struct {
	cfg      Config
	repo     state.Repository
	contents contentstore.Store
	walker   *topology.Walker
	pipeline *intake.Pipeline
	notifier intake.StatusNotifier

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewMachine creates the intake state machine for one hosting block
func NewMachine(cfg Config, repo state.Repository, reader ledger.TopicReader, contents contentstore.Store,
	pipeline *intake.Pipeline, notifier intake.StatusNotifier) *Machine {
	return &Machine{
		cfg:      cfg,
		repo:     repo,
		contents: contents,
		walker:   topology.NewWalker(reader),
		pipeline: pipeline,
		notifier: notifier,
	}
}

// Wait blocks until all in-flight asynchronous transitions have completed
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Submit dispatches one operator command for a subscriber. Guard failures
// are returned synchronously and leave the subscription unchanged; the
// transition itself runs asynchronously and reports through the status
// channel, never back to the caller.
func (m *Machine) Submit(ctx context.Context, subscriber string, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key{WorkflowID: m.cfg.WorkflowID, BlockID: m.cfg.BlockID, Subscriber: subscriber}
	sub, err := m.loadOrCreate(ctx, key)
	if err != nil {
		return err
	}

	switch cmd.Operation {
	case OpSetTopic:
		return m.setTopic(ctx, sub, cmd.Value)
	case OpVerificationSchema:
		return m.verificationSchemas(ctx, sub, cmd.Value)
	case OpVerificationSchemas:
		return m.verificationSchemas(ctx, sub, "")
	case OpSetSchema:
		return m.setSchema(ctx, sub, cmd.Value)
	case OpLoadDocuments:
		return m.loadDocuments(ctx, sub)
	case OpRestart:
		return m.restart(ctx, sub)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, cmd.Operation)
	}
}

// View is the operator-facing read of one subscription
type View struct {
	Status          string                  `json:"status"`
	DocumentTopicID string                  `json:"documentTopicId,omitempty"`
	PolicyTopicID   string                  `json:"policyTopicId,omitempty"`
	InstanceTopicID string                  `json:"instanceTopicId,omitempty"`
	Schemas         []state.SchemaCandidate `json:"schemas,omitempty"`
	SelectedSchema  *state.SchemaCandidate  `json:"selectedSchema,omitempty"`
	Active          bool                    `json:"active"`
	LastUpdate      time.Time               `json:"lastUpdate"`
}

// GetData returns the subscription view for one subscriber, creating the
// subscription lazily on first interaction
func (m *Machine) GetData(ctx context.Context, subscriber string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key{WorkflowID: m.cfg.WorkflowID, BlockID: m.cfg.BlockID, Subscriber: subscriber}
	sub, err := m.loadOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}

	return &View{
		Status:          string(sub.Status),
		DocumentTopicID: sub.DocumentTopicID,
		PolicyTopicID:   sub.PolicyTopicID,
		InstanceTopicID: sub.InstanceTopicID,
		Schemas:         sub.Candidates,
		SelectedSchema:  sub.SelectedSchema,
		Active:          sub.Active,
		LastUpdate:      sub.LastUpdate,
	}, nil
}

// Tick is the scheduler entry point: it starts one poll for every active
// subscription that is currently Free. Error subscriptions are never
// auto-retried; they need an explicit Restart.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, err := m.repo.ListSubscriptions(ctx, m.cfg.WorkflowID, m.cfg.BlockID)
	if err != nil {
		log.Printf("❌ Failed to list subscriptions for tick: %v", err)
		return
	}

	for _, sub := range subs {
		if !sub.Active || sub.Status != state.StatusFree {
			continue
		}
		sub.Status = state.StatusProcessing
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			log.Printf("❌ Failed to lock subscription %s for polling: %v", sub.Key, err)
			continue
		}
		m.spawn(sub.Key, m.pollSubscription)
	}
}

// loadOrCreate returns the subscriber's record, creating it in NeedTopic on
// first interaction. Callers must hold m.mu.
func (m *Machine) loadOrCreate(ctx context.Context, key state.Key) (*state.Subscription, error) {
	sub, err := m.repo.GetSubscription(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		sub = &state.Subscription{Key: key, Status: state.StatusNeedTopic}
		if err := m.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// setTopic handles SetTopic: NeedTopic -> Search -> (async) NeedSchema/Error
func (m *Machine) setTopic(ctx context.Context, sub *state.Subscription, value string) error {
	if sub.Status != state.StatusNeedTopic {
		return fmt.Errorf("%w: SetTopic requires %s, current status is %s", ErrInvalidState, state.StatusNeedTopic, sub.Status)
	}
	topicID, err := ledger.ParseTopicID(value)
	if err != nil {
		return err
	}

	sub.Status = state.StatusSearch
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	key := sub.Key
	m.spawn(key, func(key state.Key) {
		m.resolveTopology(key, topicID)
	})
	return nil
}

// verificationSchemas handles VerificationSchema (one id) and
// VerificationSchemas (every NotVerified candidate):
// NeedSchema -> Verification -> (async) NeedSchema
func (m *Machine) verificationSchemas(ctx context.Context, sub *state.Subscription, schemaID string) error {
	if sub.Status != state.StatusNeedSchema {
		return fmt.Errorf("%w: schema verification requires %s, current status is %s", ErrInvalidState, state.StatusNeedSchema, sub.Status)
	}

	var ids []string
	if schemaID != "" {
		if sub.Candidate(schemaID) == nil {
			return fmt.Errorf("%w: %q", ErrUnknownSchema, schemaID)
		}
		ids = []string{schemaID}
	} else {
		for _, candidate := range sub.Candidates {
			if candidate.Compatibility == schemacheck.StatusNotVerified {
				ids = append(ids, candidate.ID)
			}
		}
	}

	sub.Status = state.StatusVerification
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	m.spawn(sub.Key, func(key state.Key) {
		m.verifyCandidates(key, ids)
	})
	return nil
}

// setSchema handles SetSchema: NeedSchema -> Verification -> (async)
// Free (active) or back to NeedSchema. The candidate's compatibility is
// re-verified at selection time; a stale cached verdict is never trusted.
func (m *Machine) setSchema(ctx context.Context, sub *state.Subscription, schemaID string) error {
	if sub.Status != state.StatusNeedSchema {
		return fmt.Errorf("%w: SetSchema requires %s, current status is %s", ErrInvalidState, state.StatusNeedSchema, sub.Status)
	}
	if sub.Candidate(schemaID) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSchema, schemaID)
	}

	sub.Status = state.StatusVerification
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	m.spawn(sub.Key, func(key state.Key) {
		m.selectSchema(key, schemaID)
	})
	return nil
}

// loadDocuments handles the manual poll trigger:
// Free -> Processing -> (async) Free
func (m *Machine) loadDocuments(ctx context.Context, sub *state.Subscription) error {
	if sub.Status != state.StatusFree {
		return fmt.Errorf("%w: LoadDocuments requires %s, current status is %s", ErrInvalidState, state.StatusFree, sub.Status)
	}

	sub.Status = state.StatusProcessing
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	m.spawn(sub.Key, m.pollSubscription)
	return nil
}

// restart clears the subscription back to NeedTopic
func (m *Machine) restart(ctx context.Context, sub *state.Subscription) error {
	switch sub.Status {
	case state.StatusNeedTopic, state.StatusNeedSchema, state.StatusError:
	default:
		return fmt.Errorf("%w: Restart is not allowed while status is %s", ErrInvalidState, sub.Status)
	}

	cleared := &state.Subscription{Key: sub.Key, Status: state.StatusNeedTopic}
	return m.repo.SaveSubscription(ctx, cleared)
}

// spawn runs one asynchronous transition, tracked for Wait
func (m *Machine) spawn(key state.Key, fn func(state.Key)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(key)
	}()
}

// resolveTopology is the async phase of SetTopic
func (m *Machine) resolveTopology(key state.Key, topicID ledger.TopicID) {
	ctx := context.Background()

	topo, err := m.walker.Resolve(ctx, topicID)
	if err != nil {
		log.Printf("❌ Topology resolution failed for %s: %v", key, err)
		m.fail(ctx, key, fmt.Sprintf("topology resolution failed: %v", err))
		return
	}

	candidates := make([]state.SchemaCandidate, 0, len(topo.SchemaMessages))
	for _, schema := range topo.SchemaMessages {
		candidates = append(candidates, state.SchemaCandidate{
			ID:            schema.SchemaID,
			Name:          schema.Name,
			ContentRef:    schema.ContentRef,
			Compatibility: schemacheck.StatusNotVerified,
		})
	}

	m.transition(ctx, key, func(sub *state.Subscription) {
		sub.DocumentTopicID = topo.RootTopic.TopicID.String()
		sub.PolicyTopicID = topo.PolicyTopic.TopicID.String()
		sub.InstanceTopicID = topo.InstanceTopic.TopicID.String()
		sub.Candidates = candidates
		sub.Status = state.StatusNeedSchema
	}, "")
	log.Printf("🔍 Resolved topic %s for %s: %d schema candidate(s)", topicID, key, len(candidates))
}

// verifyCandidates is the async phase of VerificationSchema(s)
func (m *Machine) verifyCandidates(key state.Key, ids []string) {
	ctx := context.Background()

	verdicts, err := m.compareCandidates(ctx, key, ids)
	if err != nil {
		log.Printf("❌ Schema verification failed for %s: %v", key, err)
		m.fail(ctx, key, fmt.Sprintf("schema verification failed: %v", err))
		return
	}

	m.transition(ctx, key, func(sub *state.Subscription) {
		for id, verdict := range verdicts {
			if candidate := sub.Candidate(id); candidate != nil {
				candidate.Compatibility = verdict
			}
		}
		sub.Status = state.StatusNeedSchema
	}, "")
}

// selectSchema is the async phase of SetSchema
func (m *Machine) selectSchema(key state.Key, schemaID string) {
	ctx := context.Background()

	verdicts, err := m.compareCandidates(ctx, key, []string{schemaID})
	if err != nil {
		log.Printf("❌ Schema selection failed for %s: %v", key, err)
		m.fail(ctx, key, fmt.Sprintf("schema selection failed: %v", err))
		return
	}

	verdict := verdicts[schemaID]
	if verdict != schemacheck.StatusCompatible {
		m.transition(ctx, key, func(sub *state.Subscription) {
			if candidate := sub.Candidate(schemaID); candidate != nil {
				candidate.Compatibility = verdict
			}
			sub.Status = state.StatusNeedSchema
		}, fmt.Sprintf("schema %s is not compatible", schemaID))
		return
	}

	m.transition(ctx, key, func(sub *state.Subscription) {
		if candidate := sub.Candidate(schemaID); candidate != nil {
			candidate.Compatibility = verdict
			selected := *candidate
			sub.SelectedSchema = &selected
		}
		sub.SelectedSchemaID = schemaID
		sub.Active = true
		sub.Status = state.StatusFree
	}, "")
	log.Printf("✅ Schema %s selected for %s, subscription active", schemaID, key)
}

// compareCandidates re-verifies the given candidates against the expected
// schema, returning one verdict per candidate id
func (m *Machine) compareCandidates(ctx context.Context, key state.Key, ids []string) (map[string]schemacheck.Status, error) {
	expected, err := m.contents.Fetch(ctx, m.cfg.SchemaRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expected schema %s: %w", m.cfg.SchemaID, err)
	}

	m.mu.Lock()
	sub, err := m.repo.GetSubscription(ctx, key)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	verdicts := make(map[string]schemacheck.Status, len(ids))
	for _, id := range ids {
		candidate := sub.Candidate(id)
		if candidate == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, id)
		}
		body, err := m.contents.Fetch(ctx, candidate.ContentRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candidate schema %s: %w", id, err)
		}
		verdicts[id] = schemacheck.IsCompatible(expected, body)
	}
	return verdicts, nil
}

// pollSubscription is the async phase of LoadDocuments and the scheduler
// tick. Transient poll failures return the subscription to Free so the next
// tick retries from the same cursor.
func (m *Machine) pollSubscription(key state.Key) {
	ctx := context.Background()

	m.mu.Lock()
	sub, err := m.repo.GetSubscription(ctx, key)
	m.mu.Unlock()
	if err != nil {
		log.Printf("❌ Failed to load subscription %s for polling: %v", key, err)
		return
	}

	forwarded, pollErr := m.pipeline.PollSubscription(ctx, sub)
	if pollErr != nil {
		log.Printf("⚠️ Poll aborted for %s after %d forward(s): %v", key, forwarded, pollErr)
	} else if forwarded > 0 {
		log.Printf("📨 Forwarded %d document(s) for %s", forwarded, key)
	}

	m.transition(ctx, key, func(latest *state.Subscription) {
		latest.Status = state.StatusFree
		if pollErr == nil {
			latest.LastUpdate = time.Now().UTC()
		}
	}, "")
}

// transition applies one mutation to the persisted record and pushes the
// resulting status to the operator channel
func (m *Machine) transition(ctx context.Context, key state.Key, fn func(*state.Subscription), reason string) {
	m.mu.Lock()
	sub, err := m.repo.GetSubscription(ctx, key)
	if err == nil {
		fn(sub)
		err = m.repo.SaveSubscription(ctx, sub)
	}
	m.mu.Unlock()

	if err != nil {
		log.Printf("❌ Failed to persist transition for %s: %v", key, err)
		return
	}
	m.pushStatus(ctx, key, string(sub.Status), reason)
}

// fail moves the subscription to Error; recovery needs an explicit Restart
func (m *Machine) fail(ctx context.Context, key state.Key, reason string) {
	m.transition(ctx, key, func(sub *state.Subscription) {
		sub.Status = state.StatusError
	}, reason)
}

// pushStatus notifies the operator channel of a status change
func (m *Machine) pushStatus(ctx context.Context, key state.Key, status, reason string) {
	if m.notifier == nil {
		return
	}
	event := events.StatusChangedEvent{
		WorkflowID:  key.WorkflowID,
		BlockID:     key.BlockID,
		Subscriber:  key.Subscriber,
		Target:      "subscription",
		Status:      status,
		Reason:      reason,
		ChangedDate: time.Now().UTC(),
	}
	if err := m.notifier.PushStatus(ctx, event); err != nil {
		log.Printf("⚠️ Failed to push status for %s: %v", key, err)
	}
}
