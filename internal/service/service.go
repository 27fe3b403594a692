// Package service wires the ingestion subsystem together and drives both
// intake front ends from one periodic scheduler.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/hashgraph/guardian-sub018/internal/config"
	"github.com/hashgraph/guardian-sub018/internal/contentstore"
	"github.com/hashgraph/guardian-sub018/internal/events"
	"github.com/hashgraph/guardian-sub018/internal/intake"
	"github.com/hashgraph/guardian-sub018/internal/ledger"
	"github.com/hashgraph/guardian-sub018/internal/state"
	"github.com/hashgraph/guardian-sub018/internal/streams"
	"github.com/hashgraph/guardian-sub018/internal/subscription"
	"github.com/hashgraph/guardian-sub018/internal/verify"
)

// IngestService hosts the subscription state machine and the global stream
// reader behind one scheduler
type IngestService struct {
	cfg      *config.Config
	repo     *state.SQLiteRepository
	producer intake.Producer
	machine  *subscription.Machine
	streams  *streams.Reader

	stopChannel chan struct{}
}

// NewIngestServiceFromFile constructs the service from a configuration file
// path for simple deployment scenarios
func NewIngestServiceFromFile(configPath string) (*IngestService, error) {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewIngestServiceWithConfig(cfg)
}

// NewIngestServiceWithConfig constructs the service and its production
// collaborators from an existing configuration
func NewIngestServiceWithConfig(cfg *config.Config) (*IngestService, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Brokers,
		"acks":              cfg.Kafka.Producer.Acks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	reader := ledger.NewMirrorClient(cfg.Ledger.MirrorURL, cfg.Ledger.PageLimit, cfg.Ledger.RequestTimeout)

	contents, err := contentstore.NewAzureStore(cfg.Storage.AccountName, cfg.Storage.AccessKey, cfg.Storage.ContainerName)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	verifier := verify.NewClient(cfg.Verifier.URL, cfg.Verifier.RequestTimeout)

	return NewIngestService(cfg, producer, reader, contents, verifier)
}

// NewIngestService constructs the service with dependency injection for
// testing and flexibility
func NewIngestService(cfg *config.Config, producer intake.Producer, reader ledger.TopicReader,
	contents contentstore.Store, verifier verify.Verifier) (*IngestService, error) {
	repo, err := state.OpenSQLite(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state repository: %w", err)
	}

	emitter := &kafkaEmitter{producer: producer, topic: cfg.Kafka.BlockEventsTopic}
	notifier := &kafkaNotifier{producer: producer, topic: cfg.Kafka.StatusTopic}

	pipeline := intake.NewPipeline(reader, contents, verifier, emitter, producer, repo,
		cfg.Kafka.DocumentsTopic, cfg.RelationshipRef)

	machine := subscription.NewMachine(subscription.Config{
		WorkflowID: cfg.WorkflowID,
		BlockID:    cfg.BlockID,
		SchemaID:   cfg.Schema.ID,
		SchemaRef:  cfg.Schema.ContentRef,
	}, repo, reader, contents, pipeline, notifier)

	streamReader := streams.NewReader(streams.Config{
		WorkflowID: cfg.WorkflowID,
		BlockID:    cfg.BlockID,
		SchemaID:   cfg.Schema.ID,
		SchemaRef:  cfg.Schema.ContentRef,
		Window:     cfg.Scheduler.StreamWindow,
	}, repo, reader, pipeline, notifier)

	return &IngestService{
		cfg:         cfg,
		repo:        repo,
		producer:    producer,
		machine:     machine,
		streams:     streamReader,
		stopChannel: make(chan struct{}),
	}, nil
}

// Submit forwards one operator command to the subscription state machine
func (s *IngestService) Submit(ctx context.Context, subscriber string, cmd subscription.Command) error {
	return s.machine.Submit(ctx, subscriber, cmd)
}

// GetData returns the subscription view for one subscriber
func (s *IngestService) GetData(ctx context.Context, subscriber string) (*subscription.View, error) {
	return s.machine.GetData(ctx, subscriber)
}

// SetStreams reconciles the desired global stream set
func (s *IngestService) SetStreams(ctx context.Context, specs []streams.StreamSpec) error {
	return s.streams.SetStreams(ctx, specs)
}

// ListStreams returns the persisted global stream set
func (s *IngestService) ListStreams(ctx context.Context) ([]*state.GlobalStream, error) {
	return s.streams.List(ctx)
}

// Start runs the scheduler loop until the context is cancelled or Stop is
// called. Each tick sequentially drives the subscription front end and then
// the global stream front end; per-key single-flight is guaranteed by the
// status fields, not by this loop.
func (s *IngestService) Start(ctx context.Context) error {
	log.Printf("🚀 Starting ingest service for block %s/%s", s.cfg.WorkflowID, s.cfg.BlockID)
	log.Printf("📡 Kafka: %s -> %s", s.cfg.Kafka.Brokers, s.cfg.Kafka.DocumentsTopic)
	log.Printf("⏱️ Scheduler interval: %v, stream window: %v", s.cfg.Scheduler.Interval, s.cfg.Scheduler.StreamWindow)

	go s.handleKafkaDeliveryReports()

	ticker := time.NewTicker(s.cfg.Scheduler.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Context cancelled, stopping ingest service")
			return ctx.Err()
		case <-s.stopChannel:
			log.Printf("🛑 Ingest service stopped")
			return nil
		case <-ticker.C:
			s.RunTick(ctx)
		}
	}
}

// RunTick drives one scheduler iteration; exported for one-shot runs
func (s *IngestService) RunTick(ctx context.Context) {
	tickStart := time.Now()
	s.machine.Tick(ctx)
	s.streams.Tick(ctx)
	log.Printf("✅ Completed tick in %.1fs", time.Since(tickStart).Seconds())
}

// Stop coordinates graceful shutdown: the scheduler stops re-triggering
// work, in-flight polls run to completion, and pending Kafka messages are
// flushed before the producer closes.
func (s *IngestService) Stop() {
	log.Printf("🔄 Stopping ingest service...")
	close(s.stopChannel)

	s.machine.Wait()

	s.producer.Flush(s.cfg.Kafka.Producer.FlushTimeoutMs)
	s.producer.Close()
	if err := s.repo.Close(); err != nil {
		log.Printf("⚠️ Failed to close state repository: %v", err)
	}
}

// handleKafkaDeliveryReports monitors delivery confirmations to surface
// broker errors
func (s *IngestService) handleKafkaDeliveryReports() {
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.Printf("❌ Kafka delivery failed for key %s: %v", string(ev.Key), ev.TopicPartition.Error)
			}
		case kafka.Error:
			log.Printf("❌ Kafka producer error: %v", ev)
		}
	}
}

// kafkaEmitter publishes hosting-workflow block events to the event bus
type kafkaEmitter struct {
	producer intake.Producer
	topic    string
}

func (e *kafkaEmitter) Emit(ctx context.Context, event intake.BlockEvent) error {
	message := events.BlockEventMessage{
		Kind:       string(event.Kind),
		WorkflowID: event.Key.WorkflowID,
		BlockID:    event.Key.BlockID,
		Subscriber: event.Key.Subscriber,
		EmittedAt:  time.Now().UTC(),
	}
	if event.Record != nil {
		message.RecordID = event.Record.ID
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal block event: %w", err)
	}

	return e.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &e.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Key.String()),
		Value:          payload,
	}, nil)
}

// kafkaNotifier publishes status pushes to the operator channel
type kafkaNotifier struct {
	producer intake.Producer
	topic    string
}

func (n *kafkaNotifier) PushStatus(ctx context.Context, event events.StatusChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	key := fmt.Sprintf("%s:%s:%s", event.WorkflowID, event.BlockID, event.Subscriber)
	return n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
	}, nil)
}
