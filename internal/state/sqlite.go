package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRepository implements Repository on a local SQLite database.
// SQLite supports a single writer, so the connection pool is pinned to one
// connection and WAL mode keeps reads available during writes.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite creates or opens the state database at the given path
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply state schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// GetSubscription loads one subscription record
func (r *SQLiteRepository) GetSubscription(ctx context.Context, key Key) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT status, document_topic_id, policy_topic_id, instance_topic_id,
		       candidates, selected_schema_id, selected_schema, active, cursor, last_update
		FROM subscriptions
		WHERE workflow_id = ? AND block_id = ? AND subscriber = ?
	`, key.WorkflowID, key.BlockID, key.Subscriber)

	sub := Subscription{Key: key}
	var candidates string
	var selected sql.NullString
	var active int
	var lastUpdate int64

	err := row.Scan(&sub.Status, &sub.DocumentTopicID, &sub.PolicyTopicID, &sub.InstanceTopicID,
		&candidates, &sub.SelectedSchemaID, &selected, &active, &sub.Cursor, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(candidates), &sub.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates for %s: %w", key, err)
	}
	if selected.Valid && selected.String != "" {
		var schema SchemaCandidate
		if err := json.Unmarshal([]byte(selected.String), &schema); err != nil {
			return nil, fmt.Errorf("failed to decode selected schema for %s: %w", key, err)
		}
		sub.SelectedSchema = &schema
	}
	sub.Active = active != 0
	if lastUpdate > 0 {
		sub.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	}
	return &sub, nil
}

// SaveSubscription upserts one subscription record
func (r *SQLiteRepository) SaveSubscription(ctx context.Context, sub *Subscription) error {
	candidates, err := json.Marshal(sub.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates for %s: %w", sub.Key, err)
	}
	var selected sql.NullString
	if sub.SelectedSchema != nil {
		encoded, err := json.Marshal(sub.SelectedSchema)
		if err != nil {
			return fmt.Errorf("failed to encode selected schema for %s: %w", sub.Key, err)
		}
		selected = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			workflow_id, block_id, subscriber, status, document_topic_id, policy_topic_id,
			instance_topic_id, candidates, selected_schema_id, selected_schema, active, cursor, last_update
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, block_id, subscriber) DO UPDATE SET
			status = excluded.status,
			document_topic_id = excluded.document_topic_id,
			policy_topic_id = excluded.policy_topic_id,
			instance_topic_id = excluded.instance_topic_id,
			candidates = excluded.candidates,
			selected_schema_id = excluded.selected_schema_id,
			selected_schema = excluded.selected_schema,
			active = excluded.active,
			cursor = excluded.cursor,
			last_update = excluded.last_update
	`, sub.Key.WorkflowID, sub.Key.BlockID, sub.Key.Subscriber, string(sub.Status),
		sub.DocumentTopicID, sub.PolicyTopicID, sub.InstanceTopicID, string(candidates),
		sub.SelectedSchemaID, selected, boolToInt(sub.Active), sub.Cursor, unixOrZero(sub.LastUpdate))
	if err != nil {
		return fmt.Errorf("failed to save subscription %s: %w", sub.Key, err)
	}
	return nil
}

// ListSubscriptions returns all subscriptions of one hosting block
func (r *SQLiteRepository) ListSubscriptions(ctx context.Context, workflowID, blockID string) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subscriber
		FROM subscriptions
		WHERE workflow_id = ? AND block_id = ?
		ORDER BY subscriber ASC
	`, workflowID, blockID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subscribers []string
	for rows.Next() {
		var subscriber string
		if err := rows.Scan(&subscriber); err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subscribers = append(subscribers, subscriber)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	subscriptions := make([]*Subscription, 0, len(subscribers))
	for _, subscriber := range subscribers {
		sub, err := r.GetSubscription(ctx, Key{WorkflowID: workflowID, BlockID: blockID, Subscriber: subscriber})
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, nil
}

// GetStream loads one global stream record
func (r *SQLiteRepository) GetStream(ctx context.Context, workflowID, blockID, topicID string) (*GlobalStream, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_identity, routing_hint, cursor, active, status, last_update
		FROM streams
		WHERE workflow_id = ? AND block_id = ? AND topic_id = ?
	`, workflowID, blockID, topicID)

	stream := GlobalStream{WorkflowID: workflowID, BlockID: blockID, TopicID: topicID}
	var active int
	var lastUpdate int64

	err := row.Scan(&stream.OwnerIdentity, &stream.RoutingHint, &stream.Cursor, &active, &stream.Status, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stream %s/%s/%s: %w", workflowID, blockID, topicID, err)
	}

	stream.Active = active != 0
	if lastUpdate > 0 {
		stream.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	}
	return &stream, nil
}

// SaveStream upserts one global stream record
func (r *SQLiteRepository) SaveStream(ctx context.Context, stream *GlobalStream) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO streams (
			workflow_id, block_id, topic_id, owner_identity, routing_hint, cursor, active, status, last_update
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, block_id, topic_id) DO UPDATE SET
			owner_identity = excluded.owner_identity,
			routing_hint = excluded.routing_hint,
			cursor = excluded.cursor,
			active = excluded.active,
			status = excluded.status,
			last_update = excluded.last_update
	`, stream.WorkflowID, stream.BlockID, stream.TopicID, stream.OwnerIdentity, stream.RoutingHint,
		stream.Cursor, boolToInt(stream.Active), string(stream.Status), unixOrZero(stream.LastUpdate))
	if err != nil {
		return fmt.Errorf("failed to save stream %s/%s/%s: %w", stream.WorkflowID, stream.BlockID, stream.TopicID, err)
	}
	return nil
}

// ListStreams returns all global streams of one hosting block
func (r *SQLiteRepository) ListStreams(ctx context.Context, workflowID, blockID string) ([]*GlobalStream, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT topic_id, owner_identity, routing_hint, cursor, active, status, last_update
		FROM streams
		WHERE workflow_id = ? AND block_id = ?
		ORDER BY topic_id ASC
	`, workflowID, blockID)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []*GlobalStream
	for rows.Next() {
		stream := GlobalStream{WorkflowID: workflowID, BlockID: blockID}
		var active int
		var lastUpdate int64
		if err := rows.Scan(&stream.TopicID, &stream.OwnerIdentity, &stream.RoutingHint,
			&stream.Cursor, &active, &stream.Status, &lastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan stream row: %w", err)
		}
		stream.Active = active != 0
		if lastUpdate > 0 {
			stream.LastUpdate = time.Unix(lastUpdate, 0).UTC()
		}
		streams = append(streams, &stream)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	return streams, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
