package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the ingestion worker configuration
type Config struct {
	// Hosting block identity: all persisted records are addressed under it
	WorkflowID string `yaml:"workflow_id" env:"WORKFLOW_ID"`
	BlockID    string `yaml:"block_id" env:"BLOCK_ID"`

	// Expected schema the workflow requires
	Schema SchemaConfig `yaml:"schema"`

	// Optional relationship-root document linked into produced records
	RelationshipRef string `yaml:"relationship_ref" env:"RELATIONSHIP_REF"`

	// Ledger mirror node access
	Ledger LedgerConfig `yaml:"ledger"`

	// Content store holding schema documents
	Storage StorageConfig `yaml:"storage"`

	// Verification service
	Verifier VerifierConfig `yaml:"verifier"`

	// Local state database
	State StateConfig `yaml:"state"`

	// Kafka configuration
	Kafka KafkaConfig `yaml:"kafka"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configuration
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" default:"info"`
}

// SchemaConfig names the expected schema of the hosting block
type SchemaConfig struct {
	ID         string `yaml:"id" env:"SCHEMA_ID"`
	ContentRef string `yaml:"content_ref" env:"SCHEMA_CONTENT_REF"`
}

// LedgerConfig contains mirror node settings
type LedgerConfig struct {
	MirrorURL string `yaml:"mirror_url" env:"LEDGER_MIRROR_URL" default:"http://localhost:5551"`

	// Messages requested per listing page
	PageLimit int `yaml:"page_limit" env:"LEDGER_PAGE_LIMIT" default:"100"`

	// Per-request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LEDGER_REQUEST_TIMEOUT" default:"30s"`
}

// StorageConfig contains content store settings
type StorageConfig struct {
	AccountName   string `yaml:"account_name" env:"STORAGE_ACCOUNT_NAME"`
	AccessKey     string `yaml:"access_key" env:"STORAGE_ACCESS_KEY"`
	ContainerName string `yaml:"container_name" env:"STORAGE_CONTAINER_NAME" default:"schemas"`
}

// VerifierConfig contains verification service settings
type VerifierConfig struct {
	URL            string        `yaml:"url" env:"VERIFIER_URL" default:"http://localhost:8090"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"VERIFIER_REQUEST_TIMEOUT" default:"30s"`
}

// StateConfig contains the local state database settings
type StateConfig struct {
	Path string `yaml:"path" env:"STATE_PATH" default:"ingest-state.db"`
}

// KafkaConfig contains Kafka connection settings
type KafkaConfig struct {
	Brokers string `yaml:"brokers" env:"KAFKA_BROKERS" default:"localhost:9092"`

	// Topic for forwarded document notifications
	DocumentsTopic string `yaml:"documents_topic" env:"KAFKA_DOCUMENTS_TOPIC" default:"PolicyIngest.Documents"`

	// Topic for hosting-workflow block events
	BlockEventsTopic string `yaml:"block_events_topic" env:"KAFKA_BLOCK_EVENTS_TOPIC" default:"PolicyIngest.BlockEvents"`

	// Topic for operator status pushes
	StatusTopic string `yaml:"status_topic" env:"KAFKA_STATUS_TOPIC" default:"PolicyIngest.Status"`

	// Producer configuration
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig contains Kafka producer settings
type ProducerConfig struct {
	Acks           string `yaml:"acks" env:"KAFKA_PRODUCER_ACKS" default:"all"`
	FlushTimeoutMs int    `yaml:"flush_timeout_ms" env:"KAFKA_PRODUCER_FLUSH_TIMEOUT_MS" default:"30000"`
}

// SchedulerConfig contains the periodic scheduler settings
type SchedulerConfig struct {
	// Interval between ticks driving both intake front ends
	Interval time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" default:"60s"`

	// Collection window per global stream per tick
	StreamWindow time.Duration `yaml:"stream_window" env:"SCHEDULER_STREAM_WINDOW" default:"10s"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if c.BlockID == "" {
		return fmt.Errorf("block_id is required")
	}
	if c.Schema.ID == "" {
		return fmt.Errorf("schema id is required")
	}
	if c.Schema.ContentRef == "" {
		return fmt.Errorf("schema content_ref is required")
	}
	if c.Ledger.MirrorURL == "" {
		return fmt.Errorf("ledger mirror_url is required")
	}
	if c.Ledger.PageLimit <= 0 {
		return fmt.Errorf("ledger page_limit must be positive")
	}
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Kafka.DocumentsTopic == "" {
		return fmt.Errorf("documents_topic is required")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state path is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if c.Scheduler.StreamWindow <= 0 {
		return fmt.Errorf("scheduler stream_window must be positive")
	}
	return nil
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables with
// defaults
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		WorkflowID:      os.Getenv("WORKFLOW_ID"),
		BlockID:         os.Getenv("BLOCK_ID"),
		RelationshipRef: os.Getenv("RELATIONSHIP_REF"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Schema: SchemaConfig{
			ID:         os.Getenv("SCHEMA_ID"),
			ContentRef: os.Getenv("SCHEMA_CONTENT_REF"),
		},
		Ledger: LedgerConfig{
			MirrorURL:      getEnv("LEDGER_MIRROR_URL", "http://localhost:5551"),
			PageLimit:      parseIntEnv("LEDGER_PAGE_LIMIT", 100),
			RequestTimeout: parseDurationEnv("LEDGER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			AccountName:   os.Getenv("STORAGE_ACCOUNT_NAME"),
			AccessKey:     os.Getenv("STORAGE_ACCESS_KEY"),
			ContainerName: getEnv("STORAGE_CONTAINER_NAME", "schemas"),
		},
		Verifier: VerifierConfig{
			URL:            getEnv("VERIFIER_URL", "http://localhost:8090"),
			RequestTimeout: parseDurationEnv("VERIFIER_REQUEST_TIMEOUT", 30*time.Second),
		},
		State: StateConfig{
			Path: getEnv("STATE_PATH", "ingest-state.db"),
		},
		Kafka: KafkaConfig{
			Brokers:          getEnv("KAFKA_BROKERS", "localhost:9092"),
			DocumentsTopic:   getEnv("KAFKA_DOCUMENTS_TOPIC", "PolicyIngest.Documents"),
			BlockEventsTopic: getEnv("KAFKA_BLOCK_EVENTS_TOPIC", "PolicyIngest.BlockEvents"),
			StatusTopic:      getEnv("KAFKA_STATUS_TOPIC", "PolicyIngest.Status"),
			Producer: ProducerConfig{
				Acks:           getEnv("KAFKA_PRODUCER_ACKS", "all"),
				FlushTimeoutMs: parseIntEnv("KAFKA_PRODUCER_FLUSH_TIMEOUT_MS", 30000),
			},
		},
		Scheduler: SchedulerConfig{
			Interval:     parseDurationEnv("SCHEDULER_INTERVAL", 60*time.Second),
			StreamWindow: parseDurationEnv("SCHEDULER_STREAM_WINDOW", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a config pre-populated with defaults so that YAML
// files only need to override what differs
func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ledger: LedgerConfig{
			MirrorURL:      "http://localhost:5551",
			PageLimit:      100,
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			ContainerName: "schemas",
		},
		Verifier: VerifierConfig{
			URL:            "http://localhost:8090",
			RequestTimeout: 30 * time.Second,
		},
		State: StateConfig{
			Path: "ingest-state.db",
		},
		Kafka: KafkaConfig{
			Brokers:          "localhost:9092",
			DocumentsTopic:   "PolicyIngest.Documents",
			BlockEventsTopic: "PolicyIngest.BlockEvents",
			StatusTopic:      "PolicyIngest.Status",
			Producer: ProducerConfig{
				Acks:           "all",
				FlushTimeoutMs: 30000,
			},
		},
		Scheduler: SchedulerConfig{
			Interval:     60 * time.Second,
			StreamWindow: 10 * time.Second,
		},
	}
}

// Helper functions for parsing environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
