package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI        AIConfig        `yaml:"ai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Audit     AuditConfig     `yaml:"audit"`
	Inbox     InboxConfig     `yaml:"inbox"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// AIConfig points at the Ollama server used for extraction, translation and
// embeddings. An empty BaseURL means no AI backend is configured.
type AIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	TranslateModel string        `yaml:"translate_model"`
	EmbedModel     string        `yaml:"embed_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	Dimension int `yaml:"dimension"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

type WorkflowConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	WorkflowID   string        `yaml:"workflow_id"`
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AppBaseURL   string        `yaml:"app_base_url"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
}

type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type InboxConfig struct {
	Dir        string        `yaml:"dir"`
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
	Language   string        `yaml:"language"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:          "llava",
			TranslateModel: "llama3",
			EmbedModel:     "nomic-embed-text",
			Timeout:        60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Dimension: 256,
		},
		Qdrant: QdrantConfig{
			Port:       6334,
			Collection: "city_services",
		},
		Workflow: WorkflowConfig{
			BaseURL:      "https://api.opus.ai/v1",
			MaxWait:      30 * time.Second,
			PollInterval: time.Second,
			AppBaseURL:   "http://localhost:3000",
		},
		Kafka: KafkaConfig{
			AuditTopic: "civic-audit",
		},
		Audit: AuditConfig{
			Driver: "memory",
		},
		Inbox: InboxConfig{
			Workers:    2,
			QueueSize:  16,
			JobTimeout: 2 * time.Minute,
			Language:   "en",
		},
		HTTP: HTTPConfig{
			Addr: ":3000",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), a .env file and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// .env never overrides variables that are already set
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("OLLAMA_TRANSLATE_MODEL"); v != "" {
		cfg.AI.TranslateModel = v
	}
	if v := os.Getenv("OLLAMA_EMBED_MODEL"); v != "" {
		cfg.AI.EmbedModel = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_PORT: %w", err)
		}
		cfg.Qdrant.Port = n
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		cfg.Qdrant.Collection = v
	}
	if v := os.Getenv("OPUS_BASE_URL"); v != "" {
		cfg.Workflow.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("OPUS_API_KEY"); v != "" {
		cfg.Workflow.APIKey = v
	}
	if v := os.Getenv("OPUS_WORKFLOW_ID"); v != "" {
		cfg.Workflow.WorkflowID = v
	}
	if v := os.Getenv("WORKFLOW_MAX_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid WORKFLOW_MAX_WAIT: %w", err)
		}
		cfg.Workflow.MaxWait = d
	}
	if v := os.Getenv("WORKFLOW_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid WORKFLOW_POLL_INTERVAL: %w", err)
		}
		cfg.Workflow.PollInterval = d
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.Workflow.AppBaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_AUDIT_TOPIC"); v != "" {
		cfg.Kafka.AuditTopic = v
	}
	if v := os.Getenv("AUDIT_DRIVER"); v != "" {
		cfg.Audit.Driver = v
	}
	if v := os.Getenv("AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("INBOX_DIR"); v != "" {
		cfg.Inbox.Dir = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate repairs soft problems in place and rejects values the pipeline
// cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Workflow.PollInterval <= 0 {
		return fmt.Errorf("workflow.poll_interval must be positive")
	}
	if c.Workflow.MaxWait <= 0 {
		return fmt.Errorf("workflow.max_wait must be positive")
	}
	switch c.Audit.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown audit driver %q", c.Audit.Driver)
	}
	if c.Audit.Driver != "memory" && c.Audit.DSN == "" {
		return fmt.Errorf("audit driver %s requires audit.dsn", c.Audit.Driver)
	}
	if c.Inbox.Workers <= 0 {
		log.Printf("inbox.workers must be positive, using 1")
		c.Inbox.Workers = 1
	}
	if c.Inbox.QueueSize < c.Inbox.Workers {
		log.Printf("inbox.queue_size raised to %d", c.Inbox.Workers)
		c.Inbox.QueueSize = c.Inbox.Workers
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
