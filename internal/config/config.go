// Package config provides configuration loading for learnloop.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. See LoadWithFile for the precedence rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete learnloop configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	NATS       NATSConfig       `koanf:"nats"`
	Graph      GraphConfig      `koanf:"graph"`
	Vector     VectorConfig     `koanf:"vector"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Judge      JudgeConfig      `koanf:"judge"`
	Learning   LearningConfig   `koanf:"learning"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig holds the step runner connection.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig holds event bus configuration.
type NATSConfig struct {
	URL        string   `koanf:"url"`
	Stream     string   `koanf:"stream"`
	Embedded   bool     `koanf:"embedded"`
	StoreDir   string   `koanf:"store_dir"`
	MaxDeliver int      `koanf:"max_deliver"`
	AckWait    Duration `koanf:"ack_wait"`
}

// GraphConfig holds the embedded graph arena configuration.
type GraphConfig struct {
	Path       string `koanf:"path"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// VectorConfig selects the similarity index backend.
type VectorConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// JudgeConfig configures the model that scores interactions.
type JudgeConfig struct {
	Provider   string   `koanf:"provider"`
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"`
	Timeout    Duration `koanf:"timeout"`
}

// LearningConfig holds pipeline tuning knobs.
type LearningConfig struct {
	RetrieveK       int      `koanf:"retrieve_k"`
	RetrieveTimeout Duration `koanf:"retrieve_timeout"`
	StepTimeout     Duration `koanf:"step_timeout"`
}

// LoggingConfig holds the subset of logging options exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "learning-pipeline"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "LEARNING"
	}
	if cfg.NATS.StoreDir == "" {
		cfg.NATS.StoreDir = "~/.config/learnloop/nats"
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = 5
	}
	if cfg.NATS.AckWait == 0 {
		cfg.NATS.AckWait = Duration(30 * time.Second)
	}

	if cfg.Graph.Path == "" {
		cfg.Graph.Path = "~/.config/learnloop/graph"
	}

	if cfg.Vector.Provider == "" {
		cfg.Vector.Provider = "chromem"
	}
	if cfg.Vector.Path == "" {
		cfg.Vector.Path = "~/.config/learnloop/vectors"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Judge.Provider == "" {
		cfg.Judge.Provider = "anthropic"
	}
	if cfg.Judge.MaxRetries == 0 {
		cfg.Judge.MaxRetries = 2
	}
	if cfg.Judge.RateLimit == 0 {
		cfg.Judge.RateLimit = 2
	}
	if cfg.Judge.Timeout == 0 {
		cfg.Judge.Timeout = Duration(60 * time.Second)
	}

	if cfg.Learning.RetrieveK == 0 {
		cfg.Learning.RetrieveK = 3
	}
	if cfg.Learning.RetrieveTimeout == 0 {
		cfg.Learning.RetrieveTimeout = Duration(2 * time.Second)
	}
	if cfg.Learning.StepTimeout == 0 {
		cfg.Learning.StepTimeout = Duration(2 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "learnloop"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Temporal.TaskQueue == "" {
		return errors.New("temporal task queue is required")
	}
	if c.NATS.MaxDeliver < 1 {
		return fmt.Errorf("nats max_deliver must be >= 1, got %d", c.NATS.MaxDeliver)
	}

	switch c.Vector.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vector provider %q (want chromem or qdrant)", c.Vector.Provider)
	}
	if c.Vector.Provider == "qdrant" && (c.Qdrant.Port < 1 || c.Qdrant.Port > 65535) {
		return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("unknown embeddings provider %q (want fastembed or tei)", c.Embeddings.Provider)
	}

	switch c.Judge.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown judge provider %q (want anthropic or openai)", c.Judge.Provider)
	}
	if c.Judge.MaxRetries < 0 {
		return errors.New("judge max_retries cannot be negative")
	}

	if c.Learning.RetrieveK < 1 {
		return fmt.Errorf("learning retrieve_k must be >= 1, got %d", c.Learning.RetrieveK)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be within [0,1], got %v", c.Telemetry.SampleRate)
	}

	return nil
}
