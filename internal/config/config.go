// Package config provides configuration loading for crewd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the crewd daemon.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Log          LogConfig          `koanf:"log"`
	NATS         NATSConfig         `koanf:"nats"`
	Temporal     TemporalConfig     `koanf:"temporal"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Artifacts    ArtifactsConfig    `koanf:"artifacts"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// ServerConfig configures the customer-facing HTTP API.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// NATSConfig configures the broker used for durable state and broadcast.
type NATSConfig struct {
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
	Bucket   string `koanf:"bucket"`
}

// TemporalConfig configures the workflow engine connection.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// OrchestratorConfig tunes phase execution retry and interrupt handling.
type OrchestratorConfig struct {
	MaxRetries            int      `koanf:"max_retries"`
	RetryBackoff          Duration `koanf:"retry_backoff"`
	InterruptPollInterval Duration `koanf:"interrupt_poll_interval"`
	InterruptPollTimeout  Duration `koanf:"interrupt_poll_timeout"`
	MaxFailureMessageLen  int      `koanf:"max_failure_message_len"`
}

// ArtifactsConfig configures the git-backed deliverable store.
type ArtifactsConfig struct {
	RepoPath string `koanf:"repo_path"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 20
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = "crewd_engagements"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "crewd-phases"
	}

	if cfg.Orchestrator.MaxRetries == 0 {
		cfg.Orchestrator.MaxRetries = 2
	}
	if cfg.Orchestrator.RetryBackoff == 0 {
		cfg.Orchestrator.RetryBackoff = Duration(5 * time.Second)
	}
	if cfg.Orchestrator.InterruptPollInterval == 0 {
		cfg.Orchestrator.InterruptPollInterval = Duration(15 * time.Second)
	}
	if cfg.Orchestrator.InterruptPollTimeout == 0 {
		cfg.Orchestrator.InterruptPollTimeout = Duration(24 * time.Hour)
	}
	if cfg.Orchestrator.MaxFailureMessageLen == 0 {
		cfg.Orchestrator.MaxFailureMessageLen = 4096
	}

	if cfg.Artifacts.RepoPath == "" {
		cfg.Artifacts.RepoPath = "~/.local/share/crewd/artifacts"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server rate_limit must be > 0, got %v", c.Server.RateLimit)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats url is required when the embedded broker is disabled")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator max_retries must be >= 0, got %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.InterruptPollInterval.Duration() <= 0 {
		return fmt.Errorf("orchestrator interrupt_poll_interval must be > 0")
	}
	if c.Orchestrator.InterruptPollTimeout.Duration() < c.Orchestrator.InterruptPollInterval.Duration() {
		return fmt.Errorf("orchestrator interrupt_poll_timeout must be >= interrupt_poll_interval")
	}
	return nil
}
