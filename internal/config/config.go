package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/crypto"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// MetadataDSN points at the Postgres metadata store that backs the
	// job queue, the named locks and the request records.
	MetadataDSN string `json:"metadata_dsn" yaml:"metadata_dsn"`

	Limits    LimitsConfig              `json:"limits" yaml:"limits"`
	Queue     QueueConfig               `json:"queue" yaml:"queue"`
	Sandbox   SandboxConfig             `json:"sandbox" yaml:"sandbox"`
	Notify    NotifyConfig              `json:"notify" yaml:"notify"`
	Instances map[string]InstanceConfig `json:"instances" yaml:"instances"`
}

type LimitsConfig struct {
	StatementTimeout     time.Duration `json:"statement_timeout" yaml:"statement_timeout"`
	OperationTimeout     time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	MaxResultRows        int           `json:"max_result_rows" yaml:"max_result_rows"`
	CompressionThreshold int           `json:"compression_threshold" yaml:"compression_threshold"`
}

type QueueConfig struct {
	BatchSize         int           `json:"batch_size" yaml:"batch_size"`
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
	RetryLimit        int           `json:"retry_limit" yaml:"retry_limit"`
	RetryBackoff      time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	VisibilityTimeout time.Duration `json:"visibility_timeout" yaml:"visibility_timeout"`
}

type SandboxConfig struct {
	MemoryLimitMB int           `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

type NotifyConfig struct {
	SlackWebhook string `json:"slack_webhook" yaml:"slack_webhook"`
	WebhookURL   string `json:"webhook_url" yaml:"webhook_url"`

	SMTPHost     string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser     string `json:"smtp_user" yaml:"smtp_user"`
	SMTPPassword string `json:"smtp_password" yaml:"smtp_password"`
	SMTPFrom     string `json:"smtp_from" yaml:"smtp_from"`
	SMTPSSL      bool   `json:"smtp_ssl" yaml:"smtp_ssl"`
	DefaultEmail string `json:"default_email" yaml:"default_email"`
}

// InstanceConfig describes one target backend instance the engine may
// execute against.
type InstanceConfig struct {
	Backend       queryportal.BackendKind `json:"backend" yaml:"backend"`
	Host          string                  `json:"host" yaml:"host"`
	Port          int                     `json:"port" yaml:"port"`
	User          string                  `json:"user" yaml:"user"`
	Password      string                  `json:"password" yaml:"password"`
	CredentialRef string                  `json:"credential_ref" yaml:"credential_ref"`
	Schema        string                  `json:"schema" yaml:"schema"`
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		// Try JSON if YAML fails
		file.Seek(0, 0)
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decryptSecrets replaces "enc:" marked credentials with their plaintext.
// Plain values pass through untouched, so encryption stays opt-in.
func (c *Config) decryptSecrets() error {
	for id, inst := range c.Instances {
		plain, err := crypto.MaybeDecrypt(inst.Password)
		if err != nil {
			return fmt.Errorf("failed to decrypt password for instance %q: %w", id, err)
		}
		inst.Password = plain
		c.Instances[id] = inst
	}

	plain, err := crypto.MaybeDecrypt(c.Notify.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt smtp password: %w", err)
	}
	c.Notify.SMTPPassword = plain
	return nil
}

// ApplyDefaults fills zero values with the engine defaults. Every limit is
// explicit: no execution path is allowed to wait unbounded.
func (c *Config) ApplyDefaults() {
	if c.Limits.StatementTimeout <= 0 {
		c.Limits.StatementTimeout = 30 * time.Second
	}
	if c.Limits.OperationTimeout <= 0 {
		c.Limits.OperationTimeout = 30 * time.Second
	}
	if c.Limits.MaxResultRows <= 0 {
		c.Limits.MaxResultRows = 10000
	}
	if c.Limits.CompressionThreshold <= 0 {
		c.Limits.CompressionThreshold = 64 * 1024
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 5
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 2 * time.Second
	}
	if c.Queue.RetryLimit <= 0 {
		c.Queue.RetryLimit = 10
	}
	if c.Queue.RetryBackoff <= 0 {
		c.Queue.RetryBackoff = 5 * time.Second
	}
	if c.Queue.VisibilityTimeout <= 0 {
		c.Queue.VisibilityTimeout = 5 * time.Minute
	}
	if c.Sandbox.MemoryLimitMB <= 0 {
		c.Sandbox.MemoryLimitMB = 128
	}
	if c.Sandbox.Timeout <= 0 {
		c.Sandbox.Timeout = 10 * time.Second
	}
}
