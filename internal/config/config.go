package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models agrotasks.yml.
type Config struct {
	Timezone string `yaml:"timezone" json:"timezone"`
	Locale   string `yaml:"locale" json:"locale"`
	Tasks    struct {
		ExtendDays      int `yaml:"extend_days" json:"extend_days"`
		DefaultPriority int `yaml:"default_priority" json:"default_priority"`
	} `yaml:"tasks" json:"tasks"`
	Penalty PenaltyConfig `yaml:"penalty" json:"penalty"`
	Scanner struct {
		Enabled  bool   `yaml:"enabled" json:"enabled"`
		Schedule string `yaml:"schedule" json:"schedule"`
	} `yaml:"scanner" json:"scanner"`
	Notify NotifyConfig `yaml:"notify" json:"notify"`
}

type PenaltyConfig struct {
	Amount string `yaml:"amount" json:"amount"`
	Reason string `yaml:"reason" json:"reason"`
	// PendingGraceDays and InProgressGraceDays are the number of whole days
	// past the deadline a task may sit in that status before it is expired.
	PendingGraceDays    int `yaml:"pending_grace_days" json:"pending_grace_days"`
	InProgressGraceDays int `yaml:"in_progress_grace_days" json:"in_progress_grace_days"`
}

type NotifyConfig struct {
	Log      bool            `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	NATS     NATSConfig      `yaml:"nats" json:"nats"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

type NATSConfig struct {
	URL           string `yaml:"url" json:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix,omitempty"`
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PenaltyAmount parses penalty.amount.
func (c *Config) PenaltyAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.Penalty.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone: %w", err)
		}
	}
	switch c.Locale {
	case "", "en", "ru":
	default:
		return fmt.Errorf("config.locale must be en or ru")
	}
	if c.Tasks.ExtendDays <= 0 {
		return fmt.Errorf("config.tasks.extend_days must be positive")
	}
	if c.Tasks.DefaultPriority < 1 || c.Tasks.DefaultPriority > 5 {
		return fmt.Errorf("config.tasks.default_priority must be between 1 and 5")
	}
	amount, err := decimal.NewFromString(c.Penalty.Amount)
	if err != nil {
		return fmt.Errorf("config.penalty.amount: %w", err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("config.penalty.amount must be positive")
	}
	if strings.TrimSpace(c.Penalty.Reason) == "" {
		return fmt.Errorf("config.penalty.reason is required")
	}
	if c.Penalty.PendingGraceDays < 0 || c.Penalty.InProgressGraceDays < 0 {
		return fmt.Errorf("config.penalty grace days must not be negative")
	}
	if c.Scanner.Enabled {
		if _, err := cron.ParseStandard(c.Scanner.Schedule); err != nil {
			return fmt.Errorf("config.scanner.schedule: %w", err)
		}
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agrotasks.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with agt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `timezone: Europe/Moscow
locale: ru

tasks:
  # days added by a single deadline extension
  extend_days: 3
  default_priority: 1

penalty:
  amount: "1000"
  reason: deadline exceeded
  # extra days a task that was never accepted may stay past its deadline
  pending_grace_days: 0
  in_progress_grace_days: 0

scanner:
  enabled: true
  # standard 5-field cron, evaluated in the configured timezone
  schedule: "0 16 * * *"

notify:
  log: true
  webhooks: []
  nats:
    url: ""
    subject_prefix: agrotasks.notify
`
