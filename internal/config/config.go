// Package config handles sam configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sam/config.yaml, /etc/sam/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sam", "config.yaml"))
	}

	paths = append(paths, "/etc/sam/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all sam configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Model    ModelConfig    `yaml:"model"`
	Calendar CalendarConfig `yaml:"calendar"`
	Mail     MailConfig     `yaml:"mail"`
	Clinic   ClinicConfig   `yaml:"clinic"`
	Agent    AgentConfig    `yaml:"agent"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the chat-completions provider.
type ModelConfig struct {
	// BaseURL is the provider endpoint root, e.g.
	// https://api.openai.com/v1 or any OpenAI-compatible gateway.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Name    string `yaml:"name"` // model identifier sent on every request
	// TimeoutSec bounds a single completion call (default 120).
	TimeoutSec int `yaml:"timeout_sec"`
	// Retries is the number of retry attempts after the first failure
	// (default 2).
	Retries int `yaml:"retries"`
	// RetryBackoffMS is the initial delay before the first retry in
	// milliseconds; it doubles per attempt (default 1000).
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

// RetryBackoff returns the initial retry delay as a duration.
func (m *ModelConfig) RetryBackoff() time.Duration {
	return time.Duration(m.RetryBackoffMS) * time.Millisecond
}

// CalendarConfig defines the CalDAV account used for availability
// checks and event creation.
type CalendarConfig struct {
	URL      string `yaml:"url"`      // CalDAV endpoint
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Path is the collection path of the clinic calendar. When empty,
	// the first calendar found under the principal's home set is used.
	Path string `yaml:"path"`
}

// MailConfig defines the IMAP account where confirmation drafts are
// stored.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	// From is the sender address placed on drafts, e.g.
	// "Sam <frontdesk@clinic.example>".
	From string `yaml:"from"`
	// DraftsMailbox is the mailbox drafts are appended to (default "Drafts").
	DraftsMailbox string `yaml:"drafts_mailbox"`
}

// ClinicConfig defines scheduling policy for the clinic.
type ClinicConfig struct {
	// Timezone is the single IANA zone used for the system prompt,
	// availability queries, and event creation.
	Timezone string `yaml:"timezone"`
	// OpenHour/CloseHour bound the working day (24h clock, default 9-17).
	OpenHour  int `yaml:"open_hour"`
	CloseHour int `yaml:"close_hour"`
	// SlotMinutes is the granularity of offered slots (default 30).
	SlotMinutes int `yaml:"slot_minutes"`
	// AppointmentMinutes is the default appointment length when the
	// model supplies only a start time (default 60).
	AppointmentMinutes int `yaml:"appointment_minutes"`
}

// AgentConfig bounds the turn loop.
type AgentConfig struct {
	// MaxIterations caps model round-trips per turn (default 25).
	MaxIterations int `yaml:"max_iterations"`
	// ToolRetries is the retry count for write-classified tools
	// (default 2).
	ToolRetries int `yaml:"tool_retries"`
	// ToolRetryBackoffMS is the initial retry delay in milliseconds,
	// doubling per attempt (default 1000).
	ToolRetryBackoffMS int `yaml:"tool_retry_backoff_ms"`
	// ToolTimeoutSec bounds a single tool execution (default 30).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// ToolRetryBackoff returns the initial tool retry delay as a duration.
func (a *AgentConfig) ToolRetryBackoff() time.Duration {
	return time.Duration(a.ToolRetryBackoffMS) * time.Millisecond
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			BaseURL:        "https://api.openai.com/v1",
			Name:           "gpt-4o-mini",
			TimeoutSec:     120,
			Retries:        2,
			RetryBackoffMS: 1000,
		},
		Mail: MailConfig{
			Port:          993,
			TLS:           true,
			DraftsMailbox: "Drafts",
		},
		Clinic: ClinicConfig{
			Timezone:           "UTC",
			OpenHour:           9,
			CloseHour:          17,
			SlotMinutes:        30,
			AppointmentMinutes: 60,
		},
		Agent: AgentConfig{
			MaxIterations:      25,
			ToolRetries:        2,
			ToolRetryBackoffMS: 1000,
			ToolTimeoutSec:     30,
		},
		DataDir:  "data",
		LogLevel: "info",
	}
}

// Location resolves the configured clinic timezone. Falls back to UTC
// with an error when the zone name is unknown.
func (c *ClinicConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("unknown clinic timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
