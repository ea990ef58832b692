// Package config provides configuration loading and management for votecontext.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/votecontext/vote"
)

// Config represents the complete votecontext configuration
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	GitHub    GitHubConfig       `yaml:"github"`
	Identity  IdentityConfig     `yaml:"identity"`
	NATS      NATSConfig         `yaml:"nats"`
	Reconcile vote.Options       `yaml:"reconcile"`
	Commit    vote.CommitOptions `yaml:"commit"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// RequestTimeout bounds each API request including upstream calls
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GitHubConfig configures the GitHub Contents API client
type GitHubConfig struct {
	// APIURL is the REST API base URL (default: https://api.github.com)
	APIURL string `yaml:"api_url"`
	// TokenEnv names the environment variable holding the write token
	TokenEnv string `yaml:"token_env"`
	// Timeout is the per-call HTTP client timeout
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent is sent on every request
	UserAgent string `yaml:"user_agent"`
}

// Token returns the write credential, or "" when unset.
func (g GitHubConfig) Token() string {
	if g.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(g.TokenEnv))
}

// IdentityConfig configures bearer token verification
type IdentityConfig struct {
	// URL is the auth provider project URL (empty = no verifier, all requests 401)
	URL string `yaml:"url"`
	// APIKeyEnv names the environment variable holding the project key
	APIKeyEnv string `yaml:"api_key_env"`
	// Timeout is the verification call timeout
	Timeout time.Duration `yaml:"timeout"`
}

// APIKey returns the project key, or "" when unset.
func (i IdentityConfig) APIKey() string {
	if i.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(i.APIKeyEnv))
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream directory for the embedded server
	StoreDir string `yaml:"store_dir"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL:    "https://api.github.com",
			TokenEnv:  "GITHUB_PAT_TOKEN",
			Timeout:   15 * time.Second,
			UserAgent: "votecontext",
		},
		Identity: IdentityConfig{
			APIKeyEnv: "SUPABASE_SERVICE_ROLE_KEY",
			Timeout:   10 * time.Second,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Reconcile: vote.DefaultOptions(),
		Commit:    vote.DefaultCommitOptions(),
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.GitHub.APIURL == "" {
		return fmt.Errorf("github.api_url is required")
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if err := ValidateReconcile(c.Reconcile); err != nil {
		return err
	}
	if c.Commit.FileName == "" || strings.Contains(c.Commit.FileName, "/") {
		return fmt.Errorf("commit.file_name must be a plain file name")
	}
	if c.Commit.ContextDir == "" {
		return fmt.Errorf("commit.context_dir is required")
	}
	return nil
}

// ValidateReconcile checks the hot-reloadable reconcile section.
func ValidateReconcile(o vote.Options) error {
	if o.ContextDir == "" {
		return fmt.Errorf("reconcile.context_dir is required")
	}
	if !strings.Contains(o.HistoryPath, "{year}") {
		return fmt.Errorf("reconcile.history_path must contain {year}")
	}
	if o.MinYear < 0 {
		return fmt.Errorf("reconcile.min_year must not be negative")
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("reconcile.concurrency must not be negative")
	}
	return nil
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} references.
// An unset or empty VAR takes the default, or "" when none is given.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envPattern.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[3]
	})
}

// LoadFromFile loads configuration from a YAML file, expanding environment
// references before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(ExpandEnvWithDefaults(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadLayer parses path without defaults so that Merge only applies the
// fields the file actually sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(ExpandEnvWithDefaults(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.RequestTimeout != 0 {
		c.Server.RequestTimeout = other.Server.RequestTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// GitHub
	if other.GitHub.APIURL != "" {
		c.GitHub.APIURL = other.GitHub.APIURL
	}
	if other.GitHub.TokenEnv != "" {
		c.GitHub.TokenEnv = other.GitHub.TokenEnv
	}
	if other.GitHub.Timeout != 0 {
		c.GitHub.Timeout = other.GitHub.Timeout
	}
	if other.GitHub.UserAgent != "" {
		c.GitHub.UserAgent = other.GitHub.UserAgent
	}

	// Identity
	if other.Identity.URL != "" {
		c.Identity.URL = other.Identity.URL
	}
	if other.Identity.APIKeyEnv != "" {
		c.Identity.APIKeyEnv = other.Identity.APIKeyEnv
	}
	if other.Identity.Timeout != 0 {
		c.Identity.Timeout = other.Identity.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Reconcile
	if other.Reconcile.ContextDir != "" {
		c.Reconcile.ContextDir = other.Reconcile.ContextDir
	}
	if other.Reconcile.HistoryPath != "" {
		c.Reconcile.HistoryPath = other.Reconcile.HistoryPath
	}
	if other.Reconcile.MinYear != 0 {
		c.Reconcile.MinYear = other.Reconcile.MinYear
	}
	if other.Reconcile.Concurrency != 0 {
		c.Reconcile.Concurrency = other.Reconcile.Concurrency
	}

	// Commit
	if other.Commit.ContextDir != "" {
		c.Commit.ContextDir = other.Commit.ContextDir
	}
	if other.Commit.FileName != "" {
		c.Commit.FileName = other.Commit.FileName
	}
	if other.Commit.MessageTemplate != "" {
		c.Commit.MessageTemplate = other.Commit.MessageTemplate
	}
	if other.Commit.Branch != "" {
		c.Commit.Branch = other.Commit.Branch
	}
	if other.Commit.WriteTimeout != 0 {
		c.Commit.WriteTimeout = other.Commit.WriteTimeout
	}
}
