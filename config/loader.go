package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "votecontext.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/votecontext"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment overrides applied after all files.
const (
	EnvAddr        = "VOTECONTEXT_ADDR"
	EnvNATSURL     = "VOTECONTEXT_NATS_URL"
	EnvGitHubURL   = "VOTECONTEXT_GITHUB_API_URL"
	EnvIdentityURL = "VOTECONTEXT_IDENTITY_URL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger       *slog.Logger
	explicitPath string
	projectPath  string
}

// NewLoader creates a new configuration loader. A non-empty explicitPath
// replaces the project config search and must exist.
func NewLoader(logger *slog.Logger, explicitPath string) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, explicitPath: explicitPath}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/votecontext/config.yaml)
// 3. Project config (--config, or votecontext.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if userConfig, err := loadLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	if l.explicitPath != "" {
		projectConfig, err := loadLayer(l.explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", l.explicitPath, err)
		}
		l.logger.Debug("Loaded config", slog.String("path", l.explicitPath))
		config.Merge(projectConfig)
		l.projectPath = l.explicitPath
	} else if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if projectConfig, err := loadLayer(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
			l.projectPath = projectConfigPath
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	applyEnv(config)

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ProjectPath returns the project config file used by the last Load, or "".
func (l *Loader) ProjectPath() string {
	return l.projectPath
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot resolve home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

func applyEnv(c *Config) {
	override := &Config{
		Server:   ServerConfig{Addr: os.Getenv(EnvAddr)},
		GitHub:   GitHubConfig{APIURL: os.Getenv(EnvGitHubURL)},
		Identity: IdentityConfig{URL: os.Getenv(EnvIdentityURL)},
		NATS:     NATSConfig{URL: os.Getenv(EnvNATSURL)},
	}
	c.Merge(override)
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for votecontext.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
