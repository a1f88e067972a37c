package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "policygraph.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/policygraph"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// envOverrides maps environment variables onto config fields. Secrets
// belong here rather than in files.
var envOverrides = map[string]func(*Config, string){
	"POLICYGRAPH_DATABASE_URL":   func(c *Config, v string) { c.Database.URL = v },
	"POLICYGRAPH_NATS_URL":       func(c *Config, v string) { c.NATS.URL = v },
	"POLICYGRAPH_GRAPH_URI":      func(c *Config, v string) { c.Graph.URI = v },
	"POLICYGRAPH_GRAPH_USERNAME": func(c *Config, v string) { c.Graph.Username = v },
	"POLICYGRAPH_GRAPH_PASSWORD": func(c *Config, v string) { c.Graph.Password = v },
	"POLICYGRAPH_REDIS_ADDR":     func(c *Config, v string) { c.Redis.Addr = v },
	"POLICYGRAPH_REDIS_PASSWORD": func(c *Config, v string) { c.Redis.Password = v },
	"POLICYGRAPH_EMBEDDING_URL":  func(c *Config, v string) { c.Embedding.ServiceURL = v },
	"POLICYGRAPH_WATCH_DIR":      func(c *Config, v string) { c.Watch.Dir = v },
	"POLICYGRAPH_LOG_LEVEL":      func(c *Config, v string) { c.Logging.Level = v },
}

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/policygraph/config.yaml)
// 3. Project config (policygraph.yaml in current or parent directories)
// 4. POLICYGRAPH_* environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config",
			slog.String("path", userConfigPath),
			slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config",
				slog.String("path", projectConfigPath),
				slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile loads one explicit config file over the defaults, then applies
// environment overrides. Used when a command is given --config.
func (l *Loader) LoadFile(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	l.applyEnv(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it does
// not exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) applyEnv(config *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(config, v)
			l.logger.Debug("Applied environment override", slog.String("var", name))
		}
	}
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for policygraph.yaml in current and parent
// directories.
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

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
