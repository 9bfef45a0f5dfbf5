package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const dirName = ".agentlab"

// Loader handles configuration loading
type Loader struct {
	configPath string
	getenv     func(string) string
}

// NewLoader creates a new config loader. An empty path means
// ~/.agentlab/agentlab.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, getenv: os.Getenv}
}

// Load reads the config file when present, overlays AGENTLAB_* environment
// variables and provider credentials, and fills derived paths.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("AGENTLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, DefaultConfig())

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyCredentials(cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, dirName)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "agentlab.log")
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = filepath.Join(cfg.DataDir, "vectors.db")
	}

	return cfg, nil
}

// bindDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app.name", cfg.App.Name)
	v.SetDefault("app.user_id", cfg.App.UserID)
	v.SetDefault("session.backend", cfg.Session.Backend)
	v.SetDefault("session.db_url", cfg.Session.DBURL)
	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.model", cfg.Agent.Model)
	v.SetDefault("agent.temperature", cfg.Agent.Temperature)
	v.SetDefault("agent.max_tokens", cfg.Agent.MaxTokens)
	v.SetDefault("agent.max_turns", cfg.Agent.MaxTurns)
	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.api_key", cfg.Embedding.APIKey)
	v.SetDefault("vector_store.backend", cfg.VectorStore.Backend)
	v.SetDefault("vector_store.api_key", cfg.VectorStore.APIKey)
	v.SetDefault("vector_store.path", cfg.VectorStore.Path)
	v.SetDefault("vector_store.index", cfg.VectorStore.Index)
	v.SetDefault("vector_store.namespace", cfg.VectorStore.Namespace)
	v.SetDefault("vector_store.dimension", cfg.VectorStore.Dimension)
	v.SetDefault("vector_store.metric", cfg.VectorStore.Metric)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("data_dir", cfg.DataDir)
}

// applyCredentials fills API keys from the providers' conventional
// environment variables when the config file leaves them empty.
func (l *Loader) applyCredentials(cfg *Config) {
	if len(cfg.AI.Profiles) == 0 {
		for i, p := range []struct{ provider, env string }{
			{"gemini", "GOOGLE_API_KEY"},
			{"openai", "OPENAI_API_KEY"},
			{"anthropic", "ANTHROPIC_API_KEY"},
		} {
			if key := l.getenv(p.env); key != "" {
				cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
					ID:       p.provider + "-env",
					Provider: p.provider,
					APIKey:   key,
					Priority: i,
				})
			}
		}
	}

	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKey = l.getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.Embedding.APIKey = l.getenv("GOOGLE_API_KEY")
		}
	}

	if cfg.VectorStore.APIKey == "" {
		cfg.VectorStore.APIKey = l.getenv("PINECONE_API_KEY")
	}
}

// Save writes cfg as JSON to the loader's path
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("app", cfg.App)
	v.Set("session", cfg.Session)
	v.Set("agent", cfg.Agent)
	v.Set("ai", cfg.AI)
	v.Set("embedding", cfg.Embedding)
	v.Set("vector_store", cfg.VectorStore)
	v.Set("mcp", cfg.MCP)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, dirName, "agentlab.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
