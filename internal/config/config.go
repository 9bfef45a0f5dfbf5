package config

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Config is the agentlab configuration, built once at process start and
// passed to whichever component needs it.
type Config struct {
	App         AppConfig         `json:"app" mapstructure:"app"`
	Session     SessionConfig     `json:"session" mapstructure:"session"`
	Agent       AgentConfig       `json:"agent" mapstructure:"agent"`
	AI          AIConfig          `json:"ai" mapstructure:"ai"`
	Embedding   EmbeddingConfig   `json:"embedding" mapstructure:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store" mapstructure:"vector_store"`
	MCP         MCPConfig         `json:"mcp" mapstructure:"mcp"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`

	// DataDir holds the log file and the local databases
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AppConfig scopes sessions. Empty fields fall back to the agent's own
// app name and user id.
type AppConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	UserID string `json:"user_id" mapstructure:"user_id"`
}

// SessionConfig selects the session service
type SessionConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // memory, sqlite
	DBURL   string `json:"db_url" mapstructure:"db_url"`
}

// AgentConfig selects and tunes the catalog agent driven by chat and ask
type AgentConfig struct {
	Name        string           `json:"name" mapstructure:"name"`
	Model       string           `json:"model" mapstructure:"model"`
	Temperature float64          `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int              `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTurns    int              `json:"max_turns" mapstructure:"max_turns"`
	Tools       ToolPolicyConfig `json:"tools" mapstructure:"tools"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// AIConfig holds LLM credentials
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one set of LLM credentials
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// EmbeddingConfig selects the embedding API used by the RAG commands
type EmbeddingConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai, gemini
	Model    string `json:"model" mapstructure:"model"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// VectorStoreConfig selects the vector index collaborator
type VectorStoreConfig struct {
	Backend   string `json:"backend" mapstructure:"backend"` // pinecone, sqlite
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Path      string `json:"path" mapstructure:"path"`
	Index     string `json:"index" mapstructure:"index"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	Metric    string `json:"metric" mapstructure:"metric"` // cosine, euclidean, dotproduct
	Cloud     string `json:"cloud" mapstructure:"cloud"`
	Region    string `json:"region" mapstructure:"region"`
}

// MCPConfig describes the MCP server spawned for the mcp agent
type MCPConfig struct {
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
	Env     []string `json:"env" mapstructure:"env"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig configures the optional prometheus listener
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

var (
	validProviders          = []string{"anthropic", "openai", "gemini"}
	validEmbeddingProviders = []string{"openai", "gemini"}
	validSessionBackends    = []string{"memory", "sqlite"}
	validVectorBackends     = []string{"pinecone", "sqlite"}
	validMetrics            = []string{"cosine", "euclidean", "dotproduct"}
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Backend: "sqlite",
			DBURL:   "sqlite:///./my_agent_data.db",
		},
		Agent: AgentConfig{
			Name:        "memory_agent",
			Model:       "",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxTurns:    10,
			Tools: ToolPolicyConfig{
				Allow: []string{"*"},
				Deny:  []string{},
			},
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Embedding: EmbeddingConfig{
			Provider: "gemini",
			Model:    "models/embedding-001",
		},
		VectorStore: VectorStoreConfig{
			Backend:   "pinecone",
			Index:     "my-rag-index",
			Namespace: "Naamspace",
			Dimension: 768,
			Metric:    "cosine",
			Cloud:     "aws",
			Region:    "us-east-1",
		},
		MCP: MCPConfig{
			Command: "npx",
			Args:    []string{"-y", "@openbnb/mcp-server-airbnb", "--ignore-robots-txt"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   20,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the structural settings. Credentials are checked by
// RequireAI and RequireEmbedding when a command actually needs them.
func (c *Config) Validate() error {
	if !slices.Contains(validSessionBackends, c.Session.Backend) {
		return fmt.Errorf("invalid session backend %q (must be: memory, sqlite)", c.Session.Backend)
	}
	if c.Session.Backend == "sqlite" && c.Session.DBURL == "" {
		return fmt.Errorf("session.db_url is required for the sqlite backend")
	}

	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if !slices.Contains(validProviders, profile.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
	}

	if !slices.Contains(validEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider %q (must be: openai, gemini)", c.Embedding.Provider)
	}

	vs := c.VectorStore
	if !slices.Contains(validVectorBackends, vs.Backend) {
		return fmt.Errorf("invalid vector store backend %q (must be: pinecone, sqlite)", vs.Backend)
	}
	if vs.Index == "" {
		return fmt.Errorf("vector_store.index is required")
	}
	if vs.Dimension <= 0 {
		return fmt.Errorf("vector_store.dimension must be positive, got %d", vs.Dimension)
	}
	if !slices.Contains(validMetrics, vs.Metric) {
		return fmt.Errorf("invalid vector store metric %q (must be: cosine, euclidean, dotproduct)", vs.Metric)
	}

	return nil
}

// RequireAI reports an error when no LLM credentials are configured
func (c *Config) RequireAI() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY or GOOGLE_API_KEY, or add ai.profiles")
	}
	for _, profile := range c.AI.Profiles {
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}
	return nil
}

// RequireEmbedding reports an error when the embedding or pinecone
// credentials needed by the RAG commands are missing
func (c *Config) RequireEmbedding() error {
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required for provider %s", c.Embedding.Provider)
	}
	if c.VectorStore.Backend == "pinecone" && c.VectorStore.APIKey == "" {
		return fmt.Errorf("vector_store.api_key is required for pinecone (or set PINECONE_API_KEY)")
	}
	return nil
}
