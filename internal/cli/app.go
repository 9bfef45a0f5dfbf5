package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agentlab/internal/config"
	"github.com/harun/agentlab/internal/logger"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/agent"
	"github.com/harun/agentlab/pkg/catalog"
	"github.com/harun/agentlab/pkg/embedding"
	"github.com/harun/agentlab/pkg/model"
	"github.com/harun/agentlab/pkg/rag"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
	"github.com/harun/agentlab/pkg/vectorstore"
)

// Collaborator constructors, replaced in tests.
var (
	newLLM         = defaultLLM
	newEmbedder    = defaultEmbedder
	newVectorStore = defaultVectorStore
	newMCPToolset  = defaultMCPToolset
)

// app is what every command starts from: the loaded config and the logger
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	tracer *tracing.Provider
	logger zerolog.Logger
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   verbose,
		Pretty:    verbose,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zl := lg.Zerolog()
	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		zl.Warn().Err(warning).Msg("Configuration warning")
	}

	tracer, err := tracing.NewProvider(tracing.ProviderConfig{ServiceName: "agentlab", ServiceVersion: version})
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &app{
		cfg:    cfg,
		log:    lg,
		tracer: tracer,
		logger: lg.Component("cli").With().Str("command", cmd.Name()).Logger(),
	}, nil
}

func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.tracer.Shutdown(ctx), a.log.Close())
}

func (a *app) openSessions() (session.Service, error) {
	switch a.cfg.Session.Backend {
	case "memory":
		return session.NewInMemoryService(session.WithLogger(a.logger)), nil
	case "sqlite":
		return session.NewDatabaseService(session.DatabaseConfig{
			URL:    a.cfg.Session.DBURL,
			Logger: a.logger,
		})
	}
	return nil, fmt.Errorf("unsupported session backend: %s", a.cfg.Session.Backend)
}

// scope returns the app name and user id sessions of entry are stored under
func (a *app) scope(entry catalog.Entry) (string, string) {
	appName, userID := entry.AppName, entry.UserID
	if a.cfg.App.Name != "" {
		appName = a.cfg.App.Name
	}
	if a.cfg.App.UserID != "" {
		userID = a.cfg.App.UserID
	}
	return appName, userID
}

func (a *app) agentName(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.Agent.Name
}

// agentSetup is a built catalog agent and the resources it holds
type agentSetup struct {
	entry   catalog.Entry
	agent   agent.Agent
	appName string
	userID  string
	closers []func() error
}

func (s *agentSetup) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildAgent builds the named catalog agent with the configured model and
// starts whatever the entry needs: the MCP server or the knowledge index.
func (a *app) buildAgent(ctx context.Context, name string) (*agentSetup, error) {
	entry, err := catalog.Lookup(name)
	if err != nil {
		return nil, err
	}

	modelName := a.cfg.Agent.Model
	if modelName == "" {
		modelName = entry.DefaultModel
	}
	llm, err := newLLM(ctx, a.cfg, modelName, a.logger)
	if err != nil {
		return nil, err
	}

	setup := &agentSetup{entry: entry}
	setup.appName, setup.userID = a.scope(entry)

	deps := catalog.Deps{
		Model:       llm,
		ModelName:   modelName,
		Temperature: a.cfg.Agent.Temperature,
		MaxTokens:   a.cfg.Agent.MaxTokens,
		MaxTurns:    a.cfg.Agent.MaxTurns,
		Policy:      &tool.Policy{Allow: a.cfg.Agent.Tools.Allow, Deny: a.cfg.Agent.Tools.Deny},
		Logger:      a.logger,
	}

	if entry.NeedsMCP {
		ts, err := newMCPToolset(a.cfg, a.logger)
		if err != nil {
			return nil, err
		}
		if err := ts.Start(ctx); err != nil {
			ts.Close()
			return nil, fmt.Errorf("failed to start MCP toolset: %w", err)
		}
		setup.closers = append(setup.closers, ts.Close)
		deps.Toolsets = []agent.Toolset{ts}
	}

	if entry.NeedsKnowledge {
		pipeline, store, err := a.openPipeline(ctx)
		if err != nil {
			setup.Close()
			return nil, err
		}
		setup.closers = append(setup.closers, store.Close)
		deps.Knowledge = rag.SearchTool(pipeline)
	}

	setup.agent, err = entry.Build(deps)
	if err != nil {
		setup.Close()
		return nil, fmt.Errorf("failed to build agent %s: %w", entry.Name, err)
	}

	a.logger.Info().
		Str("agent", entry.Name).
		Str("model", modelName).
		Str("app", setup.appName).
		Str("user_id", setup.userID).
		Msg("Agent ready")
	return setup, nil
}

// openPipeline connects the configured embedder and vector store. The
// caller closes the returned store.
func (a *app) openPipeline(ctx context.Context) (*rag.Pipeline, vectorstore.Store, error) {
	emb, err := newEmbedder(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := newVectorStore(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := rag.New(rag.Config{
		Store:     store,
		Embedder:  emb,
		Index:     a.cfg.VectorStore.Index,
		Namespace: a.cfg.VectorStore.Namespace,
		Logger:    a.logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return p, store, nil
}

// defaultLLM fails over across the configured profiles. Profiles of a
// provider other than the model's own ask for that provider's default model.
func defaultLLM(ctx context.Context, cfg *config.Config, modelName string, logger zerolog.Logger) (model.LLM, error) {
	if err := cfg.RequireAI(); err != nil {
		return nil, err
	}

	provider := model.ProviderOf(modelName)
	profiles := make([]model.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profile := model.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		}
		if provider != "" && p.Provider != provider {
			profile.Model = model.DefaultModel(p.Provider)
		}
		profiles = append(profiles, profile)
	}

	return model.NewFailover(model.FailoverConfig{
		Profiles: profiles,
		Factory:  model.ProviderFactory{},
		Logger:   logger,
	})
}

func defaultEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	if cfg.Embedding.APIKey == "" {
		return nil, fmt.Errorf("embedding.api_key is required for provider %s", cfg.Embedding.Provider)
	}
	var dimension int
	if embedding.DimensionOf(cfg.Embedding.Model) == 0 {
		dimension = cfg.VectorStore.Dimension
	}
	return embedding.New(ctx, embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: dimension,
	})
}

func defaultVectorStore(cfg *config.Config, logger zerolog.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "pinecone":
		return vectorstore.NewPinecone(vectorstore.PineconeConfig{
			APIKey: cfg.VectorStore.APIKey,
			Logger: logger,
		})
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.VectorStore.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		return vectorstore.NewSQLiteVec(vectorstore.SQLiteVecConfig{
			Path:   cfg.VectorStore.Path,
			Logger: logger,
		})
	}
	return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.VectorStore.Backend)
}

// toolset is the part of tool.MCPToolset the CLI drives
type toolset interface {
	agent.Toolset
	Start(ctx context.Context) error
	Close() error
}

func defaultMCPToolset(cfg *config.Config, logger zerolog.Logger) (toolset, error) {
	command, args := cfg.MCP.Command, cfg.MCP.Args
	if command == "" {
		command, args = catalog.DefaultMCPCommand[0], catalog.DefaultMCPCommand[1:]
	}
	return tool.NewMCPToolset(tool.MCPToolsetConfig{
		Connect: tool.StdioServer(command, cfg.MCP.Env, args...),
		Logger:  logger,
	}), nil
}
