package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	// DefaultCooldown is multiplied by a profile's consecutive failures.
	DefaultCooldown = 60 * time.Second
)

// ErrNoProfileAvailable is returned when every profile is cooling down
var ErrNoProfileAvailable = errors.New("no auth profile available")

// Profile is one set of provider credentials. Lower priority is tried first.
type Profile struct {
	ID       string
	Provider string
	APIKey   string
	Priority int
	// Model replaces the request's model name for this profile, so a
	// fallback to another provider asks for a model that provider serves.
	Model string
}

// Factory creates a provider for a profile
type Factory interface {
	New(ctx context.Context, profile Profile) (LLM, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, profile Profile) (LLM, error)

func (f FactoryFunc) New(ctx context.Context, profile Profile) (LLM, error) {
	return f(ctx, profile)
}

// ProviderFactory builds the hosted providers by name
type ProviderFactory struct{}

// New creates the provider named by profile.Provider
func (ProviderFactory) New(ctx context.Context, profile Profile) (LLM, error) {
	switch profile.Provider {
	case "openai":
		return NewOpenAI(profile.APIKey), nil
	case "anthropic":
		return NewAnthropic(profile.APIKey), nil
	case "gemini":
		return NewGemini(ctx, profile.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// FailoverConfig configures a Failover
type FailoverConfig struct {
	Profiles        []Profile
	Factory         Factory
	MaxRetries      int
	InitialInterval time.Duration
	Cooldown        time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

type profileState struct {
	Profile
	failures      int
	cooldownUntil time.Time
	llm           LLM
}

// Failover is an LLM that spreads calls over auth profiles. Retryable
// errors are retried with exponential backoff on the same profile before
// the next profile is tried; any other error ends the call.
type Failover struct {
	mu       sync.Mutex
	profiles []*profileState

	factory         Factory
	maxRetries      int
	initialInterval time.Duration
	cooldown        time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

// NewFailover creates a Failover over cfg.Profiles
func NewFailover(cfg FailoverConfig) (*Failover, error) {
	observability.EnsureRegistered()

	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if cfg.Factory == nil {
		cfg.Factory = ProviderFactory{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	profiles := make([]*profileState, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles = append(profiles, &profileState{Profile: p})
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	return &Failover{
		profiles:        profiles,
		factory:         cfg.Factory,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
		cooldown:        cfg.Cooldown,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}, nil
}

// Name returns the provider of the highest priority profile
func (f *Failover) Name() string {
	return f.profiles[0].Provider
}

// Generate tries each available profile in priority order
func (f *Failover) Generate(ctx context.Context, req *Request) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, f.logger)

	var lastErr error
	for _, p := range f.profiles {
		if f.inCooldown(p) {
			observability.SetProfileCooldown(p.ID, true)
			logger.Debug().Str("profile", p.ID).Msg("Skipping profile in cooldown")
			continue
		}
		observability.SetProfileCooldown(p.ID, false)

		llm, err := f.provider(ctx, p)
		if err != nil {
			logger.Warn().Str("profile", p.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := f.generateWithRetry(ctx, p, llm, req, logger)
		observability.RecordModelCall(p.Provider, time.Since(start), err == nil)
		if err == nil {
			f.markSuccess(p)
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		f.markFailure(p)
		logger.Warn().Str("profile", p.ID).Err(err).Msg("Auth profile failed")

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrNoProfileAvailable
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (f *Failover) generateWithRetry(ctx context.Context, p *profileState, llm LLM, req *Request, logger zerolog.Logger) (*Response, error) {
	if p.Model != "" && p.Model != req.Model {
		scoped := *req
		scoped.Model = p.Model
		req = &scoped
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"agentlab.model",
		"model.generate",
		attribute.String("profile", p.ID),
		attribute.String("provider", p.Provider),
		attribute.String("model", req.Model),
	)
	defer span.End()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.maxRetries-1)), ctx)

	var resp *Response
	op := func() error {
		r, err := llm.Generate(ctx, req)
		if err != nil {
			if !IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug().Str("profile", p.ID).Dur("wait", wait).Err(err).Msg("Retrying model call")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (f *Failover) provider(ctx context.Context, p *profileState) (LLM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.llm != nil {
		return p.llm, nil
	}
	llm, err := f.factory.New(ctx, p.Profile)
	if err != nil {
		return nil, err
	}
	p.llm = llm
	return llm, nil
}

func (f *Failover) inCooldown(p *profileState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(p.cooldownUntil)
}

func (f *Failover) markSuccess(p *profileState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.failures = 0
	p.cooldownUntil = time.Time{}
	observability.SetProfileCooldown(p.ID, false)
}

func (f *Failover) markFailure(p *profileState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.failures++
	p.cooldownUntil = f.now().Add(f.cooldown * time.Duration(p.failures))
	observability.SetProfileCooldown(p.ID, true)
}
