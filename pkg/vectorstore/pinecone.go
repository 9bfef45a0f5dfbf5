package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentlab/internal/tracing"
)

const (
	DefaultPineconeURL = "https://api.pinecone.io"
	PineconeAPIVersion = "2025-01"
	DefaultCloud       = "aws"
	DefaultRegion      = "us-east-1"
)

// PineconeConfig configures the Pinecone client
type PineconeConfig struct {
	APIKey string
	// ControlURL overrides the control plane endpoint.
	ControlURL string
	HTTPClient *http.Client
	// ReadyTimeout bounds how long CreateIndex waits for the index to
	// become ready. Zero means two minutes.
	ReadyTimeout time.Duration
	MaxRetries   int
	Logger       zerolog.Logger
}

// Pinecone is a Store backed by the Pinecone REST API
type Pinecone struct {
	apiKey       string
	controlURL   string
	http         *http.Client
	readyTimeout time.Duration
	maxRetries   int
	logger       zerolog.Logger

	mu    sync.RWMutex
	hosts map[string]string
}

// APIError is a non-2xx Pinecone response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinecone: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses onto the package errors
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrIndexNotFound
	case http.StatusConflict:
		return ErrIndexExists
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewPinecone creates a Pinecone client
func NewPinecone(cfg PineconeConfig) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	if cfg.ControlURL == "" {
		cfg.ControlURL = DefaultPineconeURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Pinecone{
		apiKey:       cfg.APIKey,
		controlURL:   strings.TrimRight(cfg.ControlURL, "/"),
		http:         cfg.HTTPClient,
		readyTimeout: cfg.ReadyTimeout,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger.With().Str("component", "pinecone").Logger(),
		hosts:        make(map[string]string),
	}, nil
}

type pineconeIndex struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

func (i pineconeIndex) description() IndexDescription {
	return IndexDescription{Name: i.Name, Dimension: i.Dimension, Metric: i.Metric, Host: i.Host, Ready: i.Status.Ready}
}

func (p *Pinecone) ListIndexes(ctx context.Context) (out []IndexDescription, err error) {
	defer record("pinecone", "list_indexes", time.Now(), &err)

	var resp struct {
		Indexes []pineconeIndex `json:"indexes"`
	}
	if err = p.do(ctx, http.MethodGet, p.controlURL+"/indexes", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range resp.Indexes {
		p.cacheHost(idx.Name, idx.Host)
		out = append(out, idx.description())
	}
	return out, nil
}

func (p *Pinecone) CreateIndex(ctx context.Context, spec IndexSpec) (err error) {
	defer record("pinecone", "create_index", time.Now(), &err)

	if err = ValidateSpec(spec); err != nil {
		return err
	}
	if spec.Cloud == "" {
		spec.Cloud = DefaultCloud
	}
	if spec.Region == "" {
		spec.Region = DefaultRegion
	}

	ctx, span := tracing.StartSpan(ctx, "agentlab.vectorstore", "vectorstore.create_index",
		attribute.String("index", spec.Name),
		attribute.Int("dimension", spec.Dimension),
	)
	defer span.End()

	body := map[string]any{
		"name":      spec.Name,
		"dimension": spec.Dimension,
		"metric":    spec.Metric,
		"spec": map[string]any{
			"serverless": map[string]string{"cloud": spec.Cloud, "region": spec.Region},
		},
	}
	var created pineconeIndex
	if err = p.do(ctx, http.MethodPost, p.controlURL+"/indexes", body, &created); err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to create index %s: %w", spec.Name, err)
	}
	p.cacheHost(created.Name, created.Host)

	if !created.Status.Ready {
		if err = p.waitReady(ctx, spec.Name); err != nil {
			tracing.FailSpan(span, err)
			return err
		}
	}
	p.logger.Info().Str("index", spec.Name).Int("dimension", spec.Dimension).Msg("Index created")
	return nil
}

func (p *Pinecone) waitReady(ctx context.Context, name string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = p.readyTimeout

	return backoff.Retry(func() error {
		desc, err := p.DescribeIndex(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !desc.Ready {
			return fmt.Errorf("index %s is not ready", name)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (p *Pinecone) DescribeIndex(ctx context.Context, name string) (_ *IndexDescription, err error) {
	defer record("pinecone", "describe_index", time.Now(), &err)

	var idx pineconeIndex
	if err = p.do(ctx, http.MethodGet, p.controlURL+"/indexes/"+url.PathEscape(name), nil, &idx); err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", name, err)
	}
	p.cacheHost(idx.Name, idx.Host)
	desc := idx.description()
	return &desc, nil
}

func (p *Pinecone) DeleteIndex(ctx context.Context, name string) (err error) {
	defer record("pinecone", "delete_index", time.Now(), &err)

	if err = p.do(ctx, http.MethodDelete, p.controlURL+"/indexes/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", name, err)
	}
	p.mu.Lock()
	delete(p.hosts, name)
	p.mu.Unlock()
	return nil
}

func (p *Pinecone) DescribeIndexStats(ctx context.Context, name string) (_ *IndexStats, err error) {
	defer record("pinecone", "describe_index_stats", time.Now(), &err)

	host, err := p.host(ctx, name)
	if err != nil {
		return nil, err
	}
	var stats IndexStats
	if err = p.do(ctx, http.MethodPost, host+"/describe_index_stats", map[string]any{}, &stats); err != nil {
		return nil, fmt.Errorf("failed to describe index stats %s: %w", name, err)
	}
	if stats.Namespaces == nil {
		stats.Namespaces = map[string]NamespaceStats{}
	}
	return &stats, nil
}

// pineconeUpsertBatch is the largest batch sent in one upsert request
const pineconeUpsertBatch = 100

func (p *Pinecone) Upsert(ctx context.Context, index, namespace string, vectors []Vector) (n int, err error) {
	defer record("pinecone", "upsert", time.Now(), &err)

	ctx, span := tracing.StartSpan(ctx, "agentlab.vectorstore", "vectorstore.upsert",
		attribute.String("index", index),
		attribute.Int("count", len(vectors)),
	)
	defer span.End()

	host, err := p.host(ctx, index)
	if err != nil {
		tracing.FailSpan(span, err)
		return 0, err
	}

	for start := 0; start < len(vectors); start += pineconeUpsertBatch {
		batch := vectors[start:min(start+pineconeUpsertBatch, len(vectors))]
		var resp struct {
			UpsertedCount int `json:"upsertedCount"`
		}
		body := map[string]any{"vectors": batch, "namespace": namespace}
		if err = p.do(ctx, http.MethodPost, host+"/vectors/upsert", body, &resp); err != nil {
			tracing.FailSpan(span, err)
			return n, fmt.Errorf("failed to upsert into %s: %w", index, err)
		}
		n += resp.UpsertedCount
	}
	return n, nil
}

func (p *Pinecone) DeleteVectors(ctx context.Context, index, namespace string, ids []string) (err error) {
	defer record("pinecone", "delete_vectors", time.Now(), &err)

	host, err := p.host(ctx, index)
	if err != nil {
		return err
	}
	body := map[string]any{"namespace": namespace}
	if len(ids) > 0 {
		body["ids"] = ids
	} else {
		body["deleteAll"] = true
	}
	err = p.do(ctx, http.MethodPost, host+"/vectors/delete", body, nil)
	// the data plane answers 404 for a namespace that holds no vectors yet
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete vectors from %s: %w", index, err)
	}
	return nil
}

func (p *Pinecone) Query(ctx context.Context, index string, req QueryRequest) (_ []Match, err error) {
	defer record("pinecone", "query", time.Now(), &err)

	if req.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}
	ctx, span := tracing.StartSpan(ctx, "agentlab.vectorstore", "vectorstore.query",
		attribute.String("index", index),
		attribute.Int("top_k", req.TopK),
	)
	defer span.End()

	host, err := p.host(ctx, index)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}
	body := map[string]any{
		"vector":          req.Vector,
		"topK":            req.TopK,
		"namespace":       req.Namespace,
		"includeMetadata": req.IncludeMetadata,
		"includeValues":   req.IncludeValues,
	}
	var resp struct {
		Matches []Match `json:"matches"`
	}
	if err = p.do(ctx, http.MethodPost, host+"/query", body, &resp); err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to query %s: %w", index, err)
	}
	return resp.Matches, nil
}

func (p *Pinecone) Close() error { return nil }

func (p *Pinecone) cacheHost(name, host string) {
	if name == "" || host == "" {
		return
	}
	p.mu.Lock()
	p.hosts[name] = host
	p.mu.Unlock()
}

// host resolves the data plane URL of an index
func (p *Pinecone) host(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	h, ok := p.hosts[name]
	p.mu.RUnlock()
	if !ok {
		desc, err := p.DescribeIndex(ctx, name)
		if err != nil {
			return "", err
		}
		h = desc.Host
	}
	if h == "" {
		return "", fmt.Errorf("index %s has no host yet", name)
	}
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/"), nil
}

func (p *Pinecone) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxRetries)), ctx)
	return backoff.RetryNotify(func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Api-Key", p.apiKey)
		req.Header.Set("X-Pinecone-API-Version", PineconeAPIVersion)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
			if apiErr.retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}, b, func(err error, wait time.Duration) {
		p.logger.Warn().Err(err).Str("method", method).Dur("retry_in", wait).Msg("Pinecone request failed, retrying")
	})
}

func errorMessage(data []byte) string {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "empty response"
	}
	return msg
}

// IsNotFound reports whether err means the index does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIndexNotFound)
}
