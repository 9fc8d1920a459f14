package llm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
)

// ResolverConfig holds the process-wide defaults applied when the caller's
// settings leave a field empty.
type ResolverConfig struct {
	DefaultProvider domain.Provider
	DefaultAPIKey   string
	Gemini          GeminiConfig
	DeepSeek        DeepSeekConfig
}

type cacheKey struct {
	provider domain.Provider
	keyHash  [sha256.Size]byte
}

// Resolver implements domain.GeneratorResolver. Clients are built lazily and
// reused per (provider, credential).
type Resolver struct {
	cfg ResolverConfig

	mu    sync.Mutex
	cache map[cacheKey]domain.Generator
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = domain.ProviderGemini
	}
	return &Resolver{
		cfg:   cfg,
		cache: make(map[cacheKey]domain.Generator),
	}
}

// Resolve implements domain.GeneratorResolver.
func (r *Resolver) Resolve(ctx context.Context, settings domain.Settings) (domain.Generator, domain.Provider, error) {
	provider := settings.Provider
	if provider == "" {
		provider = r.cfg.DefaultProvider
	}
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = r.cfg.DefaultAPIKey
	}

	if _, err := domain.ParseProvider(string(provider)); err != nil {
		return nil, provider, err
	}
	if provider != domain.ProviderMock && apiKey == "" {
		return nil, provider, fmt.Errorf("%s: %w", provider, domain.ErrMissingCredential)
	}

	key := cacheKey{provider: provider, keyHash: sha256.Sum256([]byte(apiKey))}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.cache[key]; ok {
		return g, provider, nil
	}

	var (
		inner domain.Generator
		err   error
	)
	switch provider {
	case domain.ProviderGemini:
		inner, err = NewGeminiGenerator(ctx, apiKey, r.cfg.Gemini)
	case domain.ProviderDeepSeek:
		inner, err = NewDeepSeekGenerator(apiKey, r.cfg.DeepSeek)
	case domain.ProviderMock:
		inner = NewMockGenerator()
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)
	}
	if err != nil {
		return nil, provider, err
	}

	g := &instrumented{inner: inner, provider: provider}
	r.cache[key] = g
	return g, provider, nil
}

// instrumented records latency and a span for every generator call.
type instrumented struct {
	inner    domain.Generator
	provider domain.Provider
}

func (i *instrumented) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	return i.observe(ctx, req, "text", func(ctx context.Context) (string, error) {
		return i.inner.GenerateText(ctx, req)
	})
}

func (i *instrumented) GenerateStructured(ctx context.Context, req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	return i.observe(ctx, req, "structured", func(ctx context.Context) (string, error) {
		return i.inner.GenerateStructured(ctx, req, schema)
	})
}

func (i *instrumented) observe(ctx context.Context, req domain.GenerateRequest, shape string, call func(context.Context) (string, error)) (string, error) {
	kind := string(req.Kind)
	if kind == "" {
		kind = string(domain.CallTurn)
	}

	ctx, span := otel.Tracer("compass/llm").Start(ctx, "generator."+shape)
	defer span.End()
	span.SetAttributes(
		attribute.String("generator.provider", string(i.provider)),
		attribute.String("generator.kind", kind),
		attribute.Int("generator.messages", len(req.Messages)),
	)

	start := time.Now()
	out, err := call(ctx)
	observability.GeneratorLatency.WithLabelValues(string(i.provider), kind).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("generator.response_bytes", len(out)))
	return out, nil
}
