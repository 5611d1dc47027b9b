package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"legal-rag/internal/config"
	"legal-rag/internal/models"
	"legal-rag/internal/telemetry"
)

var (
	ErrEmptyCompletion = errors.New("model returned an empty completion")

	thinkRe = regexp.MustCompile(models.ThinkTag)
)

// Request is a single system+user completion
type Request struct {
	System string
	User   string
	// nil uses the client default
	Temperature *float64
	MaxTokens   int
}

// Temperature is a helper for Request.Temperature
func Temperature(t float64) *float64 { return &t }

// Completer produces one completion per call
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// generator is a provider specific backend
type generator interface {
	generate(ctx context.Context, req Request) (string, error)
}

// Client wraps a provider with a rate limiter, circuit breaker, per-call
// timeout and tracing. It is safe for concurrent use.
type Client struct {
	gen         generator
	provider    string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	metrics     *telemetry.Metrics
}

// New creates a client for the provider named in cfg
func New(ctx context.Context, cfg config.LLMConfig, metrics *telemetry.Metrics) (*Client, error) {
	log.Debug().Interface("llmConfig", map[string]any{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating llm client")

	var (
		gen generator
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		gen, err = newOpenAIGenerator(cfg)
	case "ollama":
		gen, err = newOllamaGenerator(cfg)
	case "gemini":
		gen, err = newGeminiGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: llm provider %q", models.ErrUnsupportedProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newClient(gen, cfg, metrics), nil
}

func newClient(gen generator, cfg config.LLMConfig, metrics *telemetry.Metrics) *Client {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 60 * time.Second
	}

	name := cfg.Provider + ":" + cfg.Model
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		gen:         gen,
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     breaker,
		metrics:     metrics,
	}
}

func (c *Client) Model() string { return c.model }

// Close releases the provider client when it holds one
func (c *Client) Close() error {
	if closer, ok := c.gen.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Complete runs one completion. Reasoning blocks are stripped from the reply.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	tracer := otel.Tracer("legal-rag/llmservice")
	ctx, span := tracer.Start(ctx, "llm.complete")
	defer span.End()

	if req.Temperature == nil {
		req.Temperature = Temperature(c.temperature)
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	span.SetAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", c.model),
		attribute.Float64("llm.temperature", *req.Temperature),
		attribute.Int("llm.prompt_chars", len(req.System)+len(req.User)),
	)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordLLMCall(ctx, c.provider, false)
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		text, err := c.gen.generate(ctx, req)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
		if text == "" {
			return nil, ErrEmptyCompletion
		}
		return text, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("llm.circuit_breaker_open", true))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordLLMCall(ctx, c.provider, false)
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("llm.completion_chars", len(text)))
	c.metrics.RecordLLMCall(ctx, c.provider, true)
	return text, nil
}
