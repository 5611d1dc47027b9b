package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"legal-rag/internal/config"
	"legal-rag/internal/models"
)

// Embedder maps text to a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the embedder selected by cfg, wrapped with the configured timeout
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating embedder")

	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		e = NewHashEmbedder(cfg.Dimension)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.Key, cfg.BaseURL, cfg.Model)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg.BaseURL, cfg.Model)
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, cfg.Key, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", models.ErrUnsupportedProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(e, cfg.Timeout), nil
}

// LangchainEmbedder adapts a langchaingo embedder
type LangchainEmbedder struct {
	embedder *embeddings.EmbedderImpl
}

func (l *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return l.embedder.EmbedQuery(ctx, text)
}

// NewOpenAIEmbedder creates an embedder for any OpenAI compatible endpoint
func NewOpenAIEmbedder(key, baseURL, model string) (*LangchainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(key, "Bearer ")),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithEmbeddingModel(model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangchainEmbedder{embedder: embedder}, nil
}

// NewOllamaEmbedder creates an embedder backed by a local ollama server
func NewOllamaEmbedder(baseURL, model string) (*LangchainEmbedder, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangchainEmbedder{embedder: embedder}, nil
}

type timeoutEmbedder struct {
	next    Embedder
	timeout time.Duration
}

// WithTimeout bounds every Embed call. A non-positive timeout returns e unchanged.
func WithTimeout(e Embedder, timeout time.Duration) Embedder {
	if timeout <= 0 {
		return e
	}
	return &timeoutEmbedder{next: e, timeout: timeout}
}

func (t *timeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Embed(ctx, text)
}

// Close closes the wrapped embedder when it holds a client
func (t *timeoutEmbedder) Close() error {
	if c, ok := t.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// EmbedAll embeds texts with bounded concurrency, preserving order.
// It fails as a whole if any single text fails.
func EmbedAll(ctx context.Context, e Embedder, texts []string, concurrency int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("failed to embed text %d: %w", i, err)
			}
			if len(vec) == 0 {
				return fmt.Errorf("empty embedding for text %d", i)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ChromemFunc exposes an Embedder as a chromem embedding function
func ChromemFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}
