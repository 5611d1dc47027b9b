package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"legal-rag/internal/chunker"
	"legal-rag/internal/config"
	"legal-rag/internal/embedding"
	"legal-rag/internal/extractor"
	"legal-rag/internal/index"
	"legal-rag/internal/llmservice"
	"legal-rag/internal/parser"
	"legal-rag/internal/rag"
	"legal-rag/internal/telemetry"
)

// replaced in tests
var newEmbedder = embedding.New

// Build wires a pipeline from configuration. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*Orchestrator, error) {
	var closers []func() error
	fail := func(err error) (*Orchestrator, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if c, ok := embedder.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	llm, err := llmservice.New(ctx, cfg.LLM, metrics)
	if err != nil {
		return fail(fmt.Errorf("failed to create llm client: %w", err))
	}
	closers = append(closers, llm.Close)

	idx, err := index.Open(ctx, cfg, embedder)
	if err != nil {
		return fail(fmt.Errorf("failed to open embedding index: %w", err))
	}
	log.Info().
		Str("llm_provider", cfg.LLM.Provider).
		Str("llm_model", llm.Model()).
		Str("index_backend", cfg.Index.Backend).
		Msg("Pipeline ready")

	generator := rag.New(llm, idx, rag.Options{
		TopK:                  cfg.RAG.TopK,
		AnalysisChars:         cfg.RAG.AnalysisChars,
		AnalysisTemperature:   cfg.RAG.AnalysisTemperature,
		GenerationTemperature: cfg.RAG.GenerationTemperature,
		ExcludeSelf:           cfg.RAG.ExcludeSelf,
		Metrics:               metrics,
	})

	model := cfg.Embedding.Provider
	if cfg.Embedding.Model != "" {
		model += ":" + cfg.Embedding.Model
	}

	o := New(Deps{
		Index:     idx,
		Analyzer:  extractor.New(llm, extractor.Options{ClassifyChars: cfg.RAG.ClassifyChars, Metrics: metrics}),
		Responder: generator,
		Files:     parser.New(),
		Metrics:   metrics,
	}, Options{
		ChunkSize:      cfg.RAG.ChunkSize,
		ChunkOverlap:   cfg.RAG.ChunkOverlap,
		ChunkUnit:      chunker.Unit(cfg.RAG.ChunkUnit),
		BatchWorkers:   cfg.RAG.BatchWorkers,
		ResponseType:   cfg.RAG.ResponseType,
		EmbeddingModel: model,
	})
	o.closers = append(o.closers, closers...)
	return o, nil
}
