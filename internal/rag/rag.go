// Package rag produces a response suggestion for an ingested document.
//
// A run moves through four stages in order: the document is analysed, similar
// documents are retrieved as precedents, a response is generated from the
// analysis and precedents, and the response is scored by the model. Only a
// failed generation produces an error response; every other failure is
// replaced by a default and the run continues.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"legal-rag/internal/helper"
	"legal-rag/internal/llmschema"
	"legal-rag/internal/llmservice"
	"legal-rag/internal/models"
	"legal-rag/internal/telemetry"
)

type Stage string

const (
	StageAnalyzing            Stage = "analyzing"
	StageRetrievingPrecedents Stage = "retrieving_precedents"
	StageGenerating           Stage = "generating"
	StageEvaluating           Stage = "evaluating"
	StageDone                 Stage = "done"
)

const (
	DefaultTopK                  = 3
	DefaultAnalysisChars         = 3000
	DefaultAnalysisTemperature   = 0.1
	DefaultGenerationTemperature = 0.3

	precedentChars = 200
)

// Retriever is the read side of the embedding index
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]models.SearchResult, error)
}

type Options struct {
	TopK                  int
	AnalysisChars         int
	AnalysisTemperature   float64
	GenerationTemperature float64
	// drop the document's own chunks from its precedents
	ExcludeSelf bool
	Metrics     *telemetry.Metrics
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		TopK:                  DefaultTopK,
		AnalysisChars:         DefaultAnalysisChars,
		AnalysisTemperature:   DefaultAnalysisTemperature,
		GenerationTemperature: DefaultGenerationTemperature,
		ExcludeSelf:           true,
	}
}

type Generator struct {
	llm       llmservice.Completer
	retriever Retriever
	opts      Options
	tracer    trace.Tracer
}

func New(llm llmservice.Completer, retriever Retriever, opts Options) *Generator {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.AnalysisChars <= 0 {
		opts.AnalysisChars = DefaultAnalysisChars
	}
	return &Generator{
		llm:       llm,
		retriever: retriever,
		opts:      opts,
		tracer:    otel.Tracer("legal-rag/rag"),
	}
}

// Run executes the pipeline for doc. It always returns a response, tagged
// with the "error" tone when generation failed.
func (g *Generator) Run(ctx context.Context, doc *models.Document, responseType string) (resp *models.Response) {
	if responseType == "" {
		responseType = models.DefaultResponseType
	}

	ctx, span := g.tracer.Start(ctx, "rag.run", trace.WithAttributes(
		attribute.String("document_id", doc.ID),
		attribute.String("response_type", responseType),
	))
	defer span.End()

	logger := log.With().Str("document_id", doc.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Response generation panicked")
			span.AddEvent("panic")
			resp = errorResponse(doc.ID, responseType)
		}
	}()

	enter := func(stage Stage) time.Time {
		logger.Debug().Str("stage", string(stage)).Msg("Entering stage")
		span.AddEvent(string(stage))
		return time.Now()
	}
	leave := func(stage Stage, started time.Time) {
		g.opts.Metrics.RecordStage(ctx, string(stage), time.Since(started))
	}

	started := enter(StageAnalyzing)
	analysis := g.Analyze(ctx, doc)
	leave(StageAnalyzing, started)

	started = enter(StageRetrievingPrecedents)
	precedents := g.RetrievePrecedents(ctx, doc)
	leave(StageRetrievingPrecedents, started)

	started = enter(StageGenerating)
	text, err := g.Generate(ctx, analysis, FormatPrecedents(precedents), responseType)
	leave(StageGenerating, started)
	if err != nil {
		logger.Error().Err(err).Msg("Response generation failed")
		g.opts.Metrics.RecordFallback(ctx, string(StageGenerating))
		return errorResponse(doc.ID, responseType)
	}

	started = enter(StageEvaluating)
	eval := g.Evaluate(ctx, doc, text)
	leave(StageEvaluating, started)

	enter(StageDone)
	span.SetAttributes(attribute.Float64("confidence", eval.Confidence), attribute.Int("precedents", len(precedents)))

	return &models.Response{
		DocumentID:   doc.ID,
		ResponseType: responseType,
		Text:         text,
		Confidence:   eval.Confidence,
		Reasoning:    eval.Reasoning,
		KeyPoints:    eval.KeyPoints,
		Tone:         responseType,
		Precedents:   precedents,
		CreatedAt:    time.Now().UTC(),
	}
}

// Analyze asks for a structured legal analysis of the document's opening text.
// On failure a summary of the extracted facts stands in.
func (g *Generator) Analyze(ctx context.Context, doc *models.Document) string {
	analysis, err := g.llm.Complete(ctx, llmservice.Request{
		System:      models.AnalysisSystemPrompt,
		User:        fmt.Sprintf(models.AnalysisUserPrompt, helper.Truncate(doc.Content, g.opts.AnalysisChars)),
		Temperature: llmservice.Temperature(g.opts.AnalysisTemperature),
	})
	if err == nil {
		return analysis
	}

	log.Warn().Err(err).Str("document_id", doc.ID).Msg("Analysis failed, using extracted facts")
	g.opts.Metrics.RecordFallback(ctx, string(StageAnalyzing))
	return FallbackAnalysis(doc)
}

func FallbackAnalysis(doc *models.Document) string {
	return fmt.Sprintf(models.FallbackAnalysisTemplate,
		doc.Type,
		joinOrNone(doc.Parties),
		joinOrNone(doc.Issues),
		helper.Truncate(doc.Content, precedentChars),
	)
}

// PrecedentQuery is the retrieval query built from a document's facts
func PrecedentQuery(doc *models.Document) string {
	return fmt.Sprintf("legal issues: %s parties: %s", strings.Join(doc.Issues, ", "), strings.Join(doc.Parties, ", "))
}

// RetrievePrecedents returns up to TopK similar chunks. An index error yields none.
func (g *Generator) RetrievePrecedents(ctx context.Context, doc *models.Document) []models.SearchResult {
	k := g.opts.TopK
	fetch := k
	if g.opts.ExcludeSelf {
		fetch += max(doc.ChunkCount, 0)
	}

	results, err := g.retriever.Query(ctx, PrecedentQuery(doc), fetch)
	if err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("Precedent search failed, continuing without precedents")
		g.opts.Metrics.RecordFallback(ctx, string(StageRetrievingPrecedents))
		return []models.SearchResult{}
	}

	out := make([]models.SearchResult, 0, k)
	for _, r := range results {
		if g.opts.ExcludeSelf && r.DocumentID == doc.ID {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out
}

// FormatPrecedents renders search results as a numbered list for the prompt
func FormatPrecedents(results []models.SearchResult) string {
	if len(results) == 0 {
		return models.NoPrecedentsText
	}

	var b strings.Builder
	b.WriteString(models.PrecedentsHeader)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. Document: %s\n", i+1, r.Filename())
		fmt.Fprintf(&b, "   Relevance: %.2f\n", r.Score)
		fmt.Fprintf(&b, "   Content: %s...\n\n", helper.Truncate(r.Content, precedentChars))
	}
	return b.String()
}

func (g *Generator) Generate(ctx context.Context, analysis, precedents, responseType string) (string, error) {
	return g.llm.Complete(ctx, llmservice.Request{
		System:      models.ResponseSystemPrompt,
		User:        fmt.Sprintf(models.ResponseUserPrompt, analysis, precedents, responseType),
		Temperature: llmservice.Temperature(g.opts.GenerationTemperature),
	})
}

// Evaluate scores a generated response against the document's facts
func (g *Generator) Evaluate(ctx context.Context, doc *models.Document, response string) llmschema.Evaluation {
	raw, err := g.llm.Complete(ctx, llmservice.Request{
		System: models.EvaluateSystemPrompt,
		User: fmt.Sprintf(models.EvaluateUserPrompt,
			strings.Join(doc.Issues, ", "),
			strings.Join(doc.Parties, ", "),
			response,
		),
	})
	if err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("Evaluation failed, using default score")
		g.opts.Metrics.RecordFallback(ctx, string(StageEvaluating))
		eval := llmschema.DefaultEvaluation()
		eval.Reasoning = models.EvaluationFailedReason
		return eval
	}
	return llmschema.ParseEvaluation(raw)
}

func errorResponse(documentID, responseType string) *models.Response {
	return &models.Response{
		DocumentID:   documentID,
		ResponseType: responseType,
		Text:         models.ErrorResponseText,
		Confidence:   0.0,
		Reasoning:    models.ErrorResponseReasoning,
		KeyPoints:    []string{},
		Tone:         models.ErrorResponseTone,
		Precedents:   []models.SearchResult{},
		CreatedAt:    time.Now().UTC(),
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none identified"
	}
	return strings.Join(items, ", ")
}
