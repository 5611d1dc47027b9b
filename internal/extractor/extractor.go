// Package extractor derives the document type, parties and issues of a legal
// document with one completion each. Model failures fall back to defaults and
// are never returned to the caller.
package extractor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"legal-rag/internal/helper"
	"legal-rag/internal/llmschema"
	"legal-rag/internal/llmservice"
	"legal-rag/internal/models"
	"legal-rag/internal/telemetry"
)

const (
	DefaultClassifyChars = 2000

	ClassifiedByModel    = "model"
	ClassifiedByFallback = "fallback"
)

type Classification struct {
	Type models.DocumentType
	// Raw is the model reply, empty when the call failed
	Raw     string
	Matched bool
}

type Analysis struct {
	Classification Classification
	Facts          llmschema.Facts
}

// ClassifiedBy reports whether the document type came from the model
func (a Analysis) ClassifiedBy() string {
	if a.Classification.Matched {
		return ClassifiedByModel
	}
	return ClassifiedByFallback
}

type Options struct {
	// prefix of the document sent to the model, in characters
	ClassifyChars int
	Metrics       *telemetry.Metrics
}

type Extractor struct {
	llm           llmservice.Completer
	classifyChars int
	metrics       *telemetry.Metrics
}

func New(llm llmservice.Completer, opts Options) *Extractor {
	if opts.ClassifyChars <= 0 {
		opts.ClassifyChars = DefaultClassifyChars
	}
	return &Extractor{
		llm:           llm,
		classifyChars: opts.ClassifyChars,
		metrics:       opts.Metrics,
	}
}

// Classify names the document category, defaulting to letter
func (e *Extractor) Classify(ctx context.Context, text string) Classification {
	ctx, span := otel.Tracer("legal-rag/extractor").Start(ctx, "extractor.classify")
	defer span.End()

	raw, err := e.llm.Complete(ctx, llmservice.Request{
		System: models.ClassifySystemPrompt,
		User:   fmt.Sprintf(models.ClassifyUserPrompt, helper.Truncate(text, e.classifyChars)),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Classification failed, using default document type")
		e.metrics.RecordFallback(ctx, "classify")
		return Classification{Type: models.DefaultDocumentType}
	}

	docType, ok := llmschema.ParseClassification(raw)
	if !ok {
		log.Warn().Str("reply", helper.Truncate(raw, 80)).Msg("Unrecognised document type, using default")
		e.metrics.RecordFallback(ctx, "classify")
	}
	span.SetAttributes(attribute.String("document.type", string(docType)), attribute.Bool("matched", ok))
	return Classification{Type: docType, Raw: raw, Matched: ok}
}

// ExtractFacts lists the parties and legal issues. Missing lists are empty.
func (e *Extractor) ExtractFacts(ctx context.Context, text string) llmschema.Facts {
	ctx, span := otel.Tracer("legal-rag/extractor").Start(ctx, "extractor.facts")
	defer span.End()

	raw, err := e.llm.Complete(ctx, llmservice.Request{
		System: models.FactsSystemPrompt,
		User:   fmt.Sprintf(models.FactsUserPrompt, helper.Truncate(text, e.classifyChars)),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Fact extraction failed, using empty parties and issues")
		e.metrics.RecordFallback(ctx, "facts")
		return llmschema.Facts{Parties: []string{}, Issues: []string{}}
	}

	facts, ok := llmschema.ParseFacts(raw)
	if !ok {
		log.Warn().Str("reply", helper.Truncate(raw, 80)).Msg("No parties or issues found in reply")
		e.metrics.RecordFallback(ctx, "facts")
	}
	span.SetAttributes(attribute.Int("parties", len(facts.Parties)), attribute.Int("issues", len(facts.Issues)))
	return facts
}

// Analyze runs classification and fact extraction concurrently
func (e *Extractor) Analyze(ctx context.Context, text string) Analysis {
	var a Analysis
	var g errgroup.Group
	g.Go(func() error {
		a.Classification = e.Classify(ctx, text)
		return nil
	})
	g.Go(func() error {
		a.Facts = e.ExtractFacts(ctx, text)
		return nil
	})
	_ = g.Wait()
	return a
}
