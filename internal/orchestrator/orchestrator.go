// Package orchestrator runs the ingest and respond flows over the chunker,
// fact extractor, embedding index and response generator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"legal-rag/internal/chunker"
	"legal-rag/internal/extractor"
	"legal-rag/internal/helper"
	"legal-rag/internal/index"
	"legal-rag/internal/models"
	"legal-rag/internal/parser"
	"legal-rag/internal/telemetry"
)

const (
	MetaWordCount  = "word_count"
	MetaParagraphs = "paragraphs"

	DefaultBatchWorkers = 4
)

var ErrBackupUnsupported = errors.New("index backend does not support backup")

// Analyzer extracts document facts during ingest
type Analyzer interface {
	Analyze(ctx context.Context, text string) extractor.Analysis
}

// Responder produces a response for a rebuilt document
type Responder interface {
	Run(ctx context.Context, doc *models.Document, responseType string) *models.Response
}

type Deps struct {
	Index     index.Index
	Analyzer  Analyzer
	Responder Responder
	// optional, required by IngestFile
	Files   parser.TextExtractor
	Metrics *telemetry.Metrics
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	ChunkUnit    chunker.Unit
	BatchWorkers int
	ResponseType string
	// reported by Stats
	EmbeddingModel string
}

type Orchestrator struct {
	deps    Deps
	opts    Options
	chunker *chunker.Chunker
	tracer  trace.Tracer
	closers []func() error
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = DefaultBatchWorkers
	}
	if opts.ResponseType == "" {
		opts.ResponseType = models.DefaultResponseType
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		chunker: chunker.New(opts.ChunkSize, opts.ChunkOverlap, chunker.WithUnit(opts.ChunkUnit)),
		tracer:  otel.Tracer("legal-rag/orchestrator"),
	}
}

// Ingest chunks, analyses and indexes one document
func (o *Orchestrator) Ingest(ctx context.Context, text, filename string) *models.IngestResult {
	return o.ingest(ctx, text, filename, nil)
}

func (o *Orchestrator) ingest(ctx context.Context, text, filename string, extra map[string]any) (res *models.IngestResult) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ingest", trace.WithAttributes(attribute.String("filename", filename)))
	defer span.End()
	defer func() {
		o.deps.Metrics.RecordIngest(ctx, res.Success)
		span.SetAttributes(attribute.Bool("success", res.Success))
	}()

	if strings.TrimSpace(text) == "" {
		return &models.IngestResult{Error: models.ErrEmptyText.Error()}
	}

	var (
		frags    []chunker.Fragment
		analysis extractor.Analysis
		g        errgroup.Group
	)
	g.Go(func() error {
		frags = o.chunker.Split(text)
		return nil
	})
	g.Go(func() error {
		analysis = o.deps.Analyzer.Analyze(ctx, text)
		return nil
	})
	_ = g.Wait()

	id, err := helper.GenerateUUID()
	if err != nil {
		return &models.IngestResult{Error: err.Error()}
	}

	doc := &models.Document{
		ID:       id,
		Filename: filename,
		Content:  text,
		Type:     analysis.Classification.Type,
		Parties:  nonNil(analysis.Facts.Parties),
		Issues:   nonNil(analysis.Facts.Issues),
		Metadata: map[string]any{
			MetaWordCount:           len(strings.Fields(text)),
			MetaParagraphs:          countParagraphs(text),
			models.MetaClassifiedBy: analysis.ClassifiedBy(),
		},
		ChunkCount: len(frags),
		CreatedAt:  time.Now().UTC(),
	}
	for k, v := range extra {
		doc.Metadata[k] = v
	}

	chunks := make([]models.Chunk, len(frags))
	for i, f := range frags {
		chunks[i] = models.Chunk{
			ID:         models.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Content:    f.Text,
			Index:      i,
			Overlap:    f.Overlap,
			Metadata:   models.ChunkMetadata(doc, i, f.Overlap),
		}
	}

	logger := log.With().Str("document_id", doc.ID).Str("filename", filename).Logger()
	span.SetAttributes(attribute.String("document_id", doc.ID), attribute.Int("chunks", len(chunks)))

	if err := o.deps.Index.Upsert(ctx, chunks); err != nil {
		logger.Error().Err(err).Int("chunks", len(chunks)).Msg("Failed to store document")
		return &models.IngestResult{
			Document: doc,
			Chunks:   chunks,
			Error:    fmt.Sprintf("failed to store document in vector index: %v", err),
		}
	}

	logger.Info().
		Str("document_type", string(doc.Type)).
		Int("chunks", len(chunks)).
		Int("parties", len(doc.Parties)).
		Int("issues", len(doc.Issues)).
		Msg("Document ingested")
	return &models.IngestResult{Success: true, Document: doc, Chunks: chunks}
}

// IngestFile extracts the text of path and ingests it under its base name
func (o *Orchestrator) IngestFile(ctx context.Context, path string) *models.IngestResult {
	if o.deps.Files == nil {
		return &models.IngestResult{Error: "no text extractor configured"}
	}

	text, err := o.deps.Files.ExtractText(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to extract text")
		o.deps.Metrics.RecordIngest(ctx, false)
		return &models.IngestResult{Error: err.Error()}
	}
	name := filepath.Base(path)
	if strings.TrimSpace(text) == "" {
		o.deps.Metrics.RecordIngest(ctx, false)
		return &models.IngestResult{Error: fmt.Sprintf("no text content extracted from %s", name)}
	}
	return o.ingest(ctx, text, name, map[string]any{models.MetaSourceFile: path})
}

// Respond rebuilds a stored document and generates a response for it.
// An unknown document is reported with found=false and no error.
func (o *Orchestrator) Respond(ctx context.Context, documentID, responseType string) (*models.Response, bool, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.respond", trace.WithAttributes(attribute.String("document_id", documentID)))
	defer span.End()

	if responseType == "" {
		responseType = o.opts.ResponseType
	}

	results, err := o.deps.Index.GetByDocument(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if len(results) == 0 {
		log.Info().Str("document_id", documentID).Msg("Document not found")
		o.deps.Metrics.RecordRespond(ctx, false)
		return nil, false, nil
	}

	doc := models.DocumentFromMetadata(results[0].Metadata)
	if doc.ID == "" {
		doc.ID = documentID
	}
	doc.Content = documentText(results)
	doc.ChunkCount = len(results)

	resp := o.deps.Responder.Run(ctx, doc, responseType)
	o.deps.Metrics.RecordRespond(ctx, true)
	return resp, true, nil
}

// documentText joins chunks in index order, dropping the overlap each
// chunk repeats from the one before
func documentText(results []models.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i == 0 {
			b.WriteString(r.Content)
			continue
		}
		b.WriteString(chunker.DropOverlap(r.Content, models.MetaInt(r.Metadata, models.MetaOverlap, 0)))
	}
	return b.String()
}

// ProcessAndRespond ingests a file then responds to it
func (o *Orchestrator) ProcessAndRespond(ctx context.Context, path, responseType string) (*models.IngestResult, *models.Response, error) {
	res := o.IngestFile(ctx, path)
	if !res.Success {
		return res, nil, errors.New(res.Error)
	}
	resp, _, err := o.Respond(ctx, res.Document.ID, responseType)
	return res, resp, err
}

// Search finds chunks similar to query and groups them by document, best match first
func (o *Orchestrator) Search(ctx context.Context, query string, k int) ([]models.DocumentMatch, error) {
	results, err := o.deps.Index.Query(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	matches := []models.DocumentMatch{}
	pos := map[string]int{}
	for _, r := range results {
		i, ok := pos[r.DocumentID]
		if !ok {
			docType, _ := models.ParseDocumentType(r.Metadata[models.MetaDocumentType])
			matches = append(matches, models.DocumentMatch{
				DocumentID:   r.DocumentID,
				Filename:     r.Filename(),
				DocumentType: docType,
			})
			i = len(matches) - 1
			pos[r.DocumentID] = i
		}
		m := &matches[i]
		m.Chunks = append(m.Chunks, r)
		if r.Score > m.Score {
			m.Score = r.Score
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func (o *Orchestrator) Delete(ctx context.Context, documentID string) error {
	return o.deps.Index.DeleteByDocument(ctx, documentID)
}

func (o *Orchestrator) Stats(ctx context.Context) (models.IndexStats, error) {
	stats, err := o.deps.Index.Stats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Model = o.opts.EmbeddingModel
	return stats, nil
}

func (o *Orchestrator) Backup(ctx context.Context, path string) error {
	b, ok := o.deps.Index.(index.Backupper)
	if !ok {
		return ErrBackupUnsupported
	}
	return b.Export(ctx, path)
}

func (o *Orchestrator) Restore(ctx context.Context, path string) error {
	b, ok := o.deps.Index.(index.Backupper)
	if !ok {
		return ErrBackupUnsupported
	}
	return b.Import(ctx, path)
}

// Close releases the index and any clients created by Build
func (o *Orchestrator) Close() error {
	errs := []error{o.deps.Index.Close()}
	for _, c := range o.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func countParagraphs(text string) int {
	n := 0
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
