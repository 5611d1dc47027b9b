package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag/internal/chromemdb"
	"legal-rag/internal/chunker"
	"legal-rag/internal/embedding"
	"legal-rag/internal/extractor"
	"legal-rag/internal/index"
	"legal-rag/internal/llmservice"
	"legal-rag/internal/models"
	"legal-rag/internal/parser"
	"legal-rag/internal/rag"
)

type fakeLLM struct {
	mu       sync.Mutex
	replies  map[string]string
	requests []llmservice.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llmservice.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	reply, ok := f.replies[req.System]
	if !ok {
		return "", errors.New("model unavailable")
	}
	return reply, nil
}

func (f *fakeLLM) userPrompt(system string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.System == system {
			return r.User
		}
	}
	return ""
}

func newFakeLLM(docType string) *fakeLLM {
	return &fakeLLM{replies: map[string]string{
		models.ClassifySystemPrompt: fmt.Sprintf(`{"document_type": %q}`, docType),
		models.FactsSystemPrompt:    `{"parties": ["Acme Leasing", "Jane Roe"], "issues": ["unpaid rent"]}`,
		models.AnalysisSystemPrompt: "Rent is overdue.",
		models.ResponseSystemPrompt: "We acknowledge the notice and propose a payment plan.",
		models.EvaluateSystemPrompt: `{"confidence": "90%", "reasoning": "Direct", "key_points": ["payment plan"]}`,
	}}
}

type pipeline struct {
	*Orchestrator
	llm   *fakeLLM
	index index.Index
}

func newPipeline(t *testing.T, docType string, opts Options) pipeline {
	t.Helper()
	idx, err := chromemdb.NewVectorDBManager(chromemdb.Options{InMemory: true, Collection: "legal_documents"},
		embedding.NewHashEmbedder(embedding.DefaultHashDimension))
	require.NoError(t, err)
	return newPipelineWithIndex(docType, idx, opts)
}

func newPipelineWithIndex(docType string, idx index.Index, opts Options) pipeline {
	llm := newFakeLLM(docType)
	o := New(Deps{
		Index:     idx,
		Analyzer:  extractor.New(llm, extractor.Options{}),
		Responder: rag.New(llm, idx, rag.DefaultOptions()),
		Files:     parser.New(),
	}, opts)
	return pipeline{Orchestrator: o, llm: llm, index: idx}
}

func contract(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Clause %03d binds the lessee to pay rent monthly. ", i)
	}
	return strings.TrimSpace(b.String())
}

func letter() string {
	para := strings.TrimSpace(strings.Repeat("the landlord failed to return the deposit ", 21))
	return "Dear Sir,\n\n" + para + ".\n\n" + para + ".\n\n" + para + ".\n\nYours faithfully"
}

func TestIngest_WhitespaceOnly(t *testing.T) {
	p := newPipeline(t, "letter", Options{})
	res := p.Ingest(context.Background(), "  \n\t ", "blank.txt")

	assert.False(t, res.Success)
	assert.Equal(t, "no text content to index", res.Error)
	assert.Nil(t, res.Document)
	assert.Empty(t, p.llm.requests)
}

func TestIngest_ContractIsChunkedAndIndexed(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "contract", Options{ChunkSize: 1000, ChunkOverlap: 200})
	text := contract(100)

	res := p.Ingest(ctx, text, "lease.pdf")
	require.True(t, res.Success, res.Error)

	doc := res.Document
	assert.Equal(t, models.DocumentTypeContract, doc.Type)
	assert.Equal(t, []string{"Acme Leasing", "Jane Roe"}, doc.Parties)
	assert.Equal(t, []string{"unpaid rent"}, doc.Issues)
	assert.Equal(t, len(strings.Fields(text)), doc.Metadata[MetaWordCount])
	assert.Equal(t, 1, doc.Metadata[MetaParagraphs])
	assert.Equal(t, extractor.ClassifiedByModel, doc.Metadata[models.MetaClassifiedBy])
	assert.Greater(t, doc.ChunkCount, 1)
	assert.Len(t, res.Chunks, doc.ChunkCount)

	stored, err := p.index.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, doc.ChunkCount)
	for i, r := range stored {
		assert.Equal(t, models.ChunkID(doc.ID, i), r.ChunkID)
		assert.Equal(t, fmt.Sprint(i), r.Metadata[models.MetaChunkIndex])
		assert.Equal(t, "contract", r.Metadata[models.MetaDocumentType])
		assert.Equal(t, "lease.pdf", r.Metadata[models.MetaFilename])
		assert.Equal(t, `["Acme Leasing","Jane Roe"]`, r.Metadata[models.MetaParties])
	}

	assert.Equal(t, text, documentText(stored))
}

func TestIngest_LetterIsOneChunk(t *testing.T) {
	p := newPipeline(t, "letter", Options{ChunkSize: 1000, ChunkOverlap: 200, ChunkUnit: chunker.UnitWords})

	res := p.Ingest(context.Background(), letter(), "letter.txt")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Document.ChunkCount)
	assert.Equal(t, models.DocumentTypeLetter, res.Document.Type)
}

func TestIngest_UnknownTypeFallsBack(t *testing.T) {
	p := newPipeline(t, "memo", Options{})
	res := p.Ingest(context.Background(), "A short memo.", "memo.txt")
	require.True(t, res.Success)
	assert.Equal(t, models.DocumentTypeLetter, res.Document.Type)
	assert.Equal(t, extractor.ClassifiedByFallback, res.Document.Metadata[models.MetaClassifiedBy])
}

type brokenIndex struct {
	index.Index
}

func (brokenIndex) Upsert(context.Context, []models.Chunk) error {
	return errors.New("disk full")
}

func (brokenIndex) GetByDocument(context.Context, string) ([]models.SearchResult, error) {
	return nil, errors.New("disk full")
}

func TestIngest_StorageFailure(t *testing.T) {
	p := newPipelineWithIndex("letter", brokenIndex{}, Options{})

	res := p.Ingest(context.Background(), "Please pay the invoice.", "invoice.txt")
	assert.False(t, res.Success)
	assert.Equal(t, "failed to store document in vector index: disk full", res.Error)
	require.NotNil(t, res.Document)
	assert.Len(t, res.Chunks, 1)
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "notice", Options{ChunkSize: 500, ChunkOverlap: 100})
	text := contract(30)

	res := p.Ingest(ctx, text, "notice.txt")
	require.True(t, res.Success, res.Error)

	resp, found, err := p.Respond(ctx, res.Document.ID, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, res.Document.ID, resp.DocumentID)
	assert.Equal(t, models.DefaultResponseType, resp.ResponseType)
	assert.Equal(t, "We acknowledge the notice and propose a payment plan.", resp.Text)
	assert.Equal(t, 0.9, resp.Confidence)
	assert.Equal(t, []string{"payment plan"}, resp.KeyPoints)

	// the rebuilt document is what gets analysed
	assert.Contains(t, p.llm.userPrompt(models.AnalysisSystemPrompt), text)
	assert.Contains(t, p.llm.userPrompt(models.EvaluateSystemPrompt), "Document Parties: Acme Leasing, Jane Roe")
}

func TestRespond_UnknownDocument(t *testing.T) {
	p := newPipeline(t, "letter", Options{})
	resp, found, err := p.Respond(context.Background(), "does-not-exist", "")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, resp)
}

func TestRespond_IndexError(t *testing.T) {
	p := newPipelineWithIndex("letter", brokenIndex{}, Options{})
	_, found, err := p.Respond(context.Background(), "doc", "")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "letter", Options{})

	res := p.Ingest(ctx, "Notice to vacate the premises.", "vacate.txt")
	require.True(t, res.Success)

	require.NoError(t, p.Delete(ctx, res.Document.ID))
	require.NoError(t, p.Delete(ctx, res.Document.ID))

	_, found, err := p.Respond(ctx, res.Document.ID, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBatchIngest_KeepsOrder(t *testing.T) {
	p := newPipeline(t, "letter", Options{BatchWorkers: 2})
	dir := t.TempDir()
	path := filepath.Join(dir, "complaint.txt")
	require.NoError(t, os.WriteFile(path, []byte("The tenant complains about mold."), 0o644))

	results := p.BatchIngest(context.Background(), []Source{
		{Text: "First letter.", Filename: "a.txt"},
		{Text: "   ", Filename: "empty.txt"},
		{Path: path},
		{Path: filepath.Join(dir, "missing.txt")},
		{Text: "Last letter.", Filename: "z.txt"},
	})

	require.Len(t, results, 5)
	assert.Equal(t, "a.txt", results[0].Source)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].ChunkCount)
	assert.NotEmpty(t, results[0].DocumentID)

	assert.Equal(t, "empty.txt", results[1].Source)
	assert.False(t, results[1].Success)

	assert.Equal(t, path, results[2].Source)
	assert.True(t, results[2].Success)

	assert.False(t, results[3].Success)
	assert.True(t, results[4].Success)
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "complaint", Options{})
	dir := t.TempDir()

	path := filepath.Join(dir, "complaint.txt")
	require.NoError(t, os.WriteFile(path, []byte("The tenant complains about mold."), 0o644))
	res := p.IngestFile(ctx, path)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "complaint.txt", res.Document.Filename)
	assert.Equal(t, path, res.Chunks[0].Metadata[models.MetaSourceFile])

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	res = p.IngestFile(ctx, empty)
	assert.False(t, res.Success)
	assert.Equal(t, "no text content extracted from empty.txt", res.Error)
}

func TestProcessAndRespond(t *testing.T) {
	p := newPipeline(t, "complaint", Options{})
	path := filepath.Join(t.TempDir(), "complaint.md")
	require.NoError(t, os.WriteFile(path, []byte("# Complaint\n\nThe heating has failed."), 0o644))

	res, resp, err := p.ProcessAndRespond(context.Background(), path, "firm")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "firm", resp.Tone)

	_, _, err = p.ProcessAndRespond(context.Background(), filepath.Join(t.TempDir(), "x.png"), "")
	assert.Error(t, err)
}

func TestSearch_GroupsByDocument(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "contract", Options{ChunkSize: 200, ChunkOverlap: 40})

	lease := p.Ingest(ctx, contract(12), "lease.txt")
	require.True(t, lease.Success)
	other := p.Ingest(ctx, "Software escrow agreement for source code deposits.", "escrow.txt")
	require.True(t, other.Success)

	matches, err := p.Search(ctx, "lessee pays rent monthly", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	assert.Equal(t, lease.Document.ID, matches[0].DocumentID)
	assert.Equal(t, "lease.txt", matches[0].Filename)
	assert.Equal(t, models.DocumentTypeContract, matches[0].DocumentType)

	seen := map[string]bool{}
	total := 0
	for i, m := range matches {
		assert.False(t, seen[m.DocumentID])
		seen[m.DocumentID] = true
		total += len(m.Chunks)
		assert.Equal(t, m.Chunks[0].Score, m.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, matches[i-1].Score, m.Score)
		}
	}
	assert.Equal(t, 5, total)
}

func TestStatsAndBackup(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, "letter", Options{EmbeddingModel: "hash"})
	require.True(t, p.Ingest(ctx, "Short letter.", "a.txt").Success)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunks)
	assert.Equal(t, "legal_documents", stats.Collection)
	assert.Equal(t, "hash", stats.Model)

	path := filepath.Join(t.TempDir(), "backup.gob")
	require.NoError(t, p.Backup(ctx, path))
	require.NoError(t, p.Restore(ctx, path))

	broken := newPipelineWithIndex("letter", brokenIndex{}, Options{})
	assert.ErrorIs(t, broken.Backup(ctx, path), ErrBackupUnsupported)
}

func TestCountParagraphs(t *testing.T) {
	assert.Equal(t, 0, countParagraphs("  "))
	assert.Equal(t, 1, countParagraphs("one line"))
	assert.Equal(t, 3, countParagraphs("a\n\nb\r\n\r\nc\n\n\n\n"))
}
