package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"legal-rag/internal/llmservice"
	"legal-rag/internal/models"
)

// scriptedLLM answers by matching the system prompt
type scriptedLLM struct {
	mu       sync.Mutex
	classify string
	facts    string
	err      error
	prompts  []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llmservice.Request) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.User)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if req.System == models.ClassifySystemPrompt {
		return s.classify, nil
	}
	return s.facts, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    models.DocumentType
		matched bool
	}{
		{"json", `{"document_type": "contract"}`, models.DocumentTypeContract, true},
		{"bare word", "Notice.", models.DocumentTypeNotice, true},
		{"alias", "legal_letter", models.DocumentTypeLetter, true},
		{"unknown", "memorandum", models.DefaultDocumentType, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&scriptedLLM{classify: tt.reply}, Options{})
			got := e.Classify(context.Background(), "text")
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.reply, got.Raw)
		})
	}
}

func TestClassify_CallFailure(t *testing.T) {
	e := New(&scriptedLLM{err: errors.New("timeout")}, Options{})
	got := e.Classify(context.Background(), "text")
	assert.Equal(t, Classification{Type: models.DocumentTypeLetter}, got)
}

func TestClassify_TruncatesInput(t *testing.T) {
	llm := &scriptedLLM{classify: "letter"}
	e := New(llm, Options{ClassifyChars: 10})
	e.Classify(context.Background(), strings.Repeat("x", 50))
	assert.Contains(t, llm.prompts[0], strings.Repeat("x", 10))
	assert.NotContains(t, llm.prompts[0], strings.Repeat("x", 11))
}

func TestExtractFacts(t *testing.T) {
	e := New(&scriptedLLM{facts: "PARTIES: Acme Corp, John Smith\nISSUES: breach of contract"}, Options{})
	got := e.ExtractFacts(context.Background(), "text")
	assert.Equal(t, []string{"Acme Corp", "John Smith"}, got.Parties)
	assert.Equal(t, []string{"breach of contract"}, got.Issues)
}

func TestExtractFacts_Fallbacks(t *testing.T) {
	e := New(&scriptedLLM{err: errors.New("down")}, Options{})
	got := e.ExtractFacts(context.Background(), "text")
	assert.Equal(t, []string{}, got.Parties)
	assert.Equal(t, []string{}, got.Issues)

	e = New(&scriptedLLM{facts: "I could not find anything."}, Options{})
	got = e.ExtractFacts(context.Background(), "text")
	assert.Empty(t, got.Parties)
	assert.Empty(t, got.Issues)
}

func TestAnalyze(t *testing.T) {
	llm := &scriptedLLM{
		classify: `{"document_type": "complaint"}`,
		facts:    `{"parties": ["Tenant"], "issues": ["mold", "repairs"]}`,
	}
	a := New(llm, Options{}).Analyze(context.Background(), "text")

	assert.Equal(t, models.DocumentTypeComplaint, a.Classification.Type)
	assert.Equal(t, []string{"Tenant"}, a.Facts.Parties)
	assert.Equal(t, []string{"mold", "repairs"}, a.Facts.Issues)
	assert.Equal(t, ClassifiedByModel, a.ClassifiedBy())
	assert.Len(t, llm.prompts, 2)
}
