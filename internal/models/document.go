package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType is the closed set of legal document categories
type DocumentType string

const (
	DocumentTypeLetter    DocumentType = "letter"
	DocumentTypeContract  DocumentType = "contract"
	DocumentTypeNotice    DocumentType = "notice"
	DocumentTypeComplaint DocumentType = "complaint"
	DocumentTypeResponse  DocumentType = "response"

	// DefaultDocumentType is used whenever classification is unavailable or out of set
	DefaultDocumentType = DocumentTypeLetter
)

// DocumentTypes lists every valid category in prompt order
var DocumentTypes = []DocumentType{
	DocumentTypeLetter,
	DocumentTypeContract,
	DocumentTypeNotice,
	DocumentTypeComplaint,
	DocumentTypeResponse,
}

// ParseDocumentType maps a model reply or a stored value onto the closed set.
// The boolean reports whether the input matched a known category.
func ParseDocumentType(s string) (DocumentType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.Trim(v, ".:\"'`*")
	switch v {
	case "letter", "legal_letter", "legal letter", "legal-letter":
		return DocumentTypeLetter, true
	case "contract":
		return DocumentTypeContract, true
	case "notice":
		return DocumentTypeNotice, true
	case "complaint":
		return DocumentTypeComplaint, true
	case "response":
		return DocumentTypeResponse, true
	}
	return DefaultDocumentType, false
}

// Document is one ingested legal document
type Document struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content,omitempty"`
	Type       DocumentType   `json:"document_type"`
	Parties    []string       `json:"parties"`
	Issues     []string       `json:"issues"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Chunk is a contiguous fragment of a document's text
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Index      int               `json:"chunk_index"`
	Overlap    int               `json:"overlap"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
}

// ChunkID derives the index id of a chunk from its document and position
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// SearchResult is a chunk returned by the index together with its similarity
type SearchResult struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Filename returns the source filename recorded on the chunk, if any
func (r SearchResult) Filename() string {
	if r.Metadata == nil {
		return "Unknown"
	}
	if f := r.Metadata[MetaFilename]; f != "" {
		return f
	}
	return "Unknown"
}

// Response is the generated reply suggestion for a document
type Response struct {
	DocumentID   string         `json:"document_id"`
	ResponseType string         `json:"response_type"`
	Text         string         `json:"response_text"`
	Confidence   float64        `json:"confidence_score"`
	Reasoning    string         `json:"reasoning"`
	KeyPoints    []string       `json:"key_points"`
	Tone         string         `json:"tone"`
	Precedents   []SearchResult `json:"precedents,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IngestResult reports the outcome of ingesting a single document
type IngestResult struct {
	Success  bool      `json:"success"`
	Document *Document `json:"document,omitempty"`
	Chunks   []Chunk   `json:"chunks,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// BatchResult is one entry of a batch ingest report
type BatchResult struct {
	Source     string `json:"source"`
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// DocumentMatch groups search hits belonging to the same document
type DocumentMatch struct {
	DocumentID   string         `json:"document_id"`
	Filename     string         `json:"filename"`
	DocumentType DocumentType   `json:"document_type"`
	Score        float64        `json:"score"`
	Chunks       []SearchResult `json:"chunks"`
}

// IndexStats summarises the contents of an embedding index
type IndexStats struct {
	TotalChunks int    `json:"total_chunks"`
	Collection  string `json:"collection_name"`
	Backend     string `json:"backend"`
	Model       string `json:"embedding_model,omitempty"` // set by the orchestrator
}
