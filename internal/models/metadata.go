package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// chunk metadata keys
const (
	MetaDocumentID   = "document_id"
	MetaChunkIndex   = "chunk_index"
	MetaOverlap      = "overlap"
	MetaFilename     = "filename"
	MetaDocumentType = "document_type"
	MetaParties      = "parties"
	MetaIssues       = "issues"
	MetaCreatedAt    = "created_at"
	MetaSourceFile   = "source_file"
	MetaClassifiedBy = "classified_by"
	MetaSeq          = "seq"
)

// ChunkMetadata builds the flat string metadata stored on every chunk of doc
func ChunkMetadata(doc *Document, index, overlap int) map[string]string {
	m := map[string]string{
		MetaDocumentID:   doc.ID,
		MetaChunkIndex:   strconv.Itoa(index),
		MetaOverlap:      strconv.Itoa(overlap),
		MetaFilename:     doc.Filename,
		MetaDocumentType: string(doc.Type),
		MetaParties:      encodeList(doc.Parties),
		MetaIssues:       encodeList(doc.Issues),
		MetaCreatedAt:    doc.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, k := range []string{MetaSourceFile, MetaClassifiedBy} {
		if v, ok := doc.Metadata[k].(string); ok && v != "" {
			m[k] = v
		}
	}
	return m
}

// DocumentFromMetadata rebuilds the document header stored on a chunk.
// Content and ChunkCount are left to the caller.
func DocumentFromMetadata(meta map[string]string) *Document {
	doc := &Document{
		ID:       meta[MetaDocumentID],
		Filename: meta[MetaFilename],
		Parties:  DecodeList(meta[MetaParties]),
		Issues:   DecodeList(meta[MetaIssues]),
		Metadata: map[string]any{},
	}
	doc.Type, _ = ParseDocumentType(meta[MetaDocumentType])
	if t, err := time.Parse(time.RFC3339, meta[MetaCreatedAt]); err == nil {
		doc.CreatedAt = t
	}
	for _, k := range []string{MetaSourceFile, MetaClassifiedBy} {
		if v := meta[k]; v != "" {
			doc.Metadata[k] = v
		}
	}
	return doc
}

// MetaInt reads an integer metadata value, returning def when absent or malformed
func MetaInt(meta map[string]string, key string, def int) int {
	v, ok := meta[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeList parses a JSON encoded string list, returning an empty list on bad input
func DecodeList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}
