package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	llmProviders       = []string{"openai", "ollama", "gemini"}
	embeddingProviders = []string{"hash", "openai", "ollama", "gemini"}
	indexBackends      = []string{"chromem", "pgvector", "sqlitevec"}
)

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if !oneOf(c.LLM.Provider, llmProviders) {
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if !oneOf(c.Embedding.Provider, embeddingProviders) {
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if !oneOf(c.Index.Backend, indexBackends) {
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if c.RAG.ChunkSize < 1 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.ChunkUnit != "chars" && c.RAG.ChunkUnit != "words" {
		return fmt.Errorf("rag.chunk_unit must be chars or words, got %q", c.RAG.ChunkUnit)
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be at least 1, got %d", c.RAG.TopK)
	}
	if c.RAG.BatchWorkers < 1 {
		return fmt.Errorf("rag.batch_workers must be at least 1, got %d", c.RAG.BatchWorkers)
	}
	if c.Embedding.Provider == "hash" && c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Index.Backend == "pgvector" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the pgvector backend")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio)
	}
	return nil
}

// Dump renders the effective configuration as YAML with secrets masked
func (c *Config) Dump() (string, error) {
	masked := *c
	masked.LLM.Key = mask(c.LLM.Key)
	masked.Embedding.Key = mask(c.Embedding.Key)
	masked.Index.EncryptionKey = mask(c.Index.EncryptionKey)
	masked.Database.DSN = mask(c.Database.DSN)

	b, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(b), nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
