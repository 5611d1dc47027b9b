// Package config loads application configuration using koanf.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML or JSON file, then LEGALRAG_ environment variables. A .env file in the
// working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

const (
	EnvPrefix         = "LEGALRAG_"
	DefaultConfigPath = "./configs/config.yaml"
)

type Config struct {
	LLM       LLMConfig       `koanf:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding" yaml:"embedding"`
	RAG       RAGConfig       `koanf:"rag" yaml:"rag"`
	Index     IndexConfig     `koanf:"index" yaml:"index"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
}

// LLMConfig configures the completion model
type LLMConfig struct {
	Provider          string        `koanf:"provider" yaml:"provider"` // openai, ollama or gemini
	BaseURL           string        `koanf:"base_url" yaml:"base_url"`
	Key               string        `koanf:"key" yaml:"key"`
	Model             string        `koanf:"model" yaml:"model"`
	Temperature       float64       `koanf:"temperature" yaml:"temperature"`
	MaxTokens         int           `koanf:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `koanf:"burst" yaml:"burst"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" yaml:"breaker_timeout"`
}

// EmbeddingConfig configures the embedding model
type EmbeddingConfig struct {
	Provider  string        `koanf:"provider" yaml:"provider"` // hash, openai, ollama or gemini
	BaseURL   string        `koanf:"base_url" yaml:"base_url"`
	Key       string        `koanf:"key" yaml:"key"`
	Model     string        `koanf:"model" yaml:"model"`
	Dimension int           `koanf:"dimension" yaml:"dimension"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
}

// RAGConfig holds chunking, retrieval and generation settings
type RAGConfig struct {
	ChunkSize             int     `koanf:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap          int     `koanf:"chunk_overlap" yaml:"chunk_overlap"`
	ChunkUnit             string  `koanf:"chunk_unit" yaml:"chunk_unit"` // chars or words
	TopK                  int     `koanf:"top_k" yaml:"top_k"`
	ClassifyChars         int     `koanf:"classify_chars" yaml:"classify_chars"`
	AnalysisChars         int     `koanf:"analysis_chars" yaml:"analysis_chars"`
	AnalysisTemperature   float64 `koanf:"analysis_temperature" yaml:"analysis_temperature"`
	GenerationTemperature float64 `koanf:"generation_temperature" yaml:"generation_temperature"`
	ExcludeSelf           bool    `koanf:"exclude_self" yaml:"exclude_self"`
	BatchWorkers          int     `koanf:"batch_workers" yaml:"batch_workers"`
	ResponseType          string  `koanf:"response_type" yaml:"response_type"`
}

// IndexConfig selects and configures the embedding index backend
type IndexConfig struct {
	Backend       string `koanf:"backend" yaml:"backend"` // chromem, pgvector or sqlitevec
	Path          string `koanf:"path" yaml:"path"`
	Collection    string `koanf:"collection" yaml:"collection"`
	InMemory      bool   `koanf:"in_memory" yaml:"in_memory"`
	Compress      bool   `koanf:"compress" yaml:"compress"`
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
	SQLitePath    string `koanf:"sqlite_path" yaml:"sqlite_path"`
}

// DatabaseConfig is used by the pgvector backend
type DatabaseConfig struct {
	Driver string `koanf:"driver" yaml:"driver"` // pgdriver or postgres
	DSN    string `koanf:"dsn" yaml:"dsn"`
	Debug  bool   `koanf:"debug" yaml:"debug"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // console or json
}

type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled" yaml:"enabled"`
	Endpoint    string  `koanf:"endpoint" yaml:"endpoint"`
	Insecure    bool    `koanf:"insecure" yaml:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string  `koanf:"service_name" yaml:"service_name"`
}

// Load reads configuration from path (optional) and the environment
func Load(path string) (*Config, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	k := koanf.New(".")
	for key, value := range defaults() {
		_ = k.Set(key, value)
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environ,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LEGALRAG_LLM__MAX_TOKENS -> llm.max_tokens
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	parser := koanf.Parser(yaml.Parser())
	if strings.EqualFold(filepath.Ext(path), ".json") {
		parser = json.Parser()
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func defaults() map[string]any {
	return map[string]any{
		"llm.provider":            "openai",
		"llm.base_url":            "",
		"llm.model":               "gpt-4",
		"llm.temperature":         0.1,
		"llm.max_tokens":          2000,
		"llm.timeout":             "60s",
		"llm.requests_per_minute": 60,
		"llm.burst":               5,
		"llm.breaker_timeout":     "60s",

		"embedding.provider":  "hash",
		"embedding.model":     "",
		"embedding.dimension": 384,
		"embedding.timeout":   "30s",

		"rag.chunk_size":             1000,
		"rag.chunk_overlap":          200,
		"rag.chunk_unit":             "chars",
		"rag.top_k":                  3,
		"rag.classify_chars":         2000,
		"rag.analysis_chars":         3000,
		"rag.analysis_temperature":   0.1,
		"rag.generation_temperature": 0.3,
		"rag.exclude_self":           true,
		"rag.batch_workers":          4,
		"rag.response_type":          "professional",

		"index.backend":     "chromem",
		"index.path":        "./chroma_db",
		"index.collection":  "legal_documents",
		"index.in_memory":   false,
		"index.compress":    false,
		"index.sqlite_path": "./legal_rag.db",

		"database.driver": "pgdriver",
		"database.debug":  false,

		"log.level":  "info",
		"log.format": "console",

		"telemetry.enabled":      false,
		"telemetry.endpoint":     "localhost:4317",
		"telemetry.insecure":     true,
		"telemetry.sample_ratio": 1.0,
		"telemetry.service_name": "legal-rag",
	}
}
