// Package index defines the embedding index contract shared by the vector
// store backends and opens the one selected in configuration.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"legal-rag/internal/chromemdb"
	"legal-rag/internal/config"
	"legal-rag/internal/db"
	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
	"legal-rag/internal/sqlitevec"
)

const (
	BackendChromem   = chromemdb.BackendName
	BackendPgvector  = db.BackendName
	BackendSQLiteVec = sqlitevec.BackendName
)

// Index stores document chunks with their embeddings and answers similarity
// queries over them. Implementations are safe for concurrent use.
type Index interface {
	// Upsert embeds chunks without a vector and stores all of them, or none
	Upsert(ctx context.Context, chunks []models.Chunk) error
	// Query returns up to k chunks by descending similarity in [0,1]
	Query(ctx context.Context, text string, k int) ([]models.SearchResult, error)
	// GetByDocument returns a document's chunks in index order, score 1
	GetByDocument(ctx context.Context, documentID string) ([]models.SearchResult, error)
	// DeleteByDocument removes a document's chunks; unknown ids are not an error
	DeleteByDocument(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (models.IndexStats, error)
	Close() error
}

// Backupper is implemented by backends that can snapshot to a file
type Backupper interface {
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) error
}

var (
	_ Index     = (*chromemdb.VectorDBManager)(nil)
	_ Backupper = (*chromemdb.VectorDBManager)(nil)
	_ Index     = (*db.Store)(nil)
	_ Index     = (*sqlitevec.Store)(nil)
)

// Open creates the backend named by cfg.Index.Backend
func Open(ctx context.Context, cfg *config.Config, embedder embedding.Embedder) (Index, error) {
	backend := strings.ToLower(cfg.Index.Backend)
	log.Debug().Str("backend", backend).Str("collection", cfg.Index.Collection).Msg("Opening embedding index")

	switch backend {
	case "", BackendChromem:
		return chromemdb.NewVectorDBManager(chromemdb.Options{
			Path:          cfg.Index.Path,
			Collection:    cfg.Index.Collection,
			InMemory:      cfg.Index.InMemory,
			Compress:      cfg.Index.Compress,
			EncryptionKey: cfg.Index.EncryptionKey,
		}, embedder)
	case BackendPgvector:
		return db.Open(ctx, db.Options{
			Driver:     cfg.Database.Driver,
			DSN:        cfg.Database.DSN,
			Debug:      cfg.Database.Debug,
			Collection: cfg.Index.Collection,
			Dimension:  cfg.Embedding.Dimension,
		}, embedder)
	case BackendSQLiteVec:
		return sqlitevec.Open(ctx, sqlitevec.Options{
			Path:       cfg.Index.SQLitePath,
			Collection: cfg.Index.Collection,
		}, embedder)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedBackend, cfg.Index.Backend)
	}
}
