// Package db is the Postgres embedding index: chunks live in one table with a
// pgvector column and are queried by cosine distance.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
)

const BackendName = "pgvector"

// ChunkRecord is one stored chunk. Collections share the table.
type ChunkRecord struct {
	bun.BaseModel `bun:"table:legal_chunks,alias:c"`
	Seq           int64             `bun:"seq,pk,autoincrement"`
	ID            string            `bun:"id,notnull,unique:legal_chunks_collection_id"`
	Collection    string            `bun:"collection,notnull,unique:legal_chunks_collection_id"`
	DocumentID    string            `bun:"document_id,notnull"`
	ChunkIndex    int               `bun:"chunk_index,notnull"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,notnull,type:vector"`
}

type scoredRecord struct {
	ChunkRecord `bun:",extend"`
	Score       float64 `bun:"score"`
}

type Options struct {
	// pgdriver (default) or postgres for lib/pq
	Driver     string
	DSN        string
	Debug      bool
	Collection string
	// expected embedding length, 0 skips the check
	Dimension int
}

type Store struct {
	db         *bun.DB
	embedder   embedding.Embedder
	collection string
	dim        int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if strings.EqualFold(driver, "postgres") {
		return sql.Open("postgres", dsn)
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
}

// Open connects and creates the schema if needed
func Open(ctx context.Context, opts Options, embedder embedding.Embedder) (*Store, error) {
	sqldb, err := ConnectDB(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := NewDB(sqldb, opts.Debug)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: db, embedder: embedder, collection: opts.Collection, dim: opts.Dimension}, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*ChunkRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*ChunkRecord)(nil)).
		Index("legal_chunks_document_idx").
		Column("collection", "document_id", "chunk_index").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}
	return nil
}

// drop table legal_chunks
func DropChunks(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*ChunkRecord)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert embeds then writes every chunk in one transaction
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := models.ValidateChunks(chunks); err != nil {
		return err
	}

	records, err := s.records(ctx, chunks)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&records).
			On("CONFLICT (id, collection) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("metadata = EXCLUDED.metadata").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
		return nil
	})
}

func (s *Store) records(ctx context.Context, chunks []models.Chunk) ([]ChunkRecord, error) {
	var texts []string
	var missing []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			texts = append(texts, c.Content)
			missing = append(missing, i)
		}
	}
	embedded, err := embedding.EmbedAll(ctx, s.embedder, texts, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ID:         c.ID,
			Collection: s.collection,
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Metadata:   c.Metadata,
		}
		if len(c.Embedding) > 0 {
			records[i].Embedding = pgvector.NewVector(c.Embedding)
		}
	}
	for j, i := range missing {
		records[i].Embedding = pgvector.NewVector(embedded[j])
	}

	if s.dim > 0 {
		for _, r := range records {
			if n := len(r.Embedding.Slice()); n != s.dim {
				return nil, fmt.Errorf("embedding dimension %d does not match index dimension %d", n, s.dim)
			}
		}
	}
	return records, nil
}

// Query orders by cosine distance; ties fall back to insertion order
func (s *Store) Query(ctx context.Context, text string, k int) ([]models.SearchResult, error) {
	out := []models.SearchResult{}
	if k <= 0 {
		return out, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	query := pgvector.NewVector(vec)

	var rows []scoredRecord
	err = s.db.NewSelect().
		Model(&rows).
		Column("seq", "id", "document_id", "chunk_index", "content", "metadata").
		ColumnExpr("1 - (c.embedding <=> ?) AS score", query).
		Where("c.collection = ?", s.collection).
		OrderExpr("c.embedding <=> ?", query).
		OrderExpr("c.seq ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}

	for _, r := range rows {
		out = append(out, toResult(r.ChunkRecord, models.ClampScore(r.Score)))
	}
	return out, nil
}

func (s *Store) GetByDocument(ctx context.Context, documentID string) ([]models.SearchResult, error) {
	var rows []ChunkRecord
	err := s.db.NewSelect().
		Model(&rows).
		ExcludeColumn("embedding").
		Where("c.collection = ?", s.collection).
		Where("c.document_id = ?", documentID).
		Order("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, toResult(r, 1.0))
	}
	return out, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	res, err := s.db.NewDelete().
		Model((*ChunkRecord)(nil)).
		Where("collection = ?", s.collection).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	n, _ := res.RowsAffected()
	log.Debug().Str("document_id", documentID).Int64("chunks", n).Msg("Deleted document chunks")
	return nil
}

func (s *Store) Stats(ctx context.Context) (models.IndexStats, error) {
	n, err := s.db.NewSelect().
		Model((*ChunkRecord)(nil)).
		Where("collection = ?", s.collection).
		Count(ctx)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	return models.IndexStats{TotalChunks: n, Collection: s.collection, Backend: BackendName}, nil
}

func toResult(r ChunkRecord, score float64) models.SearchResult {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return models.SearchResult{
		ChunkID:    r.ID,
		DocumentID: r.DocumentID,
		Content:    r.Content,
		Score:      score,
		Metadata:   meta,
	}
}
