// Package sqlitevec provides an embedding index on SQLite with the sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver
	"github.com/rs/zerolog/log"

	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
)

const (
	BackendName = "sqlitevec"

	// vec0 refuses larger k
	maxKNN = 4096
)

func init() {
	sqlite_vec.Auto()
}

var tableNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

type Options struct {
	Path       string
	Collection string
}

// Store keeps chunk rows in a plain table and their vectors in a vec0
// virtual table keyed by chunk id
type Store struct {
	db         *sql.DB
	embedder   embedding.Embedder
	collection string
	chunks     string
	vectors    string

	mu  sync.Mutex
	dim int
}

// Open creates the database file and chunk table if needed
func Open(ctx context.Context, opts Options, embedder embedding.Embedder) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	name := tableName(opts.Collection)
	s := &Store{
		db:         db,
		embedder:   embedder,
		collection: opts.Collection,
		chunks:     name + "_chunks",
		vectors:    name + "_vec",
	}
	if err := s.initDB(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func tableName(collection string) string {
	name := tableNameRe.ReplaceAllString(strings.ToLower(collection), "_")
	if name == "" {
		return "legal_documents"
	}
	return name
}

func (s *Store) initDB(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[1]s_document_id ON %[1]s (document_id, chunk_index);
	`, s.chunks)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureVecTable creates the vec0 table on first insert, when the dimension is known
func (s *Store) ensureVecTable(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 {
		if s.dim != dim {
			return fmt.Errorf("embedding dimension %d does not match index dimension %d", dim, s.dim)
		}
		return nil
	}

	exists, err := s.vecTableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		query := fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d]
		)`, s.vectors, dim)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", s.vectors, err)
		}
	}
	s.dim = dim
	return nil
}

func (s *Store) vecTableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", s.vectors).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", s.vectors, err)
	}
	return n > 0, nil
}

// Upsert writes all chunks in one transaction
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := models.ValidateChunks(chunks); err != nil {
		return err
	}

	vectors, err := s.vectorsFor(ctx, chunks)
	if err != nil {
		return err
	}
	if err := s.ensureVecTable(ctx, len(vectors[0])); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsertChunk := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, content, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata
	`, s.chunks)
	deleteVec := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.vectors)
	insertVec := fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES (?, ?)`, s.vectors)

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertChunk, c.ID, c.DocumentID, c.Index, c.Content, string(meta)); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}

		// vec0 doesn't support UPDATE
		if _, err := tx.ExecContext(ctx, deleteVec, c.ID); err != nil {
			return fmt.Errorf("failed to delete old vector: %w", err)
		}
		blob, err := sqlite_vec.SerializeFloat32(normalize(vectors[i]))
		if err != nil {
			return fmt.Errorf("failed to serialize vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertVec, c.ID, blob); err != nil {
			return fmt.Errorf("failed to insert chunk vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) vectorsFor(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	var texts []string
	var missing []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			texts = append(texts, c.Content)
			missing = append(missing, i)
			continue
		}
		vectors[i] = c.Embedding
	}
	embedded, err := embedding.EmbedAll(ctx, s.embedder, texts, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	for j, i := range missing {
		vectors[i] = embedded[j]
	}
	return vectors, nil
}

// Query runs a KNN search. Vectors are unit length so the L2 distance d maps
// to cosine similarity 1 - d²/2.
func (s *Store) Query(ctx context.Context, text string, k int) ([]models.SearchResult, error) {
	out := []models.SearchResult{}
	if k <= 0 {
		return out, nil
	}
	exists, err := s.vecTableExists(ctx)
	if err != nil || !exists {
		return out, err
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	blob, err := sqlite_vec.SerializeFloat32(normalize(vec))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize vector: %w", err)
	}

	// over-fetch, and keep widening while the cut-off falls inside a run of
	// equal scores, so ties resolve by insertion order
	n := min(2*k, maxKNN)
	for {
		out, err = s.knn(ctx, blob, n)
		if err != nil {
			return nil, err
		}
		if len(out) == n && models.TiedAtCut(out, k) {
			if n < maxKNN {
				n = min(2*n, maxKNN)
				continue
			}
			// vec0 cannot go further, rank every stored vector instead
			if out, err = s.scan(ctx, blob, k); err != nil {
				return nil, err
			}
		}
		if len(out) > k {
			out = out[:k]
		}
		return out, nil
	}
}

const resultColumns = `c.id, c.document_id, c.content, c.metadata, c.seq`

// knn returns the n nearest chunks sorted by score, ties by seq
func (s *Store) knn(ctx context.Context, blob []byte, n int) ([]models.SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT %s, v.distance
		FROM %s v
		JOIN %s c ON c.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, resultColumns, s.vectors, s.chunks)
	return s.rankedRows(ctx, query, blob, n)
}

// scan computes the distance to every stored vector and keeps the best k
func (s *Store) scan(ctx context.Context, blob []byte, k int) ([]models.SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT %s, vec_distance_l2(v.embedding, ?) AS distance
		FROM %s v
		JOIN %s c ON c.id = v.id
		ORDER BY distance, c.seq
		LIMIT ?
	`, resultColumns, s.vectors, s.chunks)
	return s.rankedRows(ctx, query, blob, k)
}

func (s *Store) rankedRows(ctx context.Context, query string, args ...any) ([]models.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.SearchResult{}
	seqs := map[string]int64{}
	for rows.Next() {
		var r models.SearchResult
		var meta string
		var seq int64
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &meta, &seq, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Metadata = decodeMetadata(meta)
		r.Score = models.ClampScore(1 - distance*distance/2)
		seqs[r.ChunkID] = seq
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	models.SortResults(out, func(r models.SearchResult) int64 { return seqs[r.ChunkID] })
	return out, nil
}

func (s *Store) GetByDocument(ctx context.Context, documentID string) ([]models.SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, content, metadata
		FROM %s WHERE document_id = ?
		ORDER BY chunk_index
	`, s.chunks)
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.SearchResult{}
	for rows.Next() {
		r := models.SearchResult{Score: 1.0}
		var meta string
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		r.Metadata = decodeMetadata(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	exists, err := s.vecTableExists(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if exists {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE document_id = ?`, s.chunks), documentID)
		if err != nil {
			return fmt.Errorf("failed to list chunks: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan chunk id: %w", err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()

		deleteVec := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.vectors)
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, deleteVec, id); err != nil {
				return fmt.Errorf("failed to delete vector %s: %w", id, err)
			}
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, s.chunks), documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := res.RowsAffected()
	log.Debug().Str("document_id", documentID).Int64("chunks", n).Msg("Deleted document chunks")
	return nil
}

func (s *Store) Stats(ctx context.Context) (models.IndexStats, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.chunks)).Scan(&n); err != nil {
		return models.IndexStats{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	return models.IndexStats{TotalChunks: n, Collection: s.collection, Backend: BackendName}, nil
}

func decodeMetadata(s string) map[string]string {
	meta := map[string]string{}
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		log.Warn().Err(err).Msg("failed to decode chunk metadata")
	}
	return meta
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
