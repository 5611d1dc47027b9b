package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
)

const BackendName = "chromem"

// VectorDBManager stores chunks in a chromem-go collection
type VectorDBManager struct {
	db            *chromem.DB
	// swapped on import, read without writeMu
	collection    atomic.Pointer[chromem.Collection]
	embedder      embedding.Embedder
	dbPath        string
	compress      bool
	encryptionKey string

	// serialises writers so a failed upsert can restore what it replaced
	writeMu sync.Mutex
	seq     atomic.Int64
}

// Options configures NewVectorDBManager
type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	Compress      bool
	EncryptionKey string
}

// NewVectorDBManager opens (or creates) the database and its collection
func NewVectorDBManager(opts Options, embedder embedding.Embedder) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		embedder:      embedder,
		dbPath:        opts.Path,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
	}
	m.seq.Store(time.Now().UnixNano())

	if _, err := m.GetOrCreateCollection(opts.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, embedding.ChromemFunc(m.embedder))
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection.Store(c)
	return c, nil
}

func (m *VectorDBManager) coll() *chromem.Collection { return m.collection.Load() }

// Upsert embeds the chunks and writes them. Either every chunk is stored or,
// on failure, the collection is left as it was.
func (m *VectorDBManager) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := models.ValidateChunks(chunks); err != nil {
		return err
	}

	docs, err := m.toDocuments(ctx, chunks)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	prior := make(map[string]chromem.Document, len(docs))
	var added []string
	for _, d := range docs {
		if old, err := m.coll().GetByID(ctx, d.ID); err == nil {
			prior[d.ID] = old
		} else {
			added = append(added, d.ID)
		}
	}

	if err := m.coll().AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		m.rollback(ctx, added, prior)
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (m *VectorDBManager) toDocuments(ctx context.Context, chunks []models.Chunk) ([]chromem.Document, error) {
	var texts []string
	var missing []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			texts = append(texts, c.Content)
			missing = append(missing, i)
		}
	}
	vectors, err := embedding.EmbedAll(ctx, m.embedder, texts, runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(c.Metadata)+4)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[models.MetaDocumentID] = c.DocumentID
		meta[models.MetaChunkIndex] = strconv.Itoa(c.Index)
		meta[models.MetaOverlap] = strconv.Itoa(c.Overlap)
		meta[models.MetaSeq] = strconv.FormatInt(m.seq.Add(1), 10)
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  meta,
			Embedding: c.Embedding,
		}
	}
	for j, i := range missing {
		docs[i].Embedding = vectors[j]
	}
	return docs, nil
}

func (m *VectorDBManager) rollback(ctx context.Context, added []string, prior map[string]chromem.Document) {
	if len(added) > 0 {
		if err := m.coll().Delete(ctx, nil, nil, added...); err != nil {
			log.Error().Err(err).Int("chunks", len(added)).Msg("rollback: failed to remove new chunks")
		}
	}
	if len(prior) == 0 {
		return
	}
	restore := make([]chromem.Document, 0, len(prior))
	for _, d := range prior {
		restore = append(restore, d)
	}
	if err := m.coll().AddDocuments(ctx, restore, runtime.NumCPU()); err != nil {
		log.Error().Err(err).Int("chunks", len(restore)).Msg("rollback: failed to restore replaced chunks")
	}
}

// Query returns up to k chunks most similar to text
func (m *VectorDBManager) Query(ctx context.Context, text string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	// one handle for the whole query, a restore may swap it
	c := m.coll()
	count := c.Count()
	if count == 0 {
		return []models.SearchResult{}, nil
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// over-fetch, and keep widening while the cut-off falls inside a run of
	// equal scores, so ties resolve by insertion order
	n := min(count, 2*k)
	for {
		results, err := search(ctx, c, chromem.QueryOptions{
			QueryEmbedding: vec,
			NResults:       n,
		})
		if err != nil {
			return nil, err
		}

		out := make([]models.SearchResult, 0, len(results))
		for _, r := range results {
			out = append(out, toSearchResult(r.ID, r.Content, r.Metadata, models.ClampScore(float64(r.Similarity))))
		}
		models.SortResults(out, seqOf)
		if n < count && models.TiedAtCut(out, k) {
			n = min(count, 2*n)
			continue
		}
		if len(out) > k {
			out = out[:k]
		}
		return out, nil
	}
}

// SearchWithQueryOptions runs a raw chromem query
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	return search(ctx, m.coll(), opts)
}

func search(ctx context.Context, c *chromem.Collection, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	results, err := c.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// GetByDocument returns every chunk of a document in index order with score 1
func (m *VectorDBManager) GetByDocument(ctx context.Context, documentID string) ([]models.SearchResult, error) {
	out := []models.SearchResult{}
	if documentID == "" {
		return out, nil
	}
	for i := 0; ; i++ {
		doc, err := m.coll().GetByID(ctx, models.ChunkID(documentID, i))
		if err != nil {
			break
		}
		out = append(out, toSearchResult(doc.ID, doc.Content, doc.Metadata, 1.0))
	}
	return out, nil
}

// DeleteByDocument removes every chunk of a document. Unknown ids are a no-op.
func (m *VectorDBManager) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err := m.coll().Delete(ctx, map[string]string{models.MetaDocumentID: documentID}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

func (m *VectorDBManager) Stats(_ context.Context) (models.IndexStats, error) {
	return models.IndexStats{
		TotalChunks: m.coll().Count(),
		Collection:  m.coll().Name,
		Backend:     BackendName,
	}, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	name := m.coll().Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

func (m *VectorDBManager) Close() error { return nil }

func toSearchResult(id, content string, meta map[string]string, score float64) models.SearchResult {
	return models.SearchResult{
		ChunkID:    id,
		DocumentID: meta[models.MetaDocumentID],
		Content:    content,
		Score:      score,
		Metadata:   meta,
	}
}

func seqOf(r models.SearchResult) int64 {
	n, err := strconv.ParseInt(r.Metadata[models.MetaSeq], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var errNoBackupPath = errors.New("backup path is required")
