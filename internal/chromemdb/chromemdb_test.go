package chromemdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
)

func newTestManager(t *testing.T, e embedding.Embedder) *VectorDBManager {
	t.Helper()
	if e == nil {
		e = embedding.NewHashEmbedder(64)
	}
	m, err := NewVectorDBManager(Options{InMemory: true, Collection: "test"}, e)
	require.NoError(t, err)
	return m
}

func chunksFor(docID string, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{
			ID:         models.ChunkID(docID, i),
			DocumentID: docID,
			Content:    text,
			Index:      i,
			Metadata:   map[string]string{models.MetaFilename: docID + ".txt"},
		}
	}
	return out
}

func TestUpsertAndGetByDocument(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	require.NoError(t, m.Upsert(ctx, chunksFor("doc-a", "first part", "second part", "third part")))
	require.NoError(t, m.Upsert(ctx, chunksFor("doc-b", "unrelated")))

	got, err := m.GetByDocument(ctx, "doc-a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, models.ChunkID("doc-a", i), r.ChunkID)
		assert.Equal(t, "doc-a", r.DocumentID)
		assert.Equal(t, 1.0, r.Score)
		assert.Equal(t, "doc-a.txt", r.Filename())
	}

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalChunks)
	assert.Equal(t, "test", stats.Collection)
	assert.Equal(t, BackendName, stats.Backend)
}

func TestUpsertRejectsInvalidChunk(t *testing.T) {
	m := newTestManager(t, nil)
	chunks := chunksFor("doc-a", "text")
	chunks[0].ID = "other"

	err := m.Upsert(context.Background(), chunks)
	assert.ErrorIs(t, err, models.ErrInvalidChunk)
}

type failingEmbedder struct {
	inner embedding.Embedder
	calls atomic.Int32
	after int32
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) > f.after {
		return nil, errors.New("embedding service unavailable")
	}
	return f.inner.Embed(ctx, text)
}

func TestUpsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := &failingEmbedder{inner: embedding.NewHashEmbedder(64), after: 2}
	m := newTestManager(t, e)

	err := m.Upsert(ctx, chunksFor("doc-a", "one", "two", "three", "four"))
	require.Error(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, embedding.NewHashEmbedder(embedding.DefaultHashDimension))

	require.NoError(t, m.Upsert(ctx, chunksFor("lease",
		"The landlord has not returned the security deposit.",
		"Rent is payable on the first day of each month.")))
	require.NoError(t, m.Upsert(ctx, chunksFor("license",
		"This software license covers source code escrow.")))

	t.Run("sorted and bounded", func(t *testing.T) {
		got, err := m.Query(ctx, "security deposit returned", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "lease:0", got[0].ChunkID)
		assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
		for _, r := range got {
			assert.GreaterOrEqual(t, r.Score, 0.0)
			assert.LessOrEqual(t, r.Score, 1.0)
		}
	})

	t.Run("k larger than collection", func(t *testing.T) {
		got, err := m.Query(ctx, "anything", 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("non-positive k", func(t *testing.T) {
		got, err := m.Query(ctx, "anything", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestQueryEmptyCollection(t *testing.T) {
	m := newTestManager(t, nil)
	got, err := m.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	// 15 equal scores, well past the 2k first fetch
	for _, doc := range []string{"doc0", "doc1", "doc2", "doc3", "doc4"} {
		require.NoError(t, m.Upsert(ctx, chunksFor(doc, "same text", "same text", "same text")))
	}

	got, err := m.Query(ctx, "same text", 4)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ChunkID
		assert.InDelta(t, 1.0, r.Score, 1e-6)
	}
	assert.Equal(t, []string{"doc0:0", "doc0:1", "doc0:2", "doc1:0"}, ids)
}

func TestQueryTiesBehindBetterMatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	for _, doc := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, m.Upsert(ctx, chunksFor(doc, "breach of contract")))
	}
	require.NoError(t, m.Upsert(ctx, chunksFor("exact", "breach of contract notice")))

	got, err := m.Query(ctx, "breach of contract notice", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "exact", got[0].DocumentID)
	assert.Equal(t, "a", got[1].DocumentID)
	assert.Equal(t, "b", got[2].DocumentID)
}

func TestSearchWithQueryOptions(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	require.NoError(t, m.Upsert(ctx, chunksFor("doc-a", "security deposit", "rent schedule")))

	_, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{NResults: 1})
	assert.Error(t, err)

	got, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryText: "security deposit",
		NResults:  1,
		Where:     map[string]string{models.MetaDocumentID: "doc-a"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-a:0", got[0].ID)
}

func TestDeleteByDocumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	require.NoError(t, m.DeleteByDocument(ctx, "missing"))

	require.NoError(t, m.Upsert(ctx, chunksFor("doc-a", "one", "two")))
	require.NoError(t, m.Upsert(ctx, chunksFor("doc-b", "three")))

	require.NoError(t, m.DeleteByDocument(ctx, "doc-a"))
	require.NoError(t, m.DeleteByDocument(ctx, "doc-a"))

	got, err := m.GetByDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, _ := m.Stats(ctx)
	assert.Equal(t, 1, stats.TotalChunks)
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	require.NoError(t, m.Upsert(ctx, chunksFor("doc-a", "one")))

	require.NoError(t, m.DeleteCollection())

	stats, _ := m.Stats(ctx)
	assert.Zero(t, stats.TotalChunks)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.gob")

	src := newTestManager(t, nil)
	require.NoError(t, src.Upsert(ctx, chunksFor("doc-a", "one", "two")))
	require.NoError(t, src.Export(ctx, path))

	dst := newTestManager(t, nil)
	require.NoError(t, dst.Import(ctx, path))

	got, err := dst.GetByDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, dst.Upsert(ctx, chunksFor("doc-b", "three")))
	stats, _ := dst.Stats(ctx)
	assert.Equal(t, 3, stats.TotalChunks)
}

func TestImportWhileQuerying(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.gob")

	m := newTestManager(t, nil)
	require.NoError(t, m.Upsert(ctx, chunksFor("doc-a", "one", "two")))
	require.NoError(t, m.Export(ctx, path))

	done := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := m.Query(ctx, "one", 2); err != nil {
				errs <- err
				return
			}
			if _, err := m.Stats(ctx); err != nil {
				errs <- err
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Import(ctx, path))
	}
	close(done)
	assert.NoError(t, <-errs)
}

func TestExportRejectsShortKey(t *testing.T) {
	m, err := NewVectorDBManager(Options{InMemory: true, Collection: "test", EncryptionKey: "short"}, embedding.NewHashEmbedder(8))
	require.NoError(t, err)
	assert.Error(t, m.Export(context.Background(), filepath.Join(t.TempDir(), "x.gob")))
}
