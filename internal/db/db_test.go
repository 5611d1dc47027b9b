package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag/internal/embedding"
	"legal-rag/internal/models"
)

// set LEGALRAG_TEST_PG_DSN to a database with the vector extension available
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEGALRAG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEGALRAG_TEST_PG_DSN not set")
	}

	e := embedding.NewHashEmbedder(embedding.DefaultHashDimension)
	s, err := Open(context.Background(), Options{
		DSN:        dsn,
		Collection: "test_" + uuid.NewString(),
		Dimension:  e.Dimension(),
	}, e)
	require.NoError(t, err)
	t.Cleanup(func() {
		// the DSN points at a scratch database
		assert.NoError(t, DropChunks(context.Background(), s.db))
		_ = s.Close()
	})
	return s
}

func chunksFor(docID string, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{
			ID:         models.ChunkID(docID, i),
			DocumentID: docID,
			Content:    text,
			Index:      i,
			Metadata:   map[string]string{models.MetaFilename: docID + ".pdf"},
		}
	}
	return out
}

func TestConnectDBRequiresDSN(t *testing.T) {
	_, err := ConnectDB("pgdriver", "")
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, chunksFor("lease",
		"The landlord has not returned the security deposit.",
		"Rent is payable on the first day of each month.")))
	require.NoError(t, s.Upsert(ctx, chunksFor("license",
		"This software license covers source code escrow.")))

	got, err := s.GetByDocument(ctx, "lease")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "lease:1", got[1].ChunkID)
	assert.Equal(t, "lease.pdf", got[0].Filename())

	results, err := s.Query(ctx, "security deposit returned", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "lease:0", results[0].ChunkID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	require.NoError(t, s.DeleteByDocument(ctx, "lease"))
	require.NoError(t, s.DeleteByDocument(ctx, "lease"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunks)
	assert.Equal(t, BackendName, stats.Backend)
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	chunks := chunksFor("doc", "text")
	chunks[0].Embedding = []float32{1, 0}

	err := s.Upsert(context.Background(), chunks)
	assert.Error(t, err)
}
