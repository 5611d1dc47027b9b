package chromemdb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"legal-rag/internal/embedding"
)

// Export writes the collection to path, gzip compressed and AES encrypted
// when configured
func (m *VectorDBManager) Export(_ context.Context, path string) error {
	if path == "" {
		return errNoBackupPath
	}
	if m.encryptionKey != "" && len(m.encryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes long")
	}

	log.Debug().
		Str("collection", m.coll().Name).
		Str("file", path).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting collection")

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.coll().Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one stored at path
func (m *VectorDBManager) Import(_ context.Context, path string) error {
	if path == "" {
		return errNoBackupPath
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	name := m.coll().Name
	if err := m.db.ImportFromFile(path, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}

	// the import replaced the collection object
	c := m.db.GetCollection(name, embedding.ChromemFunc(m.embedder))
	if c == nil {
		return fmt.Errorf("collection %s not found in %s", name, path)
	}
	m.collection.Store(c)
	return nil
}
