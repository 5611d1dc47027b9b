package helper

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	_, err = uuid.Parse(a)
	assert.NoError(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "Überw", Truncate("Überweisung", 5))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestCreateFolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(path))
	assert.DirExists(t, path)
}

func TestWritePretty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePretty(&buf, map[string]int{"chunks": 2}))
	assert.Equal(t, "{\n  \"chunks\": 2\n}\n", buf.String())
}
