package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
en:
  connection.lost: "Connection lost"
  connection.restored: "Back online"
eu:
  connection.lost: "Konexioa galdu da"
`

func TestCatalog_LocaleFallback(t *testing.T) {
	c := NewCatalog("en")
	require.NoError(t, c.Merge([]byte(sampleCatalog)))
	ctx := context.Background()

	text, err := c.Get(ctx, "eu_ES", "connection.lost")
	require.NoError(t, err)
	assert.Equal(t, "Konexioa galdu da", text)

	text, err = c.Get(ctx, "eu", "connection.restored")
	require.NoError(t, err)
	assert.Equal(t, "Back online", text)

	_, err = c.Get(ctx, "eu", "answer.queued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := LoadCatalog(path, "en")
	require.NoError(t, err)

	c.Set("es", "connection.lost", "Conexión perdida")
	assert.Equal(t, "Conexión perdida", Text(context.Background(), c, "es", "connection.lost", "x"))
	assert.Equal(t, "default", Text(context.Background(), c, "es", "missing", "default"))
	assert.Equal(t, "default", Text(context.Background(), nil, "es", "missing", "default"))
}

func TestLoadCatalog_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	require.NoError(t, os.WriteFile(path, []byte("en: [oops"), 0o600))

	_, err := LoadCatalog(path, "en")
	assert.Error(t, err)
}
