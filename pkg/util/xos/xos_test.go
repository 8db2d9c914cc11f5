package xos_test

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/util/xos"
)

func TestCreate(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := filepath.Join("a", "b", "c.txt")

	f, err := xos.Create(fsys, path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWriteFileAtomic(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := filepath.Join("store", "mapping.json")

	require.NoError(t, xos.WriteFileAtomic(fsys, path, []byte(`{"a":1}`), 0o600))
	content, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content))

	// overwrite keeps the file consistent
	require.NoError(t, xos.WriteFileAtomic(fsys, path, []byte(`{"a":2}`), 0o600))
	content, err = afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(content))

	// no temporary files left behind
	entries, err := afero.ReadDir(fsys, "store")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
