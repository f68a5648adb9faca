// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/storage/local"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ValidConfig", func(t *testing.T) {
		blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, blobs)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "exports", "results")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		data := []byte(`{"result_id":"a"}`)
		uri, err := blobs.PutObject(ctx, "results/a.json", "application/json", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "results/a.json"), uri)

		got, err := blobs.GetObject(ctx, "results/a.json")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})
	t.Run("Missing", func(t *testing.T) {
		_, err := blobs.GetObject(ctx, "results/missing.json")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
	t.Run("EmptyPath", func(t *testing.T) {
		_, err := blobs.PutObject(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})
	t.Run("Traversal", func(t *testing.T) {
		_, err := blobs.PutObject(ctx, "../escape.json", "application/json", []byte("{}"))
		assert.ErrorContains(t, err, "traversal")
		_, err = blobs.GetObject(ctx, "../../etc/passwd")
		assert.ErrorContains(t, err, "traversal")
	})
}
