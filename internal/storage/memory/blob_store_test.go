package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

func TestBlobStoreRoundTripCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte("content")
	uri, err := blobs.PutObject(context.Background(), "results/a.json", "application/json", payload)
	require.NoError(t, err)
	assert.Equal(t, "memory://results/a.json", uri)

	payload[0] = 'C'
	got, err := blobs.GetObject(context.Background(), "results/a.json")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := blobs.GetObject(context.Background(), "results/a.json")
	require.NoError(t, err)
	assert.Equal(t, "content", string(again))
	assert.Equal(t, []string{"results/a.json"}, blobs.Paths())
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = NewBlobStore().PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
