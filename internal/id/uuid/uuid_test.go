package uuid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsPrefixedUUID7(t *testing.T) {
	t.Parallel()

	id, err := New().NewID()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, RunPrefix))

	parsed, err := uuid.Parse(strings.TrimPrefix(id, RunPrefix))
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestNewIDsAreUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	g := NewWithPrefix("")
	prev := ""
	seen := make(map[string]struct{})
	for range 100 {
		id, err := g.NewID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		require.Greater(t, id, prev)
		prev = id
	}
}
