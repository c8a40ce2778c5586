package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "2026/05/04/abc.ndjson", "application/x-ndjson", strings.NewReader("{}\n"))
	require.NoError(t, err)
	require.Equal(t, "memory://2026/05/04/abc.ndjson", uri)

	obj, ok := store.Get("2026/05/04/abc.ndjson")
	require.True(t, ok)
	require.Equal(t, "application/x-ndjson", obj.ContentType)
	obj.Data[0] = '['

	again, _ := store.Get("2026/05/04/abc.ndjson")
	require.Equal(t, []byte("{}\n"), again.Data)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "b"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b"}, store.Paths())

	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, ok := store.Get("missing")
	require.False(t, ok)
}
