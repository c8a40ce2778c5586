package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: "events", Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "events"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), "/archive/")
	require.Equal(t, "archive/2026/05/04/x.ndjson", store.ObjectName("2026/05/04/x.ndjson"))

	bare := newTestStore(t, http.NotFoundHandler(), "")
	require.Equal(t, "x.ndjson", bare.ObjectName("x.ndjson"))

	_, err := bare.PutObject(context.Background(), "  ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	payload := `{"kind":"click"}` + "\n"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/events/o")
		assert.Equal(t, "archive/2026/05/04/abc.ndjson", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		assert.Contains(t, string(body), "application/x-ndjson")

		fmt.Fprintln(w, `{"name":"archive/2026/05/04/abc.ndjson","bucket":"events"}`)
	})

	store := newTestStore(t, handler, "archive")
	uri, err := store.PutObject(context.Background(), "2026/05/04/abc.ndjson", "application/x-ndjson", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://events/archive/2026/05/04/abc.ndjson", uri)
}

func TestPutObjectTreatsExistingObjectAsSuccess(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	})

	store := newTestStore(t, handler, "")
	uri, err := store.PutObject(context.Background(), "dup.ndjson", "", strings.NewReader("{}\n"))
	require.NoError(t, err)
	require.Equal(t, "gs://events/dup.ndjson", uri)
}

func TestIsPreconditionFailed(t *testing.T) {
	t.Parallel()

	require.True(t, isPreconditionFailed(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	require.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, isPreconditionFailed(errors.New("plain")))
}
