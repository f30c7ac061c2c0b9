package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, endpoint string) *Store {
	t.Helper()
	u, err := url.Parse(endpoint)
	require.NoError(t, err)

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4("test-key", "test-secret", ""),
		Secure: false,
	})
	require.NoError(t, err)
	return &Store{client: client, bucket: "invoices"}
}

func TestDownloadGoesThroughPresignedURL(t *testing.T) {
	var gotURL *url.URL
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL
		w.Write([]byte("document-bytes"))
	}))
	defer srv.Close()

	store := testStore(t, srv.URL)
	data, err := store.Download(context.Background(), "tenant-a/2024/03/doc.jpg")

	require.NoError(t, err)
	assert.Equal(t, []byte("document-bytes"), data)
	require.NotNil(t, gotURL)
	assert.Contains(t, gotURL.Path, "tenant-a/2024/03/doc.jpg")
	query := gotURL.Query()
	assert.NotEmpty(t, query.Get("X-Amz-Signature"))
	assert.Equal(t, "900", query.Get("X-Amz-Expires"))
}

func TestDownloadRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store := testStore(t, srv.URL)
	_, err := store.Download(context.Background(), "tenant-a/2024/03/doc.jpg")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestTrimStripsLegacyBucketPrefix(t *testing.T) {
	store := &Store{bucket: "invoices"}
	assert.Equal(t, "t/2024/01/a.pdf", store.trim("invoices/t/2024/01/a.pdf"))
	assert.Equal(t, "t/2024/01/a.pdf", store.trim("t/2024/01/a.pdf"))
}
