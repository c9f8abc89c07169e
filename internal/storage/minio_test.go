package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of S3 calls the mirror makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects  map[string][]byte
	calls    []string
	denyList bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && key != "":
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete && key != "":
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && key == "" && f.denyList:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		b.WriteString("<Name>" + bucket + "</Name><Prefix>" + prefix + "</Prefix><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>")
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				b.WriteString("<Contents><Key>" + k + "</Key><Size>1</Size></Contents>")
			}
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newMirror(t *testing.T) (*MinioMirror, *fakeS3) {
	t.Helper()
	s3 := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(s3)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	m, err := NewMinioMirror(context.Background(), config.MinioConfig{
		Endpoint:  u.Host,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "backups",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	return m, s3
}

func TestNewMinioMirrorDisabled(t *testing.T) {
	m, err := NewMinioMirror(context.Background(), config.MinioConfig{})
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestMirrorUploadAndRemove(t *testing.T) {
	m, s3 := newMirror(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "2024-01-01_00-00-00-000.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0o644))

	require.NoError(t, m.Upload(ctx, "srv-1/2024-01-01_00-00-00-000.tar.gz", path))
	require.NoError(t, m.Upload(ctx, "srv-1/2024-01-02_00-00-00-000.tar.gz", path))
	require.NoError(t, m.Upload(ctx, "srv-2/2024-01-01_00-00-00-000.tar.gz", path))
	assert.Len(t, s3.objects, 3)

	require.NoError(t, m.Remove(ctx, "srv-2/2024-01-01_00-00-00-000.tar.gz"))
	assert.Len(t, s3.objects, 2)

	require.NoError(t, m.RemovePrefix(ctx, "srv-1/"))
	assert.Empty(t, s3.objects)
}

func TestRemovePrefixReportsListFailure(t *testing.T) {
	m, s3 := newMirror(t)
	s3.mu.Lock()
	s3.objects["srv-1/a.tar.gz"] = []byte("a")
	s3.denyList = true
	s3.mu.Unlock()

	err := m.RemovePrefix(context.Background(), "srv-1/")
	assert.ErrorContains(t, err, "list srv-1/")
	assert.Len(t, s3.objects, 1)
}
