package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestUploadFile(t *testing.T) {
	payload := []byte("scanned lease agreement, page 1")
	path := writeTempFile(t, "lease.pdf", payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "unsigned_docs", r.FormValue("upload_preset"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "lease.pdf", hdr.Filename)

		_ = json.NewEncoder(w).Encode(Result{
			URL:          "https://store.example.org/docs/lease.pdf",
			PublicID:     "docs/lease",
			ResourceType: "raw",
			Format:       "pdf",
			Bytes:        int64(len(payload)),
		})
	}))
	defer srv.Close()

	u := New(srv.URL, "unsigned_docs")
	res, err := u.UploadFile(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://store.example.org/docs/lease.pdf", res.URL)
	assert.Equal(t, int64(len(payload)), res.Bytes)
}

func TestUploadProgressReachesTotal(t *testing.T) {
	path := writeTempFile(t, "photo.jpg", make([]byte, 64*1024))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_ = json.NewEncoder(w).Encode(Result{URL: "https://store.example.org/p.jpg"})
	}))
	defer srv.Close()

	var lastSent, total int64
	u := New(srv.URL, "preset")
	_, err := u.UploadFile(context.Background(), path, func(sent, tot int64) {
		lastSent, total = sent, tot
	})
	require.NoError(t, err)
	assert.Equal(t, total, lastSent)
	assert.Greater(t, total, int64(64*1024))
}

func TestUploadServerError(t *testing.T) {
	path := writeTempFile(t, "doc.pdf", []byte("x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "preset not allowed", http.StatusBadRequest)
	}))
	defer srv.Close()

	u := New(srv.URL, "bogus")
	_, err := u.UploadFile(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preset not allowed")
}

func TestUploadMissingFile(t *testing.T) {
	u := New("http://127.0.0.1:0", "preset")
	_, err := u.UploadFile(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), nil)
	require.Error(t, err)
}

func TestUploadRejectsMissingURL(t *testing.T) {
	path := writeTempFile(t, "doc.pdf", []byte("x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"publicId": "p"})
	}))
	defer srv.Close()

	u := New(srv.URL, "preset")
	_, err := u.UploadFile(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing url")
}
