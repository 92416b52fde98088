package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFiles_Gzip(t *testing.T) {
	s, _ := newTestServer(t, nil)
	csv := strings.Repeat("name,url\n", 200)
	require.NoError(t, os.WriteFile(filepath.Join(s.webRoot, "apps.csv"), []byte(csv), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/apps.csv", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Empty(t, w.Header().Get("Content-Length"))
	assert.Less(t, w.Body.Len(), len(csv))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, csv, string(got))
}

func TestStaticFiles_GzipSkipped(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(s.webRoot, "apps.csv"), []byte("a,b\nc,d"), 0o644))

	t.Run("range request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/apps.csv", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("Range", "bytes=0-2")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusPartialContent, w.Code)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "a,b", w.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope.csv", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
	})

	t.Run("api responses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
	})
}
