package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"app-catalog-drop/internal/updater"
)

type fakeRunner struct {
	res   updater.Result
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) (updater.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeAudit struct {
	mu      sync.Mutex
	events  []SaveEvent
	failErr error
}

func (f *fakeAudit) RecordSave(_ context.Context, ev SaveEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAudit) RecentSaves(_ context.Context, limit int) ([]SaveEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := make([]SaveEvent, 0, limit)
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.events[i])
	}
	return out, nil
}

func (f *fakeAudit) Ping(context.Context) error { return f.failErr }

type fakeMirror struct {
	mu      sync.Mutex
	puts    map[string]string
	failErr error
}

func (f *fakeMirror) Put(_ context.Context, sf StoredFile, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if f.puts == nil {
		f.puts = make(map[string]string)
	}
	f.puts[sf.Name] = content
	return nil
}

func (f *fakeMirror) Ping(context.Context) error { return f.failErr }

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Addr:         ":0",
		DataDir:      filepath.Join(root, "data"),
		WebRoot:      root,
		Allowlist:    testAllow,
		MaxBodyBytes: 1 << 20,
		Build:        BuildInfo{Version: "test", Commit: "abc"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, cfg.DataDir
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSave_Success(t *testing.T) {
	s, dataDir := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"a,b\nc,d"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"status": "success"}, decodeBody(t, w))

	raw, err := os.ReadFile(filepath.Join(dataDir, "apps.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\nc,d", string(raw))
	assert.Equal(t, []string{"apps.csv"}, dirEntries(t, dataDir))
}

func TestSave_EmptyContentIsValid(t *testing.T) {
	s, dataDir := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/save", `{"filename":"sources.csv","content":""}`)
	require.Equal(t, http.StatusOK, w.Code)

	raw, err := os.ReadFile(filepath.Join(dataDir, "sources.csv"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestSave_ReadsExactlyContentLength(t *testing.T) {
	s, dataDir := newTestServer(t, nil)

	payload := `{"filename":"apps.csv","content":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader(payload+"trailing garbage"))
	req.ContentLength = int64(len(payload))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	raw, err := os.ReadFile(filepath.Join(dataDir, "apps.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(raw))
}

func TestSave_MissingContentLength(t *testing.T) {
	s, dataDir := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader(`{"filename":"apps.csv","content":"x"}`))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
	assert.Empty(t, dirEntries(t, dataDir))
}

func TestSave_BodyTooLarge(t *testing.T) {
	s, dataDir := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 16 })

	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"much too long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request body too large", decodeBody(t, w)["error"])
	assert.Empty(t, dirEntries(t, dataDir))
}

func TestSave_MalformedJSON(t *testing.T) {
	for _, body := range []string{`{"filename":`, `["apps.csv"]`, `"apps.csv"`, `null`} {
		t.Run(body, func(t *testing.T) {
			s, dataDir := newTestServer(t, nil)
			w := do(t, s, http.MethodPost, "/save", body)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.NotEmpty(t, decodeBody(t, w)["error"])
			assert.Empty(t, dirEntries(t, dataDir))
		})
	}
}

func TestSave_MissingFields(t *testing.T) {
	bodies := []string{
		`{"content":"x"}`,
		`{"filename":"","content":"x"}`,
		`{"filename":"apps.csv"}`,
		`{"filename":"apps.csv","content":null}`,
		`{}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			s, dataDir := newTestServer(t, nil)
			w := do(t, s, http.MethodPost, "/save", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Missing filename or content", strings.TrimSpace(w.Body.String()))
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
			assert.Empty(t, dirEntries(t, dataDir))
		})
	}
}

func TestSave_PathTraversal(t *testing.T) {
	for _, name := range []string{"../etc/passwd", "sub/apps.csv", `..\\apps.csv`, ".."} {
		t.Run(name, func(t *testing.T) {
			s, dataDir := newTestServer(t, nil)
			w := do(t, s, http.MethodPost, "/save", `{"filename":"`+name+`","content":"x"}`)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "Invalid filename", strings.TrimSpace(w.Body.String()))
			assert.Empty(t, dirEntries(t, dataDir))
		})
	}
}

func TestSave_NotAllowed(t *testing.T) {
	s, dataDir := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/save", `{"filename":"secrets.txt","content":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, map[string]any{"error": "File not allowed"}, decodeBody(t, w))
	assert.Empty(t, dirEntries(t, dataDir))
}

func TestSave_JSONErrorsSwitch(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.JSONErrors = true })

	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"error": "Missing filename or content"}, decodeBody(t, w))

	w = do(t, s, http.MethodPost, "/save", `{"filename":"../x","content":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, map[string]any{"error": "Invalid filename"}, decodeBody(t, w))
}

func TestSave_StoreFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	s, _ := newTestServer(t, func(c *Config) { c.DataDir = blocker })
	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)

	cases := []struct{ method, path string }{
		{http.MethodPost, "/unknown"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/save"},
		{http.MethodGet, "/run-update"},
		{http.MethodPut, "/save"},
		{http.MethodDelete, "/apps.csv"},
		{http.MethodPatch, "/run-update"},
		{http.MethodGet, "/.env"},
		{http.MethodGet, "/data/.apps.csv.tmp-1"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(t, s, tc.method, tc.path, "")
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, map[string]any{"error": "Endpoint not found"}, decodeBody(t, w))
		})
	}
}

func TestStaticFiles(t *testing.T) {
	s, _ := newTestServer(t, nil)
	root := s.webRoot
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>catalog</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "apps.csv"), []byte("a,b"), 0o644))

	w := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "catalog")

	w = do(t, s, http.MethodGet, "/apps.csv", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b", w.Body.String())

	w = do(t, s, http.MethodHead, "/apps.csv", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestSavedFileIsServedBack(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) {
		c.DataDir = filepath.Join(c.WebRoot, "data")
	})

	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"x,y"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/data/apps.csv", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x,y", w.Body.String())
}

func TestMiddleware_RequestIDAndHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-Id", "client-rid")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "client-rid", rec.Header().Get("X-Request-Id"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "boom")
}

func TestRateLimitAppliesToPostOnly(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.RateLimit = 2 })

	for i := 0; i < 2; i++ {
		w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"x"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunUpdate(t *testing.T) {
	tests := []struct {
		name       string
		runner     UpdateRunner
		wantCode   int
		wantStatus string
		wantOutput string
	}{
		{
			name:       "success",
			runner:     &fakeRunner{res: updater.Result{ExitCode: 0, Stdout: "updated 3 apps\n"}},
			wantCode:   http.StatusOK,
			wantStatus: "success",
			wantOutput: "updated 3 apps\n",
		},
		{
			name:       "success with no output",
			runner:     &fakeRunner{res: updater.Result{ExitCode: 0}},
			wantCode:   http.StatusOK,
			wantStatus: "success",
			wantOutput: "",
		},
		{
			name:       "nonzero exit uses stderr",
			runner:     &fakeRunner{res: updater.Result{ExitCode: 2, Stdout: "partial", Stderr: "boom"}},
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
			wantOutput: "boom",
		},
		{
			name:       "nonzero exit falls back to stdout",
			runner:     &fakeRunner{res: updater.Result{ExitCode: 1, Stdout: "partial"}},
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
			wantOutput: "partial",
		},
		{
			name:       "start failure",
			runner:     &fakeRunner{err: errors.New("start update script: no such file")},
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
			wantOutput: "start update script: no such file",
		},
		{
			name:       "not configured",
			runner:     nil,
			wantCode:   http.StatusInternalServerError,
			wantStatus: "error",
			wantOutput: updater.ErrNotConfigured.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, func(c *Config) { c.Updater = tt.runner })
			w := do(t, s, http.MethodPost, "/run-update", "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, map[string]any{"status": tt.wantStatus, "output": tt.wantOutput}, decodeBody(t, w))
		})
	}
}

func TestRunUpdate_IgnoresBody(t *testing.T) {
	runner := &fakeRunner{res: updater.Result{Stdout: "ok"}}
	s, _ := newTestServer(t, func(c *Config) { c.Updater = runner })

	w := do(t, s, http.MethodPost, "/run-update", `{"anything":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runner.calls)
}

func TestSave_AuditAndMirror(t *testing.T) {
	audit := &fakeAudit{}
	mirror := &fakeMirror{}
	s, _ := newTestServer(t, func(c *Config) {
		c.Audit = audit
		c.Mirror = mirror
	})

	req := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader(`{"filename":"apps.csv","content":"a,b"}`))
	req.Header.Set("X-Request-Id", "rid-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, audit.events, 1)
	ev := audit.events[0]
	assert.Equal(t, "apps.csv", ev.Filename)
	assert.True(t, ev.Success)
	assert.Equal(t, int64(3), ev.SizeBytes)
	assert.Equal(t, "rid-1", ev.RequestID)
	assert.Len(t, ev.SHA256, 64)

	assert.Equal(t, "a,b", mirror.puts["apps.csv"])

	// Rejected saves never reach the store, so they are not audited.
	w = do(t, s, http.MethodPost, "/save", `{"filename":"secrets.txt","content":"x"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, audit.events, 1)
}

func TestSave_SideEffectFailuresDoNotChangeResponse(t *testing.T) {
	audit := &fakeAudit{failErr: errors.New("db down")}
	mirror := &fakeMirror{failErr: errors.New("s3 down")}
	s, dataDir := newTestServer(t, func(c *Config) {
		c.Audit = audit
		c.Mirror = mirror
	})

	for i := 0; i < 5; i++ {
		w := do(t, s, http.MethodPost, "/save", `{"filename":"apps.csv","content":"x"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, []string{"apps.csv"}, dirEntries(t, dataDir))
	assert.Equal(t, StateOpen, s.auditBreaker.State())
	assert.Equal(t, StateOpen, s.mirrorBreaker.State())
}
