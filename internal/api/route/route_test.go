package route

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_reel/internal/app"
	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/config"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memRepository implements repository.Repository in memory.
type memRepository struct {
	mu  sync.Mutex
	doc repository.DataDocument
}

func (m *memRepository) Load(context.Context) (*repository.DataDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.doc
	return &doc, nil
}

func (m *memRepository) Save(_ context.Context, doc *repository.DataDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = *doc
	return nil
}

func (m *memRepository) StartWatcher(context.Context, repository.CacheStore) error {
	return nil
}

type okFetcher struct{}

func (okFetcher) Fetch(_ context.Context, req fetch.Request) (*assetcache.Entry, error) {
	return &assetcache.Entry{URL: req.URL, StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("ok")}, nil
}

func newTestApp(t *testing.T, uiDir string) *app.App {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: time.Second, CORSAllowedOrigins: "*", UIDir: uiDir},
		Worker: config.WorkerConfig{
			Origin:      "http://localhost:8080",
			Generation:  "v1",
			CachePrefix: "reel",
			ShellURLs:   []string{"/", "/index.html"},
			EntryPoints: []string{"/index.html"},
			ImageHosts:  []string{"picsum.photos"},
		},
		Ledger: config.LedgerConfig{
			AutoDeleteThreshold: 95,
			GoodMultiplier:      0.5,
			BetterMultiplier:    1,
			BestMultiplier:      1.8,
			FallbackSizeGB:      0.45,
		},
		Channel: config.ChannelConfig{MaxRetry: 1, RetryInterval: time.Millisecond, CheckInterval: time.Second},
	}
	a, err := app.New(cfg, &memRepository{doc: repository.DefaultDocument()}, assetcache.NewMemoryBackend(), okFetcher{})
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

func writeUI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>reel</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("load()"), 0o644))
	return dir
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Foreground(t *testing.T) {
	a := newTestApp(t, writeUI(t))
	r := SetupRoutes(a, logrus.New())

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"movies", http.MethodGet, "/movies", "", http.StatusOK},
		{"movie", http.MethodGet, "/movie/10", "", http.StatusOK},
		{"settings", http.MethodGet, "/settings/downloads", "", http.StatusOK},
		{"configuration", http.MethodGet, "/configuration", "", http.StatusOK},
		{"download", http.MethodPost, "/download", `{"movieId":10,"quality":"Best"}`, http.StatusCreated},
		{"downloads", http.MethodGet, "/downloads", "", http.StatusOK},
		{"progress", http.MethodPut, "/progress/10", `{"progress":40}`, http.StatusOK},
		{"remove", http.MethodDelete, "/download/10", "", http.StatusOK},
		{"clear", http.MethodPost, "/downloads/clear", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSetupRoutes_DownloadReachesOutbox(t *testing.T) {
	a := newTestApp(t, writeUI(t))
	r := SetupRoutes(a, logrus.New())

	w := serve(r, http.MethodPost, "/download", `{"movieId":10}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// no worker is deployed in this test, so the command waits in the outbox
	pending := a.Outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "https://media.reel.example/videos/oppenheimer/720p.mp4", pending[0].Message.URL)
}

func TestSetupRoutes_UI(t *testing.T) {
	r := SetupRoutes(newTestApp(t, writeUI(t)), logrus.New())

	for _, target := range []string{"/", "/index.html", "/library/continue"} {
		w := serve(r, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, "<html>reel</html>", w.Body.String(), target)
	}

	w := serve(r, http.MethodGet, "/assets/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "load()", w.Body.String())

	w = serve(r, http.MethodGet, "/assets/missing.js", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestSetupRoutes_CORS(t *testing.T) {
	r := SetupRoutes(newTestApp(t, writeUI(t)), logrus.New())

	req := httptest.NewRequest(http.MethodOptions, "/download", nil)
	req.Header.Set("Origin", "http://tv.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupWorkerRoutes(t *testing.T) {
	a := newTestApp(t, writeUI(t))
	r := SetupWorkerRoutes(a, logrus.New())

	w := serve(r, http.MethodGet, "/sw/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"none"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"message":"UP","worker":"none"}`, w.Body.String())

	w = serve(r, http.MethodPost, "/sw/messages", `{"type":"CACHE_VIDEO","url":"https://media.reel.example/v.mp4"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	_, err := a.Host.Deploy(context.Background(), "v1")
	require.NoError(t, err)

	w = serve(r, http.MethodPost, "/sw/messages", `{"type":"CACHE_VIDEO","url":"https://media.reel.example/v.mp4"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// an absolute URL is intercepted even when its path is a worker endpoint
	w = serve(r, http.MethodGet, "http://localhost:8080/sw/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "cache-first", w.Header().Get("X-Reel-Strategy"))

	w = serve(r, http.MethodGet, "/sw/clients", "")
	var clients []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clients))
	assert.Empty(t, clients, "StartWatchers was not called, so the foreground page is not registered")
}
