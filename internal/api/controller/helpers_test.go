package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/app"
	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
	"github.com/bassista/go_reel/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testOrigin = "http://origin.local"
	videoA     = "https://media.reel.example/videos/answer/720p.mp4"
	videoA1080 = "https://media.reel.example/videos/answer/1080p.mp4"
)

// recordingSender collects the commands the ledger emits.
type recordingSender struct {
	mu   sync.Mutex
	sent []channel.Message
}

func (s *recordingSender) Send(_ context.Context, m channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) messages() []channel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.Message(nil), s.sent...)
}

func testDoc() repository.DataDocument {
	doc := repository.DataDocument{
		Movies: []repository.Movie{
			{ID: 42, Title: "Answer", BaseSizeGB: 2, VideoURLs: map[string]string{"720p": videoA, "1080p": videoA1080}},
			{ID: 7, Title: "Untitled", BaseSizeGB: 0},
		},
	}
	doc.ApplyDefaults()
	return doc
}

func newTestLedger() (*ledger.Ledger, *recordingSender) {
	sender := &recordingSender{}
	return ledger.New(testDoc(), ledger.DefaultOptions(), sender), sender
}

// stubFetcher answers every URL with a small 200 response, or fails while
// offline is set.
type stubFetcher struct {
	mu      sync.Mutex
	offline bool
	count   map[string]int
}

func (s *stubFetcher) Fetch(_ context.Context, req fetch.Request) (*assetcache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == nil {
		s.count = map[string]int{}
	}
	s.count[req.URL]++
	if s.offline {
		return nil, fetch.ErrNetwork
	}
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return &assetcache.Entry{URL: req.URL, StatusCode: http.StatusOK, Header: h, Body: []byte("body of " + req.URL)}, nil
}

func (s *stubFetcher) setOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

func (s *stubFetcher) fetched(u string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[u]
}

func newTestHost(t *testing.T, deploy bool) (*app.WorkerHost, *stubFetcher) {
	t.Helper()
	fetcher := &stubFetcher{}
	host := app.NewWorkerHost(context.Background(), worker.Config{
		Origin:      testOrigin,
		Generation:  "v1",
		CachePrefix: "reel",
		ShellURLs:   []string{"/", "/index.html"},
		EntryPoints: []string{"/index.html"},
		ImageHosts:  []string{"picsum.photos"},
	}, worker.Deps{Backend: assetcache.NewMemoryBackend(), Fetcher: fetcher})
	if deploy {
		if _, err := host.Deploy(context.Background(), "v1"); err != nil {
			t.Fatalf("deploy: %v", err)
		}
	}
	t.Cleanup(host.Wait)
	return host, fetcher
}

func doJSON(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
