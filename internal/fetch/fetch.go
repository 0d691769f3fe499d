package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/logger"
)

// ErrNetwork marks a failure to obtain any response at all. An HTTP error
// status is a response, not an ErrNetwork.
var ErrNetwork = errors.New("network error")

// Request is an outgoing fetch as seen by the interception layer.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Reload bypasses intermediate HTTP caches.
	Reload bool
}

// Fetcher performs a network fetch and returns the full response as an entry.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*assetcache.Entry, error)
}

// hopHeaders are connection-scoped and never stored or replayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches over net/http. A zero timeout imposes none.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		timeout: timeout,
		client: &http.Client{
			Transport: &http.Transport{
				// The worker is itself a proxy: never chain through the environment's.
				Proxy:                 nil,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          64,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// NewHTTPFetcherWithClient is used by tests to route through httptest servers.
func NewHTTPFetcherWithClient(client *http.Client, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: client, timeout: timeout}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*assetcache.Entry, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	if req.Reload {
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %v", ErrNetwork, req.URL, err)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	logger.WithComponent("fetch").Debugf("%s %s -> %d (%d bytes)", method, req.URL, resp.StatusCode, len(payload))
	return &assetcache.Entry{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       payload,
		StoredAt:   time.Now().UTC(),
	}, nil
}
