package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bassista/go_reel/internal/logger"
)

// workerActive is the lifecycle state in which a worker takes messages.
const workerActive = "active"

// HTTPController posts messages to a worker running in another process.
type HTTPController struct {
	baseURL string
	client  *http.Client
}

func NewHTTPController(baseURL string, timeout time.Duration) *HTTPController {
	return &HTTPController{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPController) PostMessage(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/sw/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrNotActive, strings.TrimSpace(string(msg)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("post message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// State returns the worker's lifecycle state.
func (h *HTTPController) State(ctx context.Context) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	if err := h.getJSON(ctx, "/sw/state", &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// HasVideo asks the worker whether videoURL is in its video store.
func (h *HTTPController) HasVideo(ctx context.Context, videoURL string) (bool, error) {
	var out struct {
		Cached bool `json:"cached"`
	}
	if err := h.getJSON(ctx, "/sw/video?url="+url.QueryEscape(videoURL), &out); err != nil {
		return false, err
	}
	return out.Cached, nil
}

func (h *HTTPController) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Watcher attaches the outbox to a remote worker while the worker reports
// itself active, and detaches it otherwise.
type Watcher struct {
	outbox   *Outbox
	ctrl     *HTTPController
	interval time.Duration
}

func NewWatcher(outbox *Outbox, ctrl *HTTPController, interval time.Duration) *Watcher {
	return &Watcher{outbox: outbox, ctrl: ctrl, interval: interval}
}

func (w *Watcher) Start(ctx context.Context) {
	logger.WithComponent("outbox").Debugf("watching worker %s every %v", w.ctrl.baseURL, w.interval)
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		w.check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check(ctx)
			}
		}
	}()
}

func (w *Watcher) check(ctx context.Context) {
	state, err := w.ctrl.State(ctx)
	active := err == nil && state == workerActive
	switch {
	case active && !w.outbox.Attached():
		w.outbox.Attach(w.ctrl)
	case !active && w.outbox.Attached():
		if err != nil {
			logger.WithComponent("outbox").Warnf("worker unreachable: %v", err)
		}
		w.outbox.Detach()
	case active && len(w.outbox.Pending()) > 0:
		w.outbox.flushAsync()
	}
}
