package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/app"
	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/worker"
)

const (
	HeaderSource   = "X-Reel-Source"
	HeaderStrategy = "X-Reel-Strategy"

	// stateNone is reported before the first worker is deployed.
	stateNone = "none"
)

// skippedHeaders are set by the response writer itself.
var skippedHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
}

// WorkerController exposes the worker surface: fetch interception, the
// command channel, push events and the client registry.
type WorkerController struct {
	host *app.WorkerHost
	// fetchTimeout bounds an intercepted fetch. Zero means no limit.
	fetchTimeout time.Duration
}

func NewWorkerController(host *app.WorkerHost, fetchTimeout time.Duration) *WorkerController {
	return &WorkerController{host: host, fetchTimeout: fetchTimeout}
}

// Fetch serves an intercepted request. The target is the absolute URL of a
// proxy-form request, or the url query parameter of GET /fetch.
func (wc *WorkerController) Fetch(c *gin.Context) {
	target := c.Request.URL.String()
	if !c.Request.URL.IsAbs() {
		target = c.Query("url")
	}
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url"})
		return
	}

	var body []byte
	if c.Request.Body != nil {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
			return
		}
		body = b
	}
	header := c.Request.Header.Clone()
	header.Del("Proxy-Connection")
	header.Del("Proxy-Authorization")

	ctx, cancel := middleware.Deadline(c.Request.Context(), wc.fetchTimeout)
	defer cancel()
	res, err := wc.host.Fetch(ctx, fetch.Request{
		Method: c.Request.Method,
		URL:    target,
		Header: header,
		Body:   body,
		Reload: strings.Contains(c.GetHeader("Cache-Control"), "no-cache"),
	})
	if err != nil {
		switch {
		case errors.Is(err, fetch.ErrNetwork):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "fetch timed out"})
			return
		}
		logger.WithComponent("worker-api").Errorf("fetch %s failed: %v", target, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch failed"})
		return
	}

	e := res.Entry
	for k, vs := range e.Header {
		if skippedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Header(HeaderSource, string(res.Source))
	c.Header(HeaderStrategy, string(res.Strategy))
	if c.Request.Method == http.MethodHead {
		c.Status(e.StatusCode)
		return
	}
	c.Data(e.StatusCode, e.Header.Get("Content-Type"), e.Body)
}

// PostMessage accepts a command for background execution.
func (wc *WorkerController) PostMessage(c *gin.Context) {
	var m channel.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	err := wc.host.PostMessage(c.Request.Context(), m)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, worker.ErrNotActive):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, channel.ErrUnknownMessage), errors.Is(err, channel.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to post message"})
	}
}

// active returns the current worker, or answers 503 and returns nil.
func (wc *WorkerController) active(c *gin.Context) *worker.Worker {
	w := wc.host.Current()
	if w == nil || w.State() != worker.StateActive {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": worker.ErrNotActive.Error()})
		return nil
	}
	return w
}

// Push shows the notification carried by a push message. An empty body
// shows the default notification.
func (wc *WorkerController) Push(c *gin.Context) {
	var p worker.PushPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&p); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	w := wc.active(c)
	if w == nil {
		return
	}
	n, err := w.Push(c.Request.Context(), p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to show notification"})
		return
	}
	c.JSON(http.StatusOK, n)
}

// NotificationClick focuses the app page, opening one if none is registered.
func (wc *WorkerController) NotificationClick(c *gin.Context) {
	w := wc.active(c)
	if w == nil {
		return
	}
	c.JSON(http.StatusOK, w.NotificationClick(c.Request.Context()))
}

func (wc *WorkerController) State(c *gin.Context) {
	w := wc.host.Current()
	if w == nil {
		c.JSON(http.StatusOK, gin.H{"state": stateNone})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      w.State(),
		"id":         w.ID(),
		"generation": w.Generation(),
	})
}

type registerClientRequest struct {
	URL string `json:"url" binding:"required"`
}

// RegisterClient adds a page running in another process. It is controlled
// right away when a worker is active.
func (wc *WorkerController) RegisterClient(c *gin.Context) {
	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id := wc.host.Clients().Register(req.URL, nil, nil)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (wc *WorkerController) AllClients(c *gin.Context) {
	c.JSON(http.StatusOK, wc.host.Clients().List())
}

func (wc *WorkerController) UnregisterClient(c *gin.Context) {
	wc.host.Clients().Unregister(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// Video reports whether a video URL is in the current video store.
func (wc *WorkerController) Video(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url"})
		return
	}
	ok, err := wc.host.HasVideo(c.Request.Context(), u)
	if err != nil {
		if errors.Is(err, worker.ErrNotActive) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up video"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "cached": ok})
}

// FailedVideos lists videos whose last caching attempt failed.
func (wc *WorkerController) FailedVideos(c *gin.Context) {
	w := wc.active(c)
	if w == nil {
		return
	}
	failed := w.FailedVideos()
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusOK, failed)
}

// RunTask runs a background task by id on demand.
func (wc *WorkerController) RunTask(c *gin.Context) {
	err := wc.host.RunTask(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"task": c.Param("id"), "status": "done"})
	case errors.Is(err, worker.ErrNotActive):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, worker.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

type deployRequest struct {
	Generation string `json:"generation" binding:"required"`
}

// Deploy installs a new worker generation and, once installed, replaces the
// current worker with it.
func (wc *WorkerController) Deploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	w, err := wc.host.Deploy(c.Request.Context(), req.Generation)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrInstallFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		case errors.Is(err, app.ErrGenerationActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": w.ID(), "generation": w.Generation(), "state": w.State()})
}
