package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/policy"
	"github.com/bassista/go_reel/internal/worker"
)

// ErrGenerationActive is returned when deploying the generation that is
// already current. Its stores are live and a second install would write into
// them.
var ErrGenerationActive = errors.New("generation already active")

// WorkerHost runs successive worker generations over one asset backend and
// one client registry. At most one worker is current; deploying a new
// generation installs it next to the current one, then supersedes the old
// worker and activates the new one.
type WorkerHost struct {
	baseCtx context.Context
	cfg     worker.Config
	deps    worker.Deps

	deployMu sync.Mutex

	mu      sync.RWMutex
	current *worker.Worker
	retired []*worker.Worker
}

func NewWorkerHost(baseCtx context.Context, cfg worker.Config, deps worker.Deps) *WorkerHost {
	if deps.Clients == nil {
		deps.Clients = worker.NewClients()
	}
	return &WorkerHost{baseCtx: baseCtx, cfg: cfg, deps: deps}
}

// Current returns the active worker, or nil before the first deploy.
func (h *WorkerHost) Current() *worker.Worker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *WorkerHost) Clients() *worker.Clients {
	return h.deps.Clients
}

// Deploy installs generation and, if install succeeds, makes it current.
// A failed install leaves the current worker in charge.
func (h *WorkerHost) Deploy(ctx context.Context, generation string) (*worker.Worker, error) {
	h.deployMu.Lock()
	defer h.deployMu.Unlock()

	if cur := h.Current(); cur != nil && cur.Generation() == generation && cur.State() == worker.StateActive {
		return nil, fmt.Errorf("%w: %s", ErrGenerationActive, generation)
	}

	cfg := h.cfg
	cfg.Generation = generation
	w, err := worker.New(h.baseCtx, cfg, h.deps)
	if err != nil {
		return nil, err
	}
	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	old := h.current
	h.mu.Unlock()
	if old != nil {
		old.Supersede()
	}
	if err := w.Activate(ctx); err != nil {
		// the old worker is already gone; keep the new one so a later deploy
		// can clean up after it
		logger.WithComponent("host").Errorf("activation of %s failed: %v", generation, err)
	}

	h.mu.Lock()
	h.current = w
	if old != nil {
		h.retired = append(h.retired, old)
	}
	h.mu.Unlock()
	return w, nil
}

// DeployWithRetry keeps deploying generation with exponential backoff until
// an install succeeds or ctx ends.
func (h *WorkerHost) DeployWithRetry(ctx context.Context, generation string, maxInterval time.Duration) (*worker.Worker, error) {
	log := logger.WithComponent("host")

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}

	var deployed *worker.Worker
	op := func() error {
		w, err := h.Deploy(ctx, generation)
		if err != nil {
			if errors.Is(err, worker.ErrInstallFailed) {
				return err
			}
			return backoff.Permanent(err)
		}
		deployed = w
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warnf("deploy of %s failed, retrying in %v: %v", generation, next, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("deploy %s: %w", generation, err)
	}
	return deployed, nil
}

// RunTask runs a scheduled task on the current worker.
func (h *WorkerHost) RunTask(ctx context.Context, id string) error {
	w := h.Current()
	if w == nil {
		return worker.ErrNotActive
	}
	return w.RunTask(ctx, id)
}

// Fetch intercepts req through the current worker. Before the first deploy
// there is nothing to intercept with and the request goes to the network.
func (h *WorkerHost) Fetch(ctx context.Context, req fetch.Request) (*policy.Result, error) {
	if w := h.Current(); w != nil {
		return w.Fetch(ctx, req)
	}
	e, err := h.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &policy.Result{Entry: e, Source: policy.SourceNetwork, Strategy: policy.StrategyNetworkOnly}, nil
}

// HasVideo reports whether url is cached by the current worker.
func (h *WorkerHost) HasVideo(ctx context.Context, url string) (bool, error) {
	w := h.Current()
	if w == nil {
		return false, worker.ErrNotActive
	}
	return w.HasVideo(ctx, url)
}

// PostMessage forwards m to the current worker.
func (h *WorkerHost) PostMessage(ctx context.Context, m channel.Message) error {
	w := h.Current()
	if w == nil {
		return worker.ErrNotActive
	}
	return w.PostMessage(ctx, m)
}

// Wait blocks until the background work of every generation has finished.
func (h *WorkerHost) Wait() {
	h.mu.RLock()
	all := append([]*worker.Worker{h.current}, h.retired...)
	h.mu.RUnlock()
	for _, w := range all {
		if w != nil {
			w.Wait()
		}
	}
}
