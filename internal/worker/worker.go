package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
	"github.com/bassista/go_reel/internal/policy"
	"github.com/bassista/go_reel/internal/scheduler"
)

// State is a worker lifecycle state.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var allStates = []string{
	string(StateParsed), string(StateInstalling), string(StateWaiting), string(StateActive), string(StateRedundant),
}

var (
	ErrInstallFailed = errors.New("install failed")
	ErrNotActive     = channel.ErrNotActive
	ErrBadTransition = errors.New("invalid lifecycle transition")
	ErrUnknownTask   = errors.New("unknown task")
)

// Config is everything that distinguishes one worker deployment from the
// next: its generation, store naming and request classification.
type Config struct {
	Origin             string
	Generation         string
	CachePrefix        string
	ShellURLs          []string
	EntryPoints        []string
	ImageHosts         []string
	DocumentStoreHosts []string

	QuotaBytes    int64
	MaxEntryBytes int64

	// PeriodicSyncInterval is the minimum interval of the content refresh
	// task. Zero disables it.
	PeriodicSyncInterval time.Duration
}

// Deps are the collaborators a worker runs against. Nil optional fields get a
// default.
type Deps struct {
	Backend      assetcache.Backend
	Fetcher      fetch.Fetcher
	Capabilities scheduler.Capabilities
	Clients      *Clients
	Notifier     Notifier
}

// Worker is one generation of the background cache worker.
type Worker struct {
	id  string
	cfg Config

	cache      *assetcache.Cache
	router     *policy.Router
	dispatcher *channel.Dispatcher
	fetcher    fetch.Fetcher
	caps       scheduler.Capabilities
	clients    *Clients
	notifier   Notifier

	// ctx bounds the background work of this generation and ends when it is
	// superseded.
	ctx    context.Context
	cancel context.CancelFunc
	seq    sequencer

	mu    sync.RWMutex
	state State

	wg sync.WaitGroup
}

// New parses cfg and returns a worker in StateParsed. baseCtx bounds the
// background work the worker starts on its own.
func New(baseCtx context.Context, cfg Config, deps Deps) (*Worker, error) {
	if deps.Backend == nil || deps.Fetcher == nil {
		return nil, errors.New("worker needs a backend and a fetcher")
	}
	rules, err := policy.NewRules(cfg.Origin, cfg.ShellURLs, cfg.EntryPoints, cfg.ImageHosts, cfg.DocumentStoreHosts)
	if err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}
	if deps.Capabilities == nil {
		deps.Capabilities = scheduler.NoopCapabilities{}
	}
	if deps.Clients == nil {
		deps.Clients = NewClients()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}

	cache := assetcache.New(deps.Backend, assetcache.Options{
		Prefix:        cfg.CachePrefix,
		Generation:    cfg.Generation,
		QuotaBytes:    cfg.QuotaBytes,
		MaxEntryBytes: cfg.MaxEntryBytes,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	w := &Worker{
		id:         uuid.NewString(),
		cfg:        cfg,
		cache:      cache,
		router:     policy.NewRouter(ctx, rules, cache, deps.Fetcher),
		dispatcher: channel.NewDispatcher(cache, deps.Fetcher),
		fetcher:    deps.Fetcher,
		caps:       deps.Capabilities,
		clients:    deps.Clients,
		notifier:   deps.Notifier,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateParsed,
	}
	w.dispatcher.OnFailure(func(url string) {
		if err := w.caps.RegisterOneShotTask(TaskRetryFailedVideos); err != nil {
			logger.WithComponent("worker").Warnf("cannot schedule retry of %s: %v", url, err)
		}
	})
	metrics.SetWorkerState(string(StateParsed), allStates)
	return w, nil
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Generation() string {
	return w.cfg.Generation
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) Cache() *assetcache.Cache {
	return w.cache
}

func (w *Worker) Clients() *Clients {
	return w.clients
}

// transition moves from one of the allowed states to next.
func (w *Worker) transition(next State, from ...State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			logger.WithComponent("worker").Infof("worker %s (%s): %s -> %s", w.id, w.cfg.Generation, w.state, next)
			w.state = next
			metrics.SetWorkerState(string(next), allStates)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, w.state, next)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
	metrics.SetWorkerState(string(s), allStates)
}

// Install seeds the shell store of this generation. Every shell URL is
// fetched bypassing HTTP caches; if any fetch fails or is not 2xx, nothing is
// written and the worker becomes redundant.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling, StateParsed); err != nil {
		return err
	}
	log := logger.WithComponent("worker")

	urls := w.router.Rules().ShellURLs()
	entries := make([]*assetcache.Entry, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			e, err := w.fetcher.Fetch(gctx, fetch.Request{URL: u, Reload: true})
			if err != nil {
				return err
			}
			if !e.OK() {
				return fmt.Errorf("%s: status %d", u, e.StatusCode)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setState(StateRedundant)
		log.Errorf("install of %s failed: %v", w.cfg.Generation, err)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	if err := w.cache.Open(ctx, assetcache.PurposeShell); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	for i, u := range urls {
		if err := w.cache.Put(ctx, assetcache.PurposeShell, u, entries[i]); err != nil {
			// leave no partially seeded shell behind
			if cerr := w.cache.Clear(ctx, assetcache.PurposeShell); cerr != nil {
				log.Warnf("cleanup of partial shell failed: %v", cerr)
			}
			w.setState(StateRedundant)
			return fmt.Errorf("%w: store %s: %v", ErrInstallFailed, u, err)
		}
	}

	log.Infof("pre-cached %d shell files into %s", len(urls), w.cache.Current(assetcache.PurposeShell))
	return w.transition(StateWaiting, StateInstalling)
}

// Activate deletes every store outside this generation's whitelist, then
// claims all pages.
func (w *Worker) Activate(ctx context.Context) error {
	if s := w.State(); s != StateWaiting {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s, StateActive)
	}
	log := logger.WithComponent("worker")

	keep := map[string]struct{}{}
	for _, name := range w.cache.Whitelist() {
		keep[name] = struct{}{}
	}
	stores, err := w.cache.Stores(ctx)
	if err != nil {
		return fmt.Errorf("enumerate stores: %w", err)
	}
	for _, name := range stores {
		if _, ok := keep[name]; ok {
			continue
		}
		log.Infof("deleting old store %s", name)
		if err := w.cache.DeleteStore(ctx, name); err != nil {
			return err
		}
	}
	for _, p := range assetcache.Purposes {
		if err := w.cache.Open(ctx, p); err != nil {
			return fmt.Errorf("open %s store: %w", p, err)
		}
	}

	if err := w.transition(StateActive, StateWaiting); err != nil {
		return err
	}
	if w.cfg.PeriodicSyncInterval > 0 {
		if err := w.caps.RegisterRecurringTask(TaskUpdateContent, w.cfg.PeriodicSyncInterval); err != nil {
			log.Warnf("periodic content update unavailable: %v", err)
		}
	}
	w.Claim()
	return nil
}

// Claim takes control of every registered page without waiting for a reload.
func (w *Worker) Claim() int {
	n := w.clients.Claim(w)
	logger.WithComponent("worker").Infof("worker %s claimed %d clients", w.id, n)
	return n
}

// Supersede retires the worker. It stops taking messages, releases its
// pages, cancels its background work and refuses any further store write;
// its stores are left for the successor's cleanup.
func (w *Worker) Supersede() {
	w.setState(StateRedundant)
	w.clients.Release(w)
	w.cancel()
	w.cache.Retire()
	logger.WithComponent("worker").Infof("worker %s (%s) superseded", w.id, w.cfg.Generation)
}

// Fetch intercepts a request. Until the worker is active requests go
// straight to the network.
func (w *Worker) Fetch(ctx context.Context, req fetch.Request) (*policy.Result, error) {
	if w.State() != StateActive {
		e, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &policy.Result{Entry: e, Source: policy.SourceNetwork, Strategy: policy.StrategyNetworkOnly}, nil
	}
	return w.router.Handle(ctx, req)
}

// PostMessage accepts a command and executes it in the background. Commands
// for the same URL run in the order they were posted; CLEAR_VIDEO_CACHE runs
// between the commands posted before and after it.
func (w *Worker) PostMessage(_ context.Context, m channel.Message) error {
	if w.State() != StateActive {
		return ErrNotActive
	}
	if err := m.Validate(); err != nil {
		return err
	}

	key := m.URL
	if m.Type == channel.ClearVideoCache {
		key = ""
	}
	wait, done := w.seq.enqueue(key)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer done()
		for _, c := range wait {
			<-c
		}
		if err := w.dispatcher.Handle(w.ctx, m); err != nil {
			logger.WithComponent("worker").Warnf("message %s failed: %v", m, err)
		}
	}()
	return nil
}

// HandleMessage executes a command synchronously.
func (w *Worker) HandleMessage(ctx context.Context, m channel.Message) error {
	if w.State() != StateActive {
		return ErrNotActive
	}
	return w.dispatcher.Handle(ctx, m)
}

// HasVideo reports whether url is in this generation's video store.
func (w *Worker) HasVideo(ctx context.Context, url string) (bool, error) {
	return w.dispatcher.HasVideo(ctx, url)
}

// FailedVideos lists video URLs whose last caching attempt failed.
func (w *Worker) FailedVideos() []string {
	return w.dispatcher.Failed()
}

// Push shows the notification carried by a push message.
func (w *Worker) Push(ctx context.Context, p PushPayload) (Notification, error) {
	n := notificationFor(p)
	return n, w.notifier.Show(ctx, n)
}

// NotificationClick focuses the page at the origin root, or opens one.
func (w *Worker) NotificationClick(_ context.Context) ClientInfo {
	if c, ok := w.clients.Focus("/"); ok {
		return c
	}
	return w.clients.OpenWindow("/")
}

// Wait blocks until background messages and revalidations have finished.
func (w *Worker) Wait() {
	w.wg.Wait()
	w.router.Wait()
}
