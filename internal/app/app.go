package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/config"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/repository"
	"github.com/bassista/go_reel/internal/scheduler"
	"github.com/bassista/go_reel/internal/worker"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
//
// With an empty channel.worker_url the cache worker runs in-process and Host
// is set; otherwise Remote points at the worker of another instance.
type App struct {
	Config *config.Config
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Outbox *channel.Outbox

	Host      *WorkerHost
	Scheduler *scheduler.PollingScheduler
	Remote    *channel.HTTPController

	BaseCtx context.Context
	Cancel  context.CancelFunc

	done []<-chan struct{}
}

// New loads the data document and wires the foreground to its worker.
// backend and fetcher are only needed when the worker runs in-process.
func New(cfg *config.Config, repo repository.Repository, backend assetcache.Backend, fetcher fetch.Fetcher) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if repo == nil {
		return nil, errors.New("repo is nil")
	}
	inProcess := cfg.Channel.WorkerURL == ""
	if inProcess && (backend == nil || fetcher == nil) {
		return nil, errors.New("an in-process worker needs a backend and a fetcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	doc, err := repo.Load(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load data document: %w", err)
	}

	outbox := channel.NewOutbox(ctx, cfg.Channel.MaxRetry, cfg.Channel.RetryInterval)
	a := &App{
		Config:  cfg,
		Repo:    repo,
		Ledger:  ledger.New(*doc, LedgerOptions(cfg.Ledger), outbox),
		Outbox:  outbox,
		BaseCtx: ctx,
		Cancel:  cancel,
	}

	if !inProcess {
		a.Remote = channel.NewHTTPController(cfg.Channel.WorkerURL, cfg.Server.RequestTimeout)
		return a, nil
	}

	var caps scheduler.Capabilities = scheduler.NoopCapabilities{}
	if cfg.Worker.Capabilities == "scheduler" {
		a.Scheduler = scheduler.NewPollingScheduler(cfg.Worker.TaskPoll, originCheck(fetcher, cfg.Worker.Origin))
		caps = a.Scheduler
	}
	a.Host = NewWorkerHost(ctx, WorkerConfig(cfg), worker.Deps{
		Backend:      backend,
		Fetcher:      fetcher,
		Capabilities: caps,
	})
	return a, nil
}

// WorkerConfig maps the worker and store sections onto a worker.Config.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Origin:               cfg.Worker.Origin,
		Generation:           cfg.Worker.Generation,
		CachePrefix:          cfg.Worker.CachePrefix,
		ShellURLs:            cfg.Worker.ShellURLs,
		EntryPoints:          cfg.Worker.EntryPoints,
		ImageHosts:           cfg.Worker.ImageHosts,
		DocumentStoreHosts:   cfg.Worker.DocumentStoreHosts,
		QuotaBytes:           cfg.Store.QuotaBytes,
		MaxEntryBytes:        cfg.Store.MaxEntryBytes,
		PeriodicSyncInterval: cfg.Worker.PeriodicSyncInterval,
	}
}

func LedgerOptions(c config.LedgerConfig) ledger.Options {
	return ledger.Options{
		AutoDeleteThreshold: c.AutoDeleteThreshold,
		Multipliers: map[repository.Quality]float64{
			repository.QualityGood:   c.GoodMultiplier,
			repository.QualityBetter: c.BetterMultiplier,
			repository.QualityBest:   c.BestMultiplier,
		},
		FallbackSizeGB: c.FallbackSizeGB,
	}
}

// originCheck treats the host as online while the origin answers at all.
func originCheck(fetcher fetch.Fetcher, origin string) scheduler.ConnectivityCheck {
	return func(ctx context.Context) bool {
		_, err := fetcher.Fetch(ctx, fetch.Request{Method: http.MethodHead, URL: origin})
		return err == nil
	}
}

// Videos answers video-store lookups for ledger verification.
func (a *App) Videos() ledger.VideoMatcher {
	if a.Host != nil {
		return a.Host
	}
	return a.Remote
}

// Shutdown cancels the lifecycle context and waits for background loops to
// finish, including the final ledger flush.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()
	for _, d := range a.done {
		<-d
	}
	a.Outbox.Wait()
	if a.Host != nil {
		a.Host.Wait()
	}
}

// StartWatchers starts the data file watcher, the ledger maintenance loop
// and the worker side: either the in-process deploy with its task scheduler,
// or the watcher of the remote worker.
func (a *App) StartWatchers() error {
	if err := a.Repo.StartWatcher(a.BaseCtx, a.Ledger); err != nil {
		return fmt.Errorf("cannot start data file watcher: %w", err)
	}

	a.done = append(a.done, ledger.StartMaintenance(
		a.BaseCtx, a.Ledger, a.Repo, a.Config.Data.PersistInterval, a.Config.Ledger.SweepInterval,
	))

	if a.Host == nil {
		channel.NewWatcher(a.Outbox, a.Remote, a.Config.Channel.CheckInterval).Start(a.BaseCtx)
		return nil
	}

	// the foreground is the page at the origin root
	a.Host.Clients().Register("/", a.Outbox.Attach, a.Outbox.Detach)
	if a.Scheduler != nil {
		a.Scheduler.Start(a.BaseCtx, a.Host)
	}
	if a.Config.Worker.AutoInstall {
		done := make(chan struct{})
		a.done = append(a.done, done)
		go func() {
			defer close(done)
			w, err := a.Host.DeployWithRetry(a.BaseCtx, a.Config.Worker.Generation, a.Config.Channel.CheckInterval)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.WithComponent("app").Errorf("worker not deployed: %v", err)
				}
				return
			}
			logger.WithComponent("app").Infof("worker %s (%s) is active", w.ID(), w.Generation())
		}()
	}
	return nil
}
