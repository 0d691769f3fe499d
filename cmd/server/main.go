package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/enrichman/httpgrace"
	"github.com/gin-gonic/gin"

	route "github.com/bassista/go_reel/internal/api/route"
	appctx "github.com/bassista/go_reel/internal/app"
	"github.com/bassista/go_reel/internal/assetcache"
	"github.com/bassista/go_reel/internal/config"
	"github.com/bassista/go_reel/internal/fetch"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/repository"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	// Set log level from configuration
	if err := logger.SetLevel(cfg.Misc.LogLevel); err != nil {
		logger.WithComponent("main").Warnf("invalid log level '%s', keeping '%s': %v", cfg.Misc.LogLevel, logger.Logger.GetLevel(), err)
	}
	logger.WithComponent("main").Debugf("log level set to: %s", logger.Logger.GetLevel())

	repo, err := repository.NewJSONRepository(cfg.Data.FilePath)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init repository: %v", err)
	}

	inProcess := cfg.Channel.WorkerURL == ""
	var (
		backend assetcache.Backend
		fetcher fetch.Fetcher
	)
	if inProcess {
		backend, err = assetcache.NewBackendFromConfig(cfg.Store.Backend, cfg.Store.Path, cfg.Store.HotEntries, false)
		if err != nil {
			logger.WithComponent("main").Fatalf("cannot open asset store: %v", err)
		}
		defer func() {
			if err := backend.Close(); err != nil {
				logger.WithComponent("main").Warnf("closing asset store: %v", err)
			}
		}()
		fetcher = fetch.NewHTTPFetcher(cfg.Worker.FetchTimeout)
		logger.WithComponent("main").Infof("Worker will run on port: %d (%s store at %s)", cfg.Server.WorkerPort, cfg.Store.Backend, cfg.Store.Path)
	} else {
		logger.WithComponent("main").Infof("Using the remote worker at %s", cfg.Channel.WorkerURL)
	}
	logger.WithComponent("main").Infof("App will run on port: %d", cfg.Server.Port)

	app, err := appctx.New(cfg, repo, backend, fetcher)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	if inProcess {
		workerSrv := createGraceHttpServer(app.BaseCtx, "worker", cfg.Server, route.SetupWorkerRoutes(app, logger.Logger))
		go func() {
			if err := workerSrv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.WorkerPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithComponent("main").Errorf("Worker server error: %v", err)
			}
		}()
	}

	if err := app.StartWatchers(); err != nil {
		logger.WithComponent("main").Fatalf("cannot start watchers: %v", err)
	}

	//setup main server routes and start it!
	r := route.SetupRoutes(app, logger.Logger)
	mainSrv := createGraceHttpServer(app.BaseCtx, "main", cfg.Server, r)

	if err := mainSrv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Error(err)
	}
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
