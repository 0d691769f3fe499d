package route

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/app"
)

// verifyTimeoutFactor stretches the request timeout for GET /downloads/verify,
// which asks the worker about every record.
const verifyTimeoutFactor = 5

// SetupRoutes builds the foreground engine: the downloads API, settings,
// catalog, health, metrics and the app shell.
func SetupRoutes(appCtx *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger, "foreground"))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	publicRouter := r.Group("")

	// All Public APIs
	timeout := appCtx.Config.Server.RequestTimeout

	NewDownloadsRouter(timeout, timeout*verifyTimeoutFactor, publicRouter, appCtx.Ledger, appCtx.Videos())
	NewSettingsRouter(timeout, publicRouter, appCtx.Ledger)
	NewCatalogRouter(timeout, publicRouter, appCtx.Ledger)
	NewConfigurationRouter(timeout, publicRouter, appCtx.Config)

	NewUIRouter(r, appCtx.Config.Server.UIDir)
	return r
}

// SetupWorkerRoutes builds the worker engine. Proxy-form requests are
// intercepted before routing, so an absolute URL never reaches the /sw
// endpoints even when its path matches one.
func SetupWorkerRoutes(appCtx *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.HoneybadgerMiddleware(logger, "worker"))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		state := "none"
		if w := appCtx.Host.Current(); w != nil {
			state = string(w.State())
		}
		c.JSON(http.StatusOK, gin.H{"message": "UP", "worker": state})
	})

	NewWorkerRouter(appCtx.Config.Server.RequestTimeout, appCtx.Config.Worker.FetchTimeout, r, appCtx.Host)
	return r
}
