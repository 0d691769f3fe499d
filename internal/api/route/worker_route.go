package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/api/controller"
	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/app"
)

// NewWorkerRouter registers the worker surface on r. Fetch interception uses
// fetchTimeout, zero meaning none.
func NewWorkerRouter(timeout, fetchTimeout time.Duration, r *gin.Engine, host *app.WorkerHost) {
	wc := controller.NewWorkerController(host, fetchTimeout)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	r.Use(middleware.ProxyIntercept(wc.Fetch))
	r.Any("/fetch", wc.Fetch)

	sw := r.Group("/sw")
	sw.GET("/state", timeoutMiddleware, wc.State)
	sw.POST("/messages", timeoutMiddleware, wc.PostMessage)
	sw.POST("/push", timeoutMiddleware, wc.Push)
	sw.POST("/notificationclick", timeoutMiddleware, wc.NotificationClick)
	sw.POST("/clients", timeoutMiddleware, wc.RegisterClient)
	sw.GET("/clients", timeoutMiddleware, wc.AllClients)
	sw.DELETE("/clients/:id", timeoutMiddleware, wc.UnregisterClient)
	sw.GET("/video", timeoutMiddleware, wc.Video)
	sw.GET("/videos/failed", timeoutMiddleware, wc.FailedVideos)
	// tasks and deploys fetch from the network like install does
	sw.POST("/tasks/:id", wc.RunTask)
	sw.POST("/deploy", wc.Deploy)
}
