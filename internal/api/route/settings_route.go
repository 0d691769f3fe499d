package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/api/controller"
	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/ledger"
)

func NewSettingsRouter(timeout time.Duration, group *gin.RouterGroup, l *ledger.Ledger) {
	sc := controller.NewSettingsController(l)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.GET("settings/downloads", timeoutMiddleware, sc.GetDownloadSettings)
	group.PUT("settings/downloads", timeoutMiddleware, sc.PutDownloadSettings)
}
