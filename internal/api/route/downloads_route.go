package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/api/controller"
	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
)

// NewDownloadsRouter registers the download ledger routes. Verification talks
// to the worker once per record and gets verifyTimeout instead of timeout.
func NewDownloadsRouter(timeout, verifyTimeout time.Duration, group *gin.RouterGroup, l *ledger.Ledger, videos ledger.VideoMatcher) {
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	crud := &controller.CrudController[controller.DownloadRequest, repository.DownloadRecord]{
		Service:   &controller.DownloadCrudService{Ledger: l},
		Validator: controller.NewDownloadCrudValidator(),
	}
	dc := controller.NewDownloadsController(l, videos)

	group.GET("downloads", timeoutMiddleware, crud.GetAll)
	group.POST("download", timeoutMiddleware, crud.Create)
	group.DELETE("download/:id", timeoutMiddleware, crud.Delete)
	group.POST("downloads/clear", timeoutMiddleware, dc.Clear)
	group.GET("downloads/usage", timeoutMiddleware, dc.Usage)
	group.GET("downloads/verify", middleware.RequestTimeout(verifyTimeout), dc.Verify)
}
