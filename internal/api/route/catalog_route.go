package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/api/controller"
	"github.com/bassista/go_reel/internal/api/middleware"
	"github.com/bassista/go_reel/internal/ledger"
)

// NewCatalogRouter sets up the movie catalog and watch progress routes.
func NewCatalogRouter(timeout time.Duration, group *gin.RouterGroup, l *ledger.Ledger) {
	cc := controller.NewCatalogController(l)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.GET("movies", timeoutMiddleware, cc.AllMovies)
	group.GET("movie/:id", timeoutMiddleware, cc.GetMovie)
	group.PUT("progress/:id", timeoutMiddleware, cc.PutProgress)
}
