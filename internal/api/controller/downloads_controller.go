package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/logger"
)

// DownloadsController serves the bulk download operations that do not fit the
// CRUD shape.
type DownloadsController struct {
	ledger *ledger.Ledger
	videos ledger.VideoMatcher
}

func NewDownloadsController(l *ledger.Ledger, videos ledger.VideoMatcher) *DownloadsController {
	return &DownloadsController{ledger: l, videos: videos}
}

// Clear drops every download record and asks the worker to empty its video
// store.
func (dc *DownloadsController) Clear(c *gin.Context) {
	n := dc.ledger.Clear(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

// Usage reports how many titles are downloaded and the storage they take.
func (dc *DownloadsController) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":       len(dc.ledger.Downloads()),
		"totalSizeGb": dc.ledger.TotalSizeGB(),
	})
}

// Verify checks every download record against the worker's video store.
func (dc *DownloadsController) Verify(c *gin.Context) {
	if dc.videos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker to verify against"})
		return
	}
	results, err := dc.ledger.Verify(c.Request.Context(), dc.videos)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "verification timed out", "partial": results})
			return
		}
		logger.WithComponent("downloads").Errorf("verify failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify downloads"})
		return
	}
	c.JSON(http.StatusOK, results)
}
