package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
)

// SettingsController handles the download settings.
type SettingsController struct {
	ledger    *ledger.Ledger
	validator *validator.Validate
}

func NewSettingsController(l *ledger.Ledger) *SettingsController {
	return &SettingsController{ledger: l, validator: validator.New()}
}

func (sc *SettingsController) GetDownloadSettings(c *gin.Context) {
	c.JSON(http.StatusOK, sc.ledger.Settings())
}

// PutDownloadSettings replaces the settings. Turning auto-delete on removes
// already-watched downloads right away.
func (sc *SettingsController) PutDownloadSettings(c *gin.Context) {
	var s repository.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := sc.validator.Struct(s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sc.ledger.SetSettings(c.Request.Context(), s); err != nil {
		writeError(c, err, "failed to update settings")
		return
	}
	c.JSON(http.StatusOK, sc.ledger.Settings())
}
