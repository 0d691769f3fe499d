package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/config"
	"github.com/bassista/go_reel/internal/repository"
)

const (
	WorkerModeInProcess = "in-process"
	WorkerModeRemote    = "remote"
)

// QualityInfo describes one download quality tier for the frontend.
type QualityInfo struct {
	Quality    repository.Quality `json:"quality"`
	Rendition  string             `json:"rendition"`
	Multiplier float64            `json:"multiplier"`
}

// ConfigurationResponse represents the configuration response structure for the API.
type ConfigurationResponse struct {
	Origin              string        `json:"origin"`
	Generation          string        `json:"generation"`
	WorkerMode          string        `json:"workerMode"`
	AutoDeleteThreshold float64       `json:"autoDeleteThreshold"`
	Qualities           []QualityInfo `json:"qualities"`
}

// ConfigurationController handles configuration-related API endpoints.
type ConfigurationController struct {
	config *config.Config
}

// NewConfigurationController creates a new ConfigurationController.
func NewConfigurationController(cfg *config.Config) *ConfigurationController {
	return &ConfigurationController{
		config: cfg,
	}
}

// GetConfiguration returns the application configuration for the frontend.
func (cc *ConfigurationController) GetConfiguration(c *gin.Context) {
	mode := WorkerModeInProcess
	if cc.config.Channel.WorkerURL != "" {
		mode = WorkerModeRemote
	}
	multipliers := map[repository.Quality]float64{
		repository.QualityGood:   cc.config.Ledger.GoodMultiplier,
		repository.QualityBetter: cc.config.Ledger.BetterMultiplier,
		repository.QualityBest:   cc.config.Ledger.BestMultiplier,
	}
	qualities := make([]QualityInfo, 0, len(repository.Qualities))
	for _, q := range repository.Qualities {
		qualities = append(qualities, QualityInfo{Quality: q, Rendition: q.Rendition(), Multiplier: multipliers[q]})
	}

	c.JSON(http.StatusOK, ConfigurationResponse{
		Origin:              cc.config.Worker.Origin,
		Generation:          cc.config.Worker.Generation,
		WorkerMode:          mode,
		AutoDeleteThreshold: cc.config.Ledger.AutoDeleteThreshold,
		Qualities:           qualities,
	})
}
