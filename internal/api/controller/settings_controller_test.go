package controller

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/repository"
)

func TestSettingsController(t *testing.T) {
	l, sender := newTestLedger()
	sc := NewSettingsController(l)
	r := gin.New()
	r.GET("/settings/downloads", sc.GetDownloadSettings)
	r.PUT("/settings/downloads", sc.PutDownloadSettings)

	w := doJSON(r, http.MethodGet, "/settings/downloads", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"quality":"Better","autoDelete":false}`, w.Body.String())

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", repository.Settings{Quality: repository.QualityGood}, http.StatusOK},
		{"unknown quality", map[string]any{"quality": "Ultra"}, http.StatusBadRequest},
		{"missing quality", map[string]any{"autoDelete": true}, http.StatusBadRequest},
		{"not an object", []int{1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPut, "/settings/downloads", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, repository.QualityGood, l.Settings().Quality)
	assert.Empty(t, sender.messages())
}

func TestSettingsController_EnablingAutoDeleteSweeps(t *testing.T) {
	l, sender := newTestLedger()
	_, _, err := l.Download(context.Background(), 42, repository.QualityBetter)
	require.NoError(t, err)
	require.NoError(t, l.SetProgress(context.Background(), 42, 96))
	require.Len(t, l.Downloads(), 1, "auto-delete is still off")

	sc := NewSettingsController(l)
	r := gin.New()
	r.PUT("/settings/downloads", sc.PutDownloadSettings)

	w := doJSON(r, http.MethodPut, "/settings/downloads", repository.Settings{Quality: repository.QualityBetter, AutoDelete: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, l.Downloads())
	msgs := sender.messages()
	assert.Equal(t, channel.Message{Type: channel.DeleteVideo, URL: videoA}, msgs[len(msgs)-1])
}
