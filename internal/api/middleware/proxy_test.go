package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestProxyIntercept(t *testing.T) {
	r := gin.New()
	r.Use(ProxyIntercept(func(c *gin.Context) {
		c.String(http.StatusOK, "proxied "+c.Request.URL.String())
	}))
	r.GET("/sw/state", func(c *gin.Context) {
		c.String(http.StatusOK, "local")
	})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"own path", "/sw/state", "local"},
		{"absolute url", "http://media.reel.example/videos/a/720p.mp4", "proxied http://media.reel.example/videos/a/720p.mp4"},
		// an absolute URL whose path collides with a local route is still proxied
		{"absolute url on local path", "http://origin.local/sw/state", "proxied http://origin.local/sw/state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if w.Body.String() != tt.want {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.want)
			}
		})
	}
}
