package route

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// NewUIRouter serves the app shell from dir. The shell is what the worker
// pre-caches at install, so "/" and "/index.html" must answer 200 whenever the
// foreground is up. Unknown extension-less GET paths fall back to index.html
// for client-side routing; anything else is a JSON 404.
func NewUIRouter(r *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")

	// Serve static assets (JS, CSS, images)
	r.Static("/assets", filepath.Join(dir, "assets"))
	r.Static("/icons", filepath.Join(dir, "icons"))

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Header("Content-Type", "image/x-icon")
		c.File(filepath.Join(dir, "favicon.ico"))
	})
	r.GET("/manifest.json", func(c *gin.Context) {
		c.File(filepath.Join(dir, "manifest.json"))
	})

	serveIndex := func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache")
		c.File(index)
	}
	r.GET("/", serveIndex)
	r.GET("/index.html", serveIndex)

	r.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if c.Request.Method == http.MethodGet && path.Ext(p) == "" && !strings.HasPrefix(p, "/api/") {
			serveIndex(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
