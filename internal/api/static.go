package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/web"
)

const spaIndex = web.IndexFile

// backendPrefixes never fall through to the frontend.
var backendPrefixes = []string{"/api", "/ws", "/health", "/metrics", "/image-proxy"}

// spaFallback serves files from the embedded frontend and answers unknown client-side routes
// with index.html. Backend paths and non-GET requests get the JSON 404.
func spaFallback(static fs.FS) gin.HandlerFunc {
	if static == nil {
		return middleware.NotFoundHandler
	}
	fileServer := http.FileServer(http.FS(static))

	return func(c *gin.Context) {
		reqPath := c.Request.URL.Path
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			middleware.NotFoundHandler(c)
			return
		}
		for _, prefix := range backendPrefixes {
			if reqPath == prefix || strings.HasPrefix(reqPath, prefix+"/") {
				middleware.NotFoundHandler(c)
				return
			}
		}

		name := strings.TrimPrefix(path.Clean(reqPath), "/")
		if name != "" && name != spaIndex {
			if info, err := fs.Stat(static, name); err == nil && !info.IsDir() {
				fileServer.ServeHTTP(c.Writer, c.Request)
				return
			}
		}

		index, err := fs.ReadFile(static, spaIndex)
		if err != nil {
			middleware.NotFoundHandler(c)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	}
}
