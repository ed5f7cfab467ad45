package server

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeBase turns a configured base path into "" or "/seg[/seg...]".
func normalizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return path.Clean("/" + bp)
}

// writeJSON renders v with code. Snapshots go stale quickly, so responses are
// never cached. Once the status is written an encode failure can only be logged.
func (r *Router) writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(code)
	if err := json.NewEncoder(c.Writer).Encode(v); err != nil {
		r.logger.Warn("control API response not written", "path", c.FullPath(), "status", code, "error", err)
	}
}
