package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/utils"
)

// OriginGuard blocks cross-site writes to the local API. A browser page on another
// origin can still send "simple" requests to 127.0.0.1 without a CORS preflight, so
// state changing requests must come from an allowed origin (or from a non-browser
// client sending no Origin) and must carry a JSON body.
func OriginGuard(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if origin := c.GetHeader("Origin"); origin != "" && !OriginAllowed(allowed, origin) {
			utils.Error(c, http.StatusForbidden, 40302, "origin not allowed")
			c.Abort()
			return
		}
		if c.Request.ContentLength != 0 && c.ContentType() != gin.MIMEJSON {
			utils.Error(c, http.StatusUnsupportedMediaType, 41501, "request body must be application/json")
			c.Abort()
			return
		}
		c.Next()
	}
}

// OriginAllowed matches origin against patterns. "*" admits every origin and a single
// "*" inside a pattern matches any run of characters, e.g. http://localhost:*.
func OriginAllowed(patterns []string, origin string) bool {
	origin = strings.ToLower(strings.TrimSpace(origin))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == origin {
			return true
		}
		if i := strings.IndexByte(p, '*'); i >= 0 {
			prefix, suffix := p[:i], p[i+1:]
			if len(origin) >= len(prefix)+len(suffix) && strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
