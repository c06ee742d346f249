package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/utils"
)

// LocalOnly restricts the local API to this machine, and to the private network
// when allowPrivate is set. Only the TCP peer address counts: the agent is never
// deployed behind a proxy, so forwarding headers are ignored.
func LocalOnly(allowPrivate bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		peer := peerIP(c.Request)
		ip := net.ParseIP(peer)
		switch {
		case ip == nil:
		case ip.IsLoopback():
			c.Next()
			return
		case allowPrivate && ip.IsPrivate():
			c.Next()
			return
		}
		utils.Respond(c, http.StatusForbidden, 40301, "local API only accepts requests from this device", gin.H{"ip": peer})
		c.Abort()
	}
}

func peerIP(r *http.Request) string {
	return stripPort(strings.TrimSpace(r.RemoteAddr))
}

func stripPort(ip string) string {
	if h, _, err := net.SplitHostPort(ip); err == nil {
		return h
	}
	return strings.Trim(ip, "[]")
}

// IsLoopbackHost reports whether host only binds the loopback interface.
func IsLoopbackHost(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
