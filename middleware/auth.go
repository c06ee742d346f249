package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/utils"
)

// ContextUserIDKey is the key used to store the signed in user ID in Gin context.
const ContextUserIDKey = "user_id"

// SessionReader is the part of the session the middleware needs.
type SessionReader interface {
	User() (models.User, bool)
}

// SessionRequired rejects requests while nobody is signed in on this device.
func SessionRequired(sess SessionReader) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, ok := sess.User()
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "not signed in")
			ctx.Abort()
			return
		}
		ctx.Set(ContextUserIDKey, user.ID)
		ctx.Next()
	}
}
