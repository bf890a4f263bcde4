package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stockbook_backend/models"
	"github.com/mmdatafocus/stockbook_backend/utils"
)

// SessionMiddleware resolves the opaque session token into actor identity on
// the request context. Requests without a token pass through anonymously;
// individual routes decide whether to require one.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		session, exists, err := models.ResolveSession(c.Request.Context(), token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), session.UserId)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		ctx = utils.SetRoleIdInContext(ctx, session.RoleId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession gates a route group on an authenticated actor.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
