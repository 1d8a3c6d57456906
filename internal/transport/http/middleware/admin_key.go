package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// AdminKeyHeader carries the shared key for back-office calls.
	AdminKeyHeader = "X-Admin-API-Key"
	// AdminActorHeader names the operator performing an administrative action.
	AdminActorHeader = "X-Admin-Actor"
)

// RequireAdminKey gates the administrative group behind a shared key. An
// empty configured key disables the group.
func RequireAdminKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusNotFound,
				newErrorResponse(c, "not found"))
			return
		}

		presented := strings.TrimSpace(c.GetHeader(AdminKeyHeader))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid admin credentials"))
			return
		}

		c.Next()
	}
}

// GetAdminActor returns the operator identity attached to an administrative
// request, falling back to a generic label when the header is absent.
func GetAdminActor(c *gin.Context) string {
	actor := strings.TrimSpace(c.GetHeader(AdminActorHeader))
	if actor == "" {
		return "admin"
	}
	return actor
}
