package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

const (
	// ClaimsKey is the context key holding the verified access-token claims.
	ClaimsKey = "claims"
	// SessionKey is the context key holding the live session for the request.
	SessionKey = "session"
)

// RequireAuth validates the Authorization header, verifies the access token
// against the revocation state, and slides the session's activity marker.
func RequireAuth(auth *usecase.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		var currentIP *string
		if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
			currentIP = &ip
		}

		claims, session, err := auth.Authorize(c.Request.Context(), token, currentIP)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrSessionExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session expired"))
			case errors.Is(err, usecase.ErrSessionRevoked):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session revoked"))
			case errors.Is(err, usecase.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			case errors.Is(err, usecase.ErrLivenessUnknown), errors.Is(err, usecase.ErrServiceUnavailable):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable,
					newErrorResponse(c, "authentication temporarily unavailable"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Set(SessionKey, session)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.Subject
		}

		c.Next()
	}
}

// GetClaims retrieves verified access-token claims from the request context.
func GetClaims(c *gin.Context) *usecase.PortalClaims {
	raw, exists := c.Get(ClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := raw.(*usecase.PortalClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAuthenticatedUserID retrieves the portal id from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
