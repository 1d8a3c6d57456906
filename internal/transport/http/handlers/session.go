package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// SessionHandler lets an account inspect and end its own sessions.
type SessionHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(auth *usecase.AuthService, sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{
		auth:     auth,
		sessions: sessions,
	}
}

// RegisterRoutes binds session management routes.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/sessions", middleware.RequireAuth(h.auth))
	group.GET("", h.list)
	group.DELETE("/others", h.revokeOthers)
	group.DELETE("/:id", h.revoke)
}

// List godoc
// @Summary List active sessions
// @Description Returns the caller's live sessions, most recently active first.
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) list(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	currentID := ""
	if claims := middleware.GetClaims(c); claims != nil {
		currentID = claims.SessionID
	}

	sessions, err := h.sessions.ListActive(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, newSessionSummary(session, currentID))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

// Revoke godoc
// @Summary Revoke a session
// @Description Ends one of the caller's sessions. Revoking the current session logs the caller out.
// @Tags Sessions
// @Produce json
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) revoke(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session id is required"))
		return
	}

	// Only the caller's own live sessions are addressable; everything else
	// looks like a miss.
	active, err := h.sessions.ListActive(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	owned := false
	for _, session := range active {
		if session.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID, domain.RevokeReasonLogout, "account"); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	c.Status(http.StatusNoContent)
}

// RevokeOthers godoc
// @Summary Revoke all other sessions
// @Description Ends every session for the caller except the current one.
// @Tags Sessions
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/others [delete]
func (h *SessionHandler) revokeOthers(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	currentID := ""
	if claims := middleware.GetClaims(c); claims != nil {
		currentID = claims.SessionID
	}

	revoked, err := h.sessions.RevokeAllExcept(c.Request.Context(), accountID, currentID, domain.RevokeReasonLogout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke sessions"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("revoked %d sessions", revoked),
	})
}
