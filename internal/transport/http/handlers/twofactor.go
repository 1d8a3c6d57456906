package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// TwoFactorHandler exposes TOTP enrolment endpoints for the authenticated account.
type TwoFactorHandler struct {
	auth      *usecase.AuthService
	twoFactor *usecase.TwoFactorService
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(auth *usecase.AuthService, twoFactor *usecase.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{
		auth:      auth,
		twoFactor: twoFactor,
	}
}

// RegisterRoutes binds the 2FA enrolment routes under the authenticated group.
func (h *TwoFactorHandler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/2fa", middleware.RequireAuth(h.auth))
	group.POST("/setup", h.setup)
	group.POST("/confirm", h.confirm)
}

// Setup godoc
// @Summary Begin two-factor enrolment
// @Description Generates a TOTP secret, provisioning URI, and backup codes. Nothing takes effect until confirmed.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} TwoFactorSetupResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/2fa/setup [post]
func (h *TwoFactorHandler) setup(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	enrolment, err := h.twoFactor.BeginSetup(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, usecase.ErrTwoFactorAlreadyEnabled) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "two-factor already enabled"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to begin two-factor setup"))
		return
	}

	c.JSON(http.StatusOK, TwoFactorSetupResponse{
		Secret:          enrolment.Secret,
		ProvisioningURI: enrolment.ProvisioningURI,
		BackupCodes:     enrolment.BackupCodes,
	})
}

// Confirm godoc
// @Summary Confirm two-factor enrolment
// @Description Proves possession of the pending secret with one valid TOTP code. Other sessions are revoked.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorConfirmRequest true "Confirmation request"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/2fa/confirm [post]
func (h *TwoFactorHandler) confirm(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	keepSessionID := ""
	if claims := middleware.GetClaims(c); claims != nil {
		keepSessionID = claims.SessionID
	}

	err := h.twoFactor.ConfirmSetup(c.Request.Context(), accountID, strings.TrimSpace(req.Code), keepSessionID)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrTwoFactorSetupNotFound):
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "no pending two-factor enrolment"))
		case errors.Is(err, usecase.ErrTwoFactorInvalid):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid two-factor code"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to confirm two-factor setup"))
		}
		return
	}

	c.Status(http.StatusNoContent)
}
