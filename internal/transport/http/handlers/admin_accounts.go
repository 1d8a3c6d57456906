package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// AdminAccountHandler exposes the back-office account lifecycle endpoints.
// Caller authorization happens in the admin-key middleware; the operator
// identity comes from the actor header and lands in the security ledger.
type AdminAccountHandler struct {
	provisioning *usecase.ProvisioningService
	admin        *usecase.AdminService
}

// NewAdminAccountHandler constructs AdminAccountHandler.
func NewAdminAccountHandler(provisioning *usecase.ProvisioningService, admin *usecase.AdminService) *AdminAccountHandler {
	return &AdminAccountHandler{
		provisioning: provisioning,
		admin:        admin,
	}
}

// RegisterRoutes binds the administrative account routes.
func (h *AdminAccountHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.provision)
	r.POST("/accounts/:id/unlock", h.unlock)
	r.POST("/accounts/:id/force-password-reset", h.forcePasswordReset)
	r.POST("/accounts/:id/suspend", h.suspend)
	r.POST("/accounts/:id/reinstate", h.reinstate)
	r.POST("/accounts/:id/deactivate", h.deactivate)
	r.POST("/accounts/:id/notes", h.recordNote)
}

// Provision godoc
// @Summary Provision a portal account
// @Description Creates an account in pending activation with a freshly generated portal ID.
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body ProvisionAccountRequest true "Provisioning request"
// @Success 201 {object} ProvisionAccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts [post]
func (h *AdminAccountHandler) provision(c *gin.Context) {
	var req ProvisionAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid provisioning payload"))
		return
	}

	input := usecase.ProvisionInput{
		TenantID:              strings.TrimSpace(req.TenantID),
		Type:                  domain.AccountType(strings.TrimSpace(req.AccountType)),
		Timezone:              strings.TrimSpace(req.Timezone),
		SessionTimeout:        time.Duration(req.SessionTimeoutSeconds) * time.Second,
		MaxConcurrentSessions: req.MaxConcurrentSessions,
		RequestedBy:           middleware.GetAdminActor(c),
	}

	account, err := h.provisioning.CreateAccount(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrInvalidAccountType):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "account_type must be customer, technician, or reseller"))
		case errors.Is(err, usecase.ErrIdentifierExhausted):
			c.JSON(http.StatusConflict, NewErrorResponse(c, "portal id space exhausted for tenant"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to provision account"))
		}
		return
	}

	c.JSON(http.StatusCreated, ProvisionAccountResponse{Account: newAccountSummary(account)})
}

// Unlock godoc
// @Summary Unlock a locked account
// @Description Clears a progressive lock ahead of its natural expiry.
// @Tags Admin
// @Produce json
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/unlock [post]
func (h *AdminAccountHandler) unlock(c *gin.Context) {
	h.lifecycleAction(c, h.admin.Unlock)
}

// ForcePasswordReset godoc
// @Summary Force a password reset
// @Description Flags the account for a mandatory password change and revokes all its sessions.
// @Tags Admin
// @Produce json
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/force-password-reset [post]
func (h *AdminAccountHandler) forcePasswordReset(c *gin.Context) {
	h.lifecycleAction(c, h.admin.ForcePasswordReset)
}

// Suspend godoc
// @Summary Suspend an account
// @Description Moves the account to suspended and ends its sessions.
// @Tags Admin
// @Produce json
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/suspend [post]
func (h *AdminAccountHandler) suspend(c *gin.Context) {
	h.lifecycleAction(c, h.admin.Suspend)
}

// Reinstate godoc
// @Summary Reinstate a suspended account
// @Description Returns a suspended account to active.
// @Tags Admin
// @Produce json
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/reinstate [post]
func (h *AdminAccountHandler) reinstate(c *gin.Context) {
	h.lifecycleAction(c, h.admin.Reinstate)
}

// Deactivate godoc
// @Summary Deactivate an account
// @Description Retires the account permanently; no transition leads back out.
// @Tags Admin
// @Produce json
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/deactivate [post]
func (h *AdminAccountHandler) deactivate(c *gin.Context) {
	h.lifecycleAction(c, h.admin.Deactivate)
}

// RecordNote godoc
// @Summary Append a security note
// @Description Adds a free-form operator entry to the account's security ledger.
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body AdminNoteRequest true "Note request"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/notes [post]
func (h *AdminAccountHandler) recordNote(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("id"))
	if accountID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "account id is required"))
		return
	}

	var req AdminNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "note is required"))
		return
	}

	err := h.admin.RecordNote(c.Request.Context(), accountID, strings.TrimSpace(req.Note), middleware.GetAdminActor(c))
	if err != nil {
		respondAdminError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AdminAccountHandler) lifecycleAction(c *gin.Context, action func(ctx context.Context, accountID, adminID string) error) {
	accountID := strings.TrimSpace(c.Param("id"))
	if accountID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "account id is required"))
		return
	}

	if err := action(c.Request.Context(), accountID, middleware.GetAdminActor(c)); err != nil {
		respondAdminError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func respondAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "account not found"))
	case errors.Is(err, usecase.ErrInvalidTransition):
		c.JSON(http.StatusConflict, NewErrorResponse(c, "account state does not allow this action"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "administrative action failed"))
	}
}
