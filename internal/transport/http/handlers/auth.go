package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/security"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// AuthHandler exposes the credential-facing endpoints: login, token refresh,
// logout, first-login activation, and password change.
type AuthHandler struct {
	auth         *usecase.AuthService
	provisioning *usecase.ProvisioningService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, provisioning *usecase.ProvisioningService) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		provisioning: provisioning,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.login)
	}

	r.POST("/refresh", h.refresh)
	r.POST("/activate", h.activate)
	r.POST("/logout", middleware.RequireAuth(h.auth), h.logout)
	r.POST("/password", middleware.RequireAuth(h.auth), h.changePassword)
}

// Login godoc
// @Summary Authenticate with a portal ID and password
// @Description Verifies credentials, applies risk and lockout policy, and returns a token pair on success.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse "Successfully authenticated"
// @Failure 400 {object} ErrorResponse "Invalid request payload"
// @Failure 401 {object} ErrorResponse "Invalid credentials or missing second factor"
// @Failure 423 {object} LockedResponse "Account locked"
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Failure 503 {object} ErrorResponse "Service temporarily unavailable"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	input := usecase.LoginInput{
		TenantID:      strings.TrimSpace(req.TenantID),
		PortalID:      strings.TrimSpace(req.PortalID),
		Password:      req.Password,
		TwoFactorCode: strings.TrimSpace(req.TwoFactorCode),
		RememberMe:    req.RememberMe,
		IP:            clientIP(c),
	}
	if fp := strings.TrimSpace(req.DeviceFingerprint); fp != "" {
		input.DeviceFingerprint = &fp
	}

	result, err := h.auth.Login(c.Request.Context(), input)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:        result.Tokens.AccessToken,
		RefreshToken:       result.Tokens.RefreshToken,
		TokenType:          "Bearer",
		ExpiresIn:          expiresIn(result.Tokens.AccessExpiresAt),
		Account:            newAccountSummary(result.Account),
		Session:            newSessionSummary(*result.Session, result.Session.ID),
		RiskScore:          result.RiskScore,
		MustChangePassword: result.MustChangePassword,
	})
}

// Refresh godoc
// @Summary Refresh an access token
// @Description Rotates the refresh token and issues a new token pair. A reused refresh token revokes the session.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body TokenRefreshRequest true "Refresh request"
// @Success 200 {object} TokenRefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrSessionExpired, Status: http.StatusUnauthorized, Message: "session expired"},
			{Err: usecase.ErrSessionRevoked, Status: http.StatusUnauthorized, Message: "session revoked"},
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrServiceUnavailable, Status: http.StatusServiceUnavailable, Message: "authentication temporarily unavailable"},
		}, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(result.Tokens.AccessExpiresAt),
	})
}

// Logout godoc
// @Summary Logout the current session
// @Description Revokes the caller's session using the access token's session binding. Repeat calls succeed.
// @Tags Authentication
// @Produce json
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(claims.SessionID)
	if sessionID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.auth.Logout(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	c.Status(http.StatusNoContent)
}

// Activate godoc
// @Summary Activate a provisioned account
// @Description Sets the first password for an account in pending activation and moves it to active.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ActivateRequest true "Activation request"
// @Success 200 {object} ProvisionAccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/activate [post]
func (h *AuthHandler) activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid activation payload"))
		return
	}

	account, err := h.provisioning.Activate(c.Request.Context(),
		strings.TrimSpace(req.TenantID), strings.TrimSpace(req.PortalID), req.Password)
	if err != nil {
		var policyErr *security.PasswordValidationError
		switch {
		case errors.Is(err, usecase.ErrAccountNotFound):
			// The portal id is a credential here; do not reveal whether it exists.
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "activation failed"))
		case errors.Is(err, usecase.ErrNotActivatable):
			c.JSON(http.StatusConflict, NewErrorResponse(c, "account not awaiting activation"))
		case errors.As(err, &policyErr):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to activate account"))
		}
		return
	}

	c.JSON(http.StatusOK, ProvisionAccountResponse{Account: newAccountSummary(account)})
}

// ChangePassword godoc
// @Summary Change the caller's password
// @Description Verifies the current password and replaces it. Other sessions are revoked.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Password change request"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/password [post]
func (h *AuthHandler) changePassword(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	err := h.provisioning.ChangePassword(c.Request.Context(), accountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var policyErr *security.PasswordValidationError
		switch {
		case errors.Is(err, usecase.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "current password is incorrect"))
		case errors.As(err, &policyErr):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
		default:
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func respondLoginError(c *gin.Context, err error) {
	var lockedErr *usecase.AccountLockedError
	if errors.As(err, &lockedErr) {
		seconds := int(math.Ceil(lockedErr.RetryAfter.Seconds()))
		if seconds < 0 {
			seconds = 0
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusLocked, LockedResponse{
			Error:      "account temporarily locked",
			RetryAfter: seconds,
			TraceID:    middleware.GetTraceID(c),
		})
		return
	}

	switch {
	case errors.Is(err, usecase.ErrTwoFactorRequired):
		c.JSON(http.StatusUnauthorized, TwoFactorRequiredResponse{
			Error:             "two-factor code required",
			TwoFactorRequired: true,
			TraceID:           middleware.GetTraceID(c),
		})
	case errors.Is(err, usecase.ErrInvalidCredentials):
		// One response for a missing account, a wrong password, and a bad
		// second factor; distinguishing them would leak account state.
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
	}
}

func clientIP(c *gin.Context) *string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		return nil
	}
	return &ip
}

func expiresIn(expiresAt time.Time) int {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}
