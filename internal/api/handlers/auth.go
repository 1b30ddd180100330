package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/crypto"
	"github.com/LoveACE-Team/LoveACE/internal/database"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

type AuthHandler struct {
	users      *database.UserStore
	invites    *database.InviteStore
	sessions   *portal.Manager
	auth       portal.Authenticator
	jwtManager *crypto.JWTManager
	logger     *slog.Logger
}

func NewAuthHandler(users *database.UserStore, invites *database.InviteStore, sessions *portal.Manager, auth portal.Authenticator, jwtManager *crypto.JWTManager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:      users,
		invites:    invites,
		sessions:   sessions,
		auth:       auth,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

type inviteRequest struct {
	InviteCode string `json:"inviteCode" binding:"required"`
}

type inviteResponse struct {
	InviteToken string `json:"inviteToken"`
}

// PostInvite verifies an invite code and issues a short-lived registration
// token.
// POST /v1/auth/invite
func (h *AuthHandler) PostInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	switch err := h.invites.Verify(c.Request.Context(), req.InviteCode); {
	case errors.Is(err, database.ErrInviteInvalid):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "invalid invite code"})
		return
	case errors.Is(err, database.ErrInviteUsed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invite code already used"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}

	token, err := h.jwtManager.IssueInviteToken(req.InviteCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, inviteResponse{InviteToken: token})
}

type registerRequest struct {
	InviteToken string `json:"inviteToken" binding:"required"`
	UserID      string `json:"userId" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceID    string `json:"deviceId" binding:"required"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// PostRegister creates an account. The supplied portal credentials are
// verified with a live handshake before anything is stored, so a bad
// password never burns the invite code.
// POST /v1/auth/register
func (h *AuthHandler) PostRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	claims, err := h.jwtManager.VerifyScoped(req.InviteToken, crypto.ScopeInvite)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid invite token"})
		return
	}

	exists, err := h.users.Exists(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "account already registered"})
		return
	}

	if !h.verifyHandshake(c, req.UserID, req.Password) {
		return
	}

	if err := h.users.Create(c.Request.Context(), req.UserID, req.Password); err != nil {
		h.logger.Error("create user", "principal", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create account"})
		return
	}
	if err := h.invites.Consume(c.Request.Context(), claims.Subject, req.UserID); err != nil {
		if errors.Is(err, database.ErrInviteUsed) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "invite code already used"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}
	if err := h.users.RegisterDevice(c.Request.Context(), req.UserID, req.DeviceID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}

	token, err := h.jwtManager.IssueAccessToken(req.UserID, req.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, UserID: req.UserID})
}

type loginRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"deviceId" binding:"required"`
}

// PostLogin re-verifies portal credentials and issues a fresh access token.
// The sealed copy is refreshed so a password change on the portal side heals
// on the next login.
// POST /v1/auth/login
func (h *AuthHandler) PostLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	exists, err := h.users.Exists(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "account not registered"})
		return
	}

	if !h.verifyHandshake(c, req.UserID, req.Password) {
		return
	}

	if err := h.users.UpdatePassword(c.Request.Context(), req.UserID, req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}
	if err := h.users.RegisterDevice(c.Request.Context(), req.UserID, req.DeviceID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}

	token, err := h.jwtManager.IssueAccessToken(req.UserID, req.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, UserID: req.UserID})
}

// verifyHandshake runs a live identity-provider login with the supplied
// credentials. It writes the error response itself and reports success.
func (h *AuthHandler) verifyHandshake(c *gin.Context, userID, password string) bool {
	_, err := h.auth.Login(c.Request.Context(), portal.Credentials{
		Principal: userID,
		Password:  password,
	})
	if err == nil {
		return true
	}
	if errors.Is(err, portal.ErrAuthenticationFailed) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "the portal rejected these credentials"})
		return false
	}
	if errors.Is(err, portal.ErrTransient) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "portal temporarily unreachable"})
		return false
	}
	h.logger.Error("credential handshake", "principal", userID, "error", err)
	respondUpstreamError(c, err)
	return false
}

type statusResponse struct {
	UserID      string `json:"userId"`
	DeviceID    string `json:"deviceId,omitempty"`
	PortalState string `json:"portalState"`
}

// GetStatus reports token validity and the portal session state for the
// authenticated principal.
// GET /v1/auth/status
func (h *AuthHandler) GetStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	resp := statusResponse{UserID: userID}
	if claims, exists := c.Get("claims"); exists {
		if cl, ok := claims.(*crypto.Claims); ok {
			resp.DeviceID = cl.DeviceID
		}
	}
	resp.PortalState = h.sessions.Session(userID).State().String()
	c.JSON(http.StatusOK, resp)
}
