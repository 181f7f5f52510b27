package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/errors"
	"github.com/charlesng35/estatedir/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/me).
type AuthHandler struct {
	local    *iauth.LocalAuthenticator
	sessions *iauth.SessionService
}

func NewAuthHandler(local *iauth.LocalAuthenticator, sessions *iauth.SessionService) *AuthHandler {
	return &AuthHandler{local: local, sessions: sessions}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"omitempty,max=10"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userPayload struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func newUserPayload(user *models.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		LastLoginAt: user.LastLoginAt,
	}
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		response.Error(c, errors.NewBadRequest("username is required"))
		return
	}

	ctx := requestContext(c)
	user, err := h.local.Authenticate(ctx, iauth.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		Code:      req.Code,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	pair, _, err := h.sessions.CreateSession(ctx, user, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens": pair,
		"user":   newUserPayload(user),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sid); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.local.UserByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if !user.IsActive {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, newUserPayload(user))
}
