package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vigia/internal/core/domain"
	"vigia/internal/core/services"
	"vigia/pkg/errors"
	"vigia/pkg/validation"
)

// AuthHandler mints the bearer tokens clients present on the signaling
// channel. The endpoint is meant to sit behind the deployment's own identity
// layer; it trusts the caller-supplied identity fields.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID int64  `json:"userId" binding:"required"`
	Email  string `json:"email" binding:"required,max=254"`
	Role   string `json:"role" binding:"required"`
	TeamID *int64 `json:"teamId,omitempty"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateRole(req.Role); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.authService.GenerateToken(domain.Identity{
		UserID: domain.UserID(req.UserID),
		Email:  req.Email,
		Role:   domain.Role(req.Role),
		TeamID: req.TeamID,
	})
	if err != nil {
		c.Error(errors.NewInternalError("failed to sign token"))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresIn: int64(h.tokenTTL.Seconds()),
	})
}
