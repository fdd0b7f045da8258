package authentication

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/token"
)

const (
	msgInvalidToken       = "invalid or expired token"
	msgInvalidCredentials = "invalid credentials"
)

// SigninRequest is the payload for signing in.
type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest carries a refresh token for rotation or logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is returned by sign-in and refresh.
type TokenResponse struct {
	AccessToken  string                `json:"access_token"`
	RefreshToken string                `json:"refresh_token"`
	TokenType    string                `json:"token_type"`
	ExpiresIn    int64                 `json:"expires_in"`
	User         person.PersonResponse `json:"user"`
}

func newTokenResponse(s *Session) TokenResponse {
	return TokenResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		User:         s.Identity.ToResponse(),
	}
}

// AuthHandler handles authentication-related HTTP endpoints.
type AuthHandler struct {
	service AuthenticationService
	logger  *zap.Logger
}

// NewAuthHandler registers auth endpoints on the given router group.
// refreshGuards run in front of the refresh endpoint only.
func NewAuthHandler(router *gin.RouterGroup, service AuthenticationService, logger *zap.Logger, refreshGuards ...gin.HandlerFunc) *AuthHandler {
	h := &AuthHandler{service: service, logger: logger}
	router.POST("/auth/signin", h.Signin)
	router.POST("/auth/refresh", append(refreshGuards, h.Refresh)...)
	router.POST("/auth/logout", h.Logout)
	return h
}

// Signin godoc
// @Summary      Sign in
// @Description  Verify credentials and start a new token family
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      SigninRequest  true  "Credentials"
// @Success      200      {object}  TokenResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /auth/signin [post]
func (h *AuthHandler) Signin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signin payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	session, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newTokenResponse(session))
	case errors.Is(err, person.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
	default:
		h.logger.Error("Authenticate failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign in"})
	}
}

// Refresh godoc
// @Summary      Refresh Token
// @Description  Consume a refresh token and issue a new pair in the same family
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      RefreshRequest  true  "Refresh token payload"
// @Success      200      {object}  TokenResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      404      {object}  map[string]string
// @Failure      429      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh token required"})
		return
	}
	session, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newTokenResponse(session))
	case errors.Is(err, token.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidToken})
	case errors.Is(err, person.ErrPersonNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		h.logger.Error("Refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not refresh token"})
	}
}

// Logout godoc
// @Summary      Logout
// @Description  Revoke a refresh token
// @Tags         auth
// @Accept       json
// @Param        payload  body      RefreshRequest  true  "Logout payload"
// @Success      204
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid logout payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh token required"})
		return
	}
	err := h.service.Logout(c.Request.Context(), req.RefreshToken)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, token.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidToken})
	default:
		h.logger.Error("Logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not logout"})
	}
}
