package user

import (
	"net/http"

	"cavvy/internal/auth"
	"cavvy/internal/config"
	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const refreshCookie = "refresh_token"

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type FormLogin struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type FormRegister struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// Register creates the account and signs it in straight away, so a new
// user lands on the canvas list without a second round trip.
func (h *Handler) Register(c *gin.Context) {
	var form FormRegister
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	user := &domain.User{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		IsActive: true,
	}

	if err := h.service.Register(c.Request.Context(), user); err != nil {
		c.Error(err)
		return
	}

	h.issueSession(c, http.StatusCreated, user)
}

func (h *Handler) Login(c *gin.Context) {
	var form FormLogin
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	user, err := h.service.Login(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		c.Error(err)
		return
	}

	h.issueSession(c, http.StatusOK, user)
}

// issueSession answers with a fresh access token and rotates the refresh
// cookie.
func (h *Handler) issueSession(c *gin.Context, status int, user *domain.User) {
	accessToken, err := auth.GenerateAccessToken(user.ID, user.TokenVersion)
	if err != nil {
		c.Error(errors.Internal(err))
		return
	}
	refreshToken, err := auth.GenerateRefreshToken(user.ID, user.TokenVersion)
	if err != nil {
		c.Error(errors.Internal(err))
		return
	}

	secure := config.AppConfig.Environment == "production"
	c.SetCookie(refreshCookie, refreshToken, int(auth.RefreshTokenTTL.Seconds()), "/", "", secure, true)

	c.JSON(status, gin.H{
		"access_token": accessToken,
		"expires_in":   int(auth.AccessTokenTTL.Seconds()),
		"user":         user.ToSafeUser(),
	})
}

// RefreshToken trades the refresh cookie for a new token pair. Tokens issued
// before the last logout carry a stale version and are refused.
func (h *Handler) RefreshToken(c *gin.Context) {
	raw, err := c.Cookie(refreshCookie)
	if err != nil || raw == "" {
		c.Error(errors.Unauthorized("Refresh token not found", err))
		return
	}

	token, err := auth.VerifyJWT(raw)
	if err != nil || !auth.IsRefreshToken(token) {
		c.Error(errors.Unauthorized("Invalid token or expired!", err))
		return
	}

	userID, tokenVersion, err := auth.GetDataFromToken(token)
	if err != nil {
		c.Error(errors.Unauthorized("Invalid token", err))
		return
	}

	user, err := h.service.GetUserByID(c.Request.Context(), userID)
	if err != nil || !user.IsActive || user.TokenVersion != tokenVersion {
		c.Error(errors.Unauthorized("Session is no longer valid", err))
		return
	}

	h.issueSession(c, http.StatusOK, user)
}

// Logout revokes every token of the user and clears the refresh cookie.
func (h *Handler) Logout(c *gin.Context) {
	userID := c.GetUint64("user_id")

	if err := h.service.IncreaseTokenVersion(c.Request.Context(), userID); err != nil {
		log.Warn().Err(err).Uint64("user_id", userID).Msg("failed to revoke tokens on logout")
	}
	c.SetCookie(refreshCookie, "", -1, "/", "", true, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.service.GetUserByID(c.Request.Context(), c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, user.ToSafeUser())
}
