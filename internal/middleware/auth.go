package middleware

import (
	"context"
	"strings"

	"cavvy/internal/auth"
	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"github.com/gin-gonic/gin"
)

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

type Auth struct {
	UserService UserProvider
}

func bearerToken(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// browsers cannot set headers on websocket upgrades
	return ctx.Query("token")
}

func (m *Auth) authenticate(ctx *gin.Context, token string) (*domain.User, error) {
	parsedToken, err := auth.VerifyJWT(token)
	if err != nil {
		return nil, errors.Unauthorized("Invalid token!", err)
	}
	if auth.IsRefreshToken(parsedToken) {
		return nil, errors.Unauthorized("Invalid token!", nil)
	}

	userID, tokenVersion, err := auth.GetDataFromToken(parsedToken)
	if err != nil {
		return nil, errors.Unauthorized("Invalid token!", err)
	}

	user, err := m.UserService.GetUserByID(ctx.Request.Context(), userID)
	if err != nil {
		return nil, errors.Unauthorized("Invalid User ID!", err)
	}
	if !user.IsActive {
		return nil, errors.Unauthorized("User is not active", nil)
	}

	// Check token version
	if user.TokenVersion != tokenVersion {
		return nil, errors.Unauthorized("Invalid token version!", nil)
	}
	return user, nil
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := bearerToken(ctx)
		if token == "" {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		user, err := m.authenticate(ctx, token)
		if err != nil {
			ctx.Error(err)
			ctx.Abort()
			return
		}

		ctx.Set("user_id", user.ID)
		ctx.Set("user_role", string(user.Role))
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}

// OptionalAuth identifies the caller when a token is present and lets
// anonymous requests through with user_id 0.
func (m *Auth) OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := bearerToken(ctx)
		if token == "" {
			ctx.Set("user_id", uint64(0))
			ctx.Next()
			return
		}

		user, err := m.authenticate(ctx, token)
		if err != nil {
			ctx.Error(err)
			ctx.Abort()
			return
		}

		ctx.Set("user_id", user.ID)
		ctx.Set("user_role", string(user.Role))
		ctx.Next()
	}
}
