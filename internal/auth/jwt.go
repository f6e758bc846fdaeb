package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var secret []byte

// SetSecret sets the HMAC key used to sign and verify tokens.
func SetSecret(s string) {
	secret = []byte(s)
}

// Claims carries the user id and the token version; bumping the user's
// token version revokes every token issued before.
type Claims struct {
	UserID       uint64 `json:"user_id"`
	TokenVersion uint64 `json:"token_version"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

func generate(userID, tokenVersion uint64, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:       userID,
		TokenVersion: tokenVersion,
		Type:         typ,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func GenerateAccessToken(userID, tokenVersion uint64) (string, error) {
	return generate(userID, tokenVersion, tokenTypeAccess, AccessTokenTTL)
}

func GenerateRefreshToken(userID, tokenVersion uint64) (string, error) {
	return generate(userID, tokenVersion, tokenTypeRefresh, RefreshTokenTTL)
}

func VerifyJWT(tokenString string) (*jwt.Token, error) {
	jwtToken, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

// GetDataFromToken returns the user id and token version of a verified
// token.
func GetDataFromToken(token *jwt.Token) (uint64, uint64, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return 0, 0, errors.New("token has no user")
	}
	return claims.UserID, claims.TokenVersion, nil
}

// IsRefreshToken reports whether a verified token was issued for refresh.
func IsRefreshToken(token *jwt.Token) bool {
	claims, ok := token.Claims.(*Claims)
	return ok && claims.Type == tokenTypeRefresh
}
