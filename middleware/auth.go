package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	UserIDKey = "user_id"
	TokenKey  = "token"

	blacklistTimeout = 2 * time.Second
)

// TokenBlacklist reports whether a token was revoked (e.g. by logout).
type TokenBlacklist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware requires a valid HS256 bearer token carrying the user id in its "id"
// claim. Revoked tokens are rejected when a blacklist is given. On success the user id
// (int64) and the raw token are stored in the context.
func AuthMiddleware(secret []byte, blacklist TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		userID, err := validateToken(tokenString, secret)
		if err != nil {
			log.Debugf("Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		if blacklist != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), blacklistTimeout)
			revoked, err := blacklist.IsRevoked(ctx, tokenString)
			cancel()
			if err != nil {
				log.Errorf("Failed to check token blacklist: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate token"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
				return
			}
		}

		c.Set(UserIDKey, userID)
		c.Set(TokenKey, tokenString)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func Token(c *gin.Context) string {
	return c.GetString(TokenKey)
}

func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func validateToken(tokenString string, secret []byte) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	switch id := claims["id"].(type) {
	case float64:
		if id <= 0 || id != float64(int64(id)) {
			return 0, fmt.Errorf("invalid user id %v in token", id)
		}
		return int64(id), nil
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid user id %q in token", id)
		}
		return n, nil
	default:
		return 0, errors.New("missing user id in token")
	}
}
