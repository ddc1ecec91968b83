package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/orion-chat/internal/auth"
	"github.com/suPer8Hu/orion-chat/internal/common"
)

const UserIDKey = "user_id"

// UserLookup reports whether a user id still has an account.
type UserLookup func(ctx context.Context, userID string) (bool, error)

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AuthRequired rejects requests without a valid bearer token or whose
// token names a user that no longer exists. A nil lookup skips that check.
func AuthRequired(secret string, exists UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer token")
			return
		}
		uid, err := auth.ParseJWT(token, secret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token expired"
			}
			common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, msg)
			return
		}
		if exists != nil {
			ok, err := exists(c.Request.Context(), uid)
			if err != nil {
				common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to load user")
				return
			}
			if !ok {
				common.Fail(c, http.StatusUnauthorized, common.CodeUserNotFound, "user not found")
				return
			}
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// OptionalAuth sets the user id when a valid token for an existing user is
// present and lets everyone else through as anonymous. A bad token, an
// unknown user or a failed lookup is treated as no token.
func OptionalAuth(secret string, exists UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := optionalUser(c, secret, exists); uid != "" {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	}
}

func optionalUser(c *gin.Context, secret string, exists UserLookup) string {
	token := bearerToken(c)
	if token == "" {
		return ""
	}
	uid, err := auth.ParseJWT(token, secret)
	if err != nil {
		return ""
	}
	if exists != nil {
		if ok, err := exists(c.Request.Context(), uid); err != nil || !ok {
			return ""
		}
	}
	return uid
}

// UserID returns the authenticated user id, or "" for anonymous callers.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
