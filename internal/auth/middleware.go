package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
)

const (
	// ContextKeyUserID is the key for the authenticated user id in gin context
	ContextKeyUserID = "authUserID"
	// ContextKeyClaims is the key for the verified token claims
	ContextKeyClaims = "authClaims"
)

// RequireAuth rejects requests without a valid bearer token and stores the
// token subject in the context.
func RequireAuth(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			logging.L(c.Request.Context()).Debug("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token",
			})
			return
		}
		c.Set(ContextKeyUserID, claims.Subject)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireAdmin checks the X-Admin-Secret header. With no secret configured
// every admin request is refused.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-Admin-Secret header required",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	s, _ := id.(string)
	return s
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	return UserID(c) != ""
}
