package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/crypto"
)

// DeviceChecker reports whether a device binding is still active. Devices
// evicted by the per-account cap lose access even with a valid token.
type DeviceChecker interface {
	DeviceRegistered(ctx context.Context, userID, deviceID string) (bool, error)
}

// AuthMiddleware validates the Bearer token and the device binding it was
// issued for. On success the principal is stored in the request context.
func AuthMiddleware(jwtManager *crypto.JWTManager, devices DeviceChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyScoped(parts[1], crypto.ScopeAccess)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		if claims.DeviceID != "" {
			ok, err := devices.DeviceRegistered(c.Request.Context(), claims.Subject, claims.DeviceID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				c.Abort()
				return
			}
			if !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "device no longer registered"})
				c.Abort()
				return
			}
		}

		c.Set("userID", claims.Subject)
		c.Set("claims", claims)

		c.Next()
	}
}

// GetUserID extracts the authenticated principal from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return "", false
	}
	return userID.(string), true
}
