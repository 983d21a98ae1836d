package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards admin routes with an API key checked against a
// bcrypt hash.
type AdminMiddleware struct {
	keyHash []byte
}

// NewAdminMiddleware creates the admin authentication middleware. An empty
// hash disables every admin route.
func NewAdminMiddleware(keyHash string) *AdminMiddleware {
	return &AdminMiddleware{keyHash: []byte(keyHash)}
}

// HashAdminKey returns the bcrypt hash to configure for key.
func HashAdminKey(key string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RequireAdminAuth middleware validates admin API keys
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.keyHash) == 0 {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Forbidden",
				"message": "Admin access is not configured",
			})
			c.Abort()
			return
		}

		key := bearerToken(c.GetHeader("Authorization"))
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}

		if key != "" && am.ValidateAdminKey(key) {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// ValidateAdminKey validates an admin API key
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if len(am.keyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(am.keyHash, []byte(key)) == nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
