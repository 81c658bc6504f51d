package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole 只放行令牌角色在 roles 中的请求，需放在 AuthMiddleware 之后。
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, _ := c.Get(UserRoleKey)
		if name, ok := role.(string); ok {
			if _, ok := allowed[name]; ok {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}
