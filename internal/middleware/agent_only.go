// agent_only.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AgentOnly deja pasar solo a los agentes de entrega.
func AgentOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("userRole")
		if role != "agent" {
			c.JSON(http.StatusForbidden, gin.H{"error": "delivery agent privileges required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
