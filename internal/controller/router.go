// router.go
package controller

import (
	"github.com/gin-gonic/gin"

	"delivery-tracking-service/internal/middleware"
	"delivery-tracking-service/internal/service"
)

// NewRouter arma el router completo. Separado de main para poder levantarlo
// igualito en los tests de la API.
func NewRouter(ctrl *TrackingController, authService *service.AuthService) *gin.Engine {
	r := gin.Default()

	// Rutas públicas
	r.POST("/tracking/init", ctrl.InitOrder)

	// Rutas protegidas (requieren token)
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(authService))

	auth.GET("/orders/:orderId", ctrl.GetOrder)
	auth.GET("/orders/:orderId/history", ctrl.GetHistory)
	auth.POST("/orders/:orderId/issue", ctrl.ReportIssue)

	// Rutas de agentes
	agent := auth.Group("/")
	agent.Use(middleware.AgentOnly())

	agent.POST("/orders/:orderId/claim", ctrl.ClaimOrder)
	agent.PUT("/orders/:orderId/status", ctrl.UpdateTrackingStatus)
	agent.POST("/orders/:orderId/confirm-delivery", ctrl.ConfirmDelivery)

	agent.GET("/agent/orders", ctrl.GetAvailableOrders)
	agent.GET("/agent/earnings", ctrl.GetEarnings)
	agent.POST("/agents/register", ctrl.RegisterAgent)
	agent.PATCH("/agent/status", ctrl.UpdateAgentStatus)
	agent.DELETE("/agent", ctrl.DeactivateAgent)

	return r
}
