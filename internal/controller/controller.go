package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"delivery-tracking-service/internal/dto"
	"delivery-tracking-service/internal/repository"
	"delivery-tracking-service/internal/service"
)

type TrackingController struct {
	Service *service.DeliveryTrackingService
}

func NewTrackingController(s *service.DeliveryTrackingService) *TrackingController {
	return &TrackingController{Service: s}
}

// Taxonomía de errores: validación 400, permisos 403, no existe / no es
// tuya 404, conflicto 409, lo demás 500 con mensaje genérico.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownStatus),
		errors.Is(err, service.ErrCodeMismatch),
		errors.Is(err, service.ErrNotConfirmed),
		errors.Is(err, service.ErrInvalidReason),
		errors.Is(err, service.ErrInvalidPeriod),
		errors.Is(err, service.ErrInvalidAgentStatus),
		errors.Is(err, service.ErrUnknownAgentType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrAgentInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrAgentNotFound),
		errors.Is(err, service.ErrNotAssigned):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrFinalState),
		errors.Is(err, service.ErrNotDelivered),
		errors.Is(err, service.ErrOrderAlreadyExists),
		errors.Is(err, service.ErrAgentExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		// El detalle queda en el log del server, nunca en la respuesta.
		logrus.Errorf("[API] Error inesperado: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// POST /tracking/init — No requiere token, solo para pruebas manuales.
// El alta real de órdenes entra por el consumer de Rabbit.
func (ctl *TrackingController) InitOrder(c *gin.Context) {
	var req dto.InitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := ctl.Service.InitOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// POST /orders/:orderId/claim — el agente toma la orden.
// 409 si otro agente llegó primero.
func (ctl *TrackingController) ClaimOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	agentID := c.GetString("userID")

	res, err := ctl.Service.ClaimOrder(c.Request.Context(), orderID, agentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// PUT /orders/:orderId/status — transición de tracking del agente asignado.
func (ctl *TrackingController) UpdateTrackingStatus(c *gin.Context) {
	orderID := c.Param("orderId")
	agentID := c.GetString("userID")

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := ctl.Service.UpdateTrackingStatus(
		c.Request.Context(),
		orderID,
		agentID,
		req.Status,
		req.Notes,
		req.Location,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "status updated", "status": req.Status})
}

// POST /orders/:orderId/confirm-delivery — cierra la orden contra el código
// del comprador y devuelve cuándo termina el período de gracia.
func (ctl *TrackingController) ConfirmDelivery(c *gin.Context) {
	orderID := c.Param("orderId")
	agentID := c.GetString("userID")

	var req dto.ConfirmDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := ctl.Service.ConfirmDelivery(c.Request.Context(), orderID, agentID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// POST /orders/:orderId/issue — manda la orden a cancelled/delivery_issue.
func (ctl *TrackingController) ReportIssue(c *gin.Context) {
	orderID := c.Param("orderId")
	actorID := c.GetString("userID")
	role := c.GetString("userRole")

	var req dto.ReportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ctl.Service.ReportIssue(c.Request.Context(), orderID, actorID, role, req.Reason, req.Notes); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "issue reported", "reason": req.Reason})
}

// GET /orders/:orderId — la ven el comprador, el agente asignado y admin.
func (ctl *TrackingController) GetOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	actorID := c.GetString("userID")
	role := c.GetString("userRole")

	o, err := ctl.Service.GetOrder(c.Request.Context(), orderID, actorID, role)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, o)
}

// GET /orders/:orderId/history?page=&limit= — historial paginado, en orden
// de creación.
func (ctl *TrackingController) GetHistory(c *gin.Context) {
	orderID := c.Param("orderId")
	actorID := c.GetString("userID")
	role := c.GetString("userRole")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	res, err := ctl.Service.GetHistory(c.Request.Context(), orderID, actorID, role, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GET /agent/orders — órdenes abiertas sin agente, para buscar trabajo.
func (ctl *TrackingController) GetAvailableOrders(c *gin.Context) {
	orders, err := ctl.Service.GetAvailableOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GET /agent/earnings?period=today|week|month|year
func (ctl *TrackingController) GetEarnings(c *gin.Context) {
	agentID := c.GetString("userID")
	period := c.DefaultQuery("period", "today")

	res, err := ctl.Service.GetEarnings(c.Request.Context(), agentID, period)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// POST /agents/register — alta del agente con el tipo del token (o el del
// body si el token no lo trae).
func (ctl *TrackingController) RegisterAgent(c *gin.Context) {
	agentID := c.GetString("userID")

	var req dto.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agentType := c.GetString("agentType")
	if agentType == "" {
		agentType = req.Type
	}

	a, err := ctl.Service.RegisterAgent(c.Request.Context(), agentID, req.Name, agentType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, a)
}

// PATCH /agent/status — available | busy | offline
func (ctl *TrackingController) UpdateAgentStatus(c *gin.Context) {
	agentID := c.GetString("userID")

	var req dto.AgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ctl.Service.SetAgentStatus(c.Request.Context(), agentID, req.Status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "agent status updated", "status": req.Status})
}

// DELETE /agent — baja lógica, el agente nunca se borra de verdad.
func (ctl *TrackingController) DeactivateAgent(c *gin.Context) {
	agentID := c.GetString("userID")

	if err := ctl.Service.DeactivateAgent(c.Request.Context(), agentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "agent deactivated"})
}
