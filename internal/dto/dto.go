// dto.go
package dto

import (
	"time"

	"delivery-tracking-service/internal/model"
)

// InitOrderRequest lo usan la API y Rabbit para dar de alta una orden
// en el servicio de tracking.
type InitOrderRequest struct {
	OrderID          string         `json:"orderId" binding:"required"`
	BuyerID          string         `json:"buyerId" binding:"required"`
	SellerID         string         `json:"sellerId"`
	Total            float64        `json:"total"`
	PickupSiteID     string         `json:"pickupSiteId"`
	Items            []OrderItemDTO `json:"items"`
	PickupLocation   *GeoPointDTO   `json:"pickupLocation"`
	DeliveryLocation *GeoPointDTO   `json:"deliveryLocation"`
}

type OrderItemDTO struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type GeoPointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type UpdateStatusRequest struct {
	Status   string       `json:"status" binding:"required"`
	Notes    string       `json:"notes"`
	Location *GeoPointDTO `json:"location"`
}

type ConfirmDeliveryRequest struct {
	DeliveryCode     string `json:"delivery_code" binding:"required"`
	ConfirmedByBuyer bool   `json:"confirmed_by_buyer"`
	Notes            string `json:"notes"`
}

type ReportIssueRequest struct {
	Reason string `json:"reason" binding:"required"` // cancelled | delivery_issue
	Notes  string `json:"notes"`
}

type RegisterAgentRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"`
}

type AgentStatusRequest struct {
	Status string `json:"status" binding:"required"` // available | busy | offline
}

// ClaimOrderResponse devuelve la orden tomada junto con el código de
// confirmación que el comprador recibe por notificación.
type ClaimOrderResponse struct {
	Order        *model.Order `json:"order"`
	DeliveryCode string       `json:"deliveryCode"`
}

type ConfirmDeliveryResponse struct {
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"`
	GraceEndsAt time.Time `json:"graceEndsAt"`
	Commission  float64   `json:"commission"`
}

type HistoryResponse struct {
	OrderID string                `json:"orderId"`
	Page    int                   `json:"page"`
	Limit   int                   `json:"limit"`
	Total   int                   `json:"total"`
	Events  []model.TrackingEvent `json:"events"`
}

type EarningsResponse struct {
	Period       string           `json:"period"`
	From         time.Time        `json:"from"`
	Count        int              `json:"count"`
	TotalAmount  float64          `json:"totalAmount"`
	Payable      float64          `json:"payable"`
	PendingGrace float64          `json:"pendingGrace"`
	Earnings     []*model.Earning `json:"earnings"`
}
