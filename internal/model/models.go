// models.go
package model

import "time"

// Estados gruesos de la orden (los maneja el servicio de órdenes, acá solo
// los necesitamos para saber si la orden se puede tomar).
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Estado fino de entrega (tracking), distinto del status de la orden.
type TrackingStatus string

const (
	TrackingUnassigned      TrackingStatus = "unassigned"
	TrackingAssigned        TrackingStatus = "assigned"
	TrackingArrivedAtSeller TrackingStatus = "arrived_at_seller"
	TrackingPickedUp        TrackingStatus = "picked_up"
	TrackingEnRoute         TrackingStatus = "en_route"
	TrackingArrivedAtBuyer  TrackingStatus = "arrived_at_buyer"
	TrackingDelivered       TrackingStatus = "delivered"
	TrackingCompleted       TrackingStatus = "completed"
	TrackingCancelled       TrackingStatus = "cancelled"
	TrackingDeliveryIssue   TrackingStatus = "delivery_issue"
)

type AgentType string

const (
	AgentFastDelivery      AgentType = "fast_delivery"
	AgentPickupDelivery    AgentType = "pickup_delivery"
	AgentPickupSiteManager AgentType = "pickup_site_manager"
)

type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

type Order struct {
	OrderID        string         `bson:"order_id" json:"orderId"`
	BuyerID        string         `bson:"buyer_id" json:"buyerId"`
	SellerID       string         `bson:"seller_id" json:"sellerId"`
	Total          float64        `bson:"total" json:"total"`
	Status         OrderStatus    `bson:"status" json:"status"`
	TrackingStatus TrackingStatus `bson:"tracking_status" json:"trackingStatus"`

	// Vacío hasta que un agente toma la orden. Nunca más de un agente a la vez.
	AgentID      string    `bson:"agent_id,omitempty" json:"agentId,omitempty"`
	AgentType    AgentType `bson:"agent_type,omitempty" json:"agentType,omitempty"`
	PickupSiteID string    `bson:"pickup_site_id,omitempty" json:"pickupSiteId,omitempty"`

	// Código que el comprador le da al agente al recibir el paquete.
	DeliveryCode string `bson:"delivery_code,omitempty" json:"-"`

	PickupLocation   *GeoPoint `bson:"pickup_location,omitempty" json:"pickupLocation,omitempty"`
	DeliveryLocation *GeoPoint `bson:"delivery_location,omitempty" json:"deliveryLocation,omitempty"`

	Items    []OrderItem     `bson:"items" json:"items"`
	Tracking []TrackingEvent `bson:"tracking" json:"tracking"`
	Payment  Payment         `bson:"payment" json:"payment"`

	GraceEndsAt *time.Time `bson:"grace_ends_at,omitempty" json:"graceEndsAt,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updatedAt"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// OrderItem guarda el precio congelado al momento de la compra.
// Nunca se recalcula contra el precio vivo del producto.
type OrderItem struct {
	ProductID string  `bson:"product_id" json:"productId"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
}

// TrackingEvent es el registro de auditoría: append-only, inmutable,
// ordenado por fecha de creación.
type TrackingEvent struct {
	EventID   string         `bson:"event_id" json:"eventId"`
	Status    TrackingStatus `bson:"status" json:"status"`
	Notes     string         `bson:"notes,omitempty" json:"notes,omitempty"`
	ActorID   string         `bson:"actor_id" json:"actorId"`
	Location  *GeoPoint      `bson:"location,omitempty" json:"location,omitempty"`
	DistanceM *float64       `bson:"distance_m,omitempty" json:"distanceM,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
}

// Payment registra la liberación del pago al vendedor. Se libera una sola
// vez, en la transición a picked_up.
type Payment struct {
	SellerReleased bool       `bson:"seller_released" json:"sellerReleased"`
	ReleasedAt     *time.Time `bson:"released_at,omitempty" json:"releasedAt,omitempty"`
}

type Agent struct {
	AgentID       string      `bson:"agent_id" json:"agentId"`
	Name          string      `bson:"name" json:"name"`
	Type          AgentType   `bson:"type" json:"type"`
	Status        AgentStatus `bson:"status" json:"status"`
	TotalEarnings float64     `bson:"total_earnings" json:"totalEarnings"`

	// Los agentes nunca se borran de verdad, solo se desactivan.
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Earning es la comisión de un agente por una orden completada.
// Invariante: exactamente un registro por par (orden, agente).
type Earning struct {
	OrderID            string    `bson:"order_id" json:"orderId"`
	AgentID            string    `bson:"agent_id" json:"agentId"`
	AgentType          AgentType `bson:"agent_type" json:"agentType"`
	OrderTotal         float64   `bson:"order_total" json:"orderTotal"`
	PlatformCommission float64   `bson:"platform_commission" json:"platformCommission"`
	ShareRate          float64   `bson:"share_rate" json:"shareRate"`
	Amount             float64   `bson:"amount" json:"amount"`
	Status             string    `bson:"status" json:"status"` // pending_grace | payable
	GraceEndsAt        time.Time `bson:"grace_ends_at" json:"graceEndsAt"`
	CreatedAt          time.Time `bson:"created_at" json:"createdAt"`
}

const (
	EarningPendingGrace = "pending_grace"
	EarningPayable      = "payable"
)

// Payable indica si ya pasó el período de gracia y la comisión se puede pagar.
// Se deriva al leer, no hay ningún job que actualice el documento.
func (e *Earning) Payable(now time.Time) bool {
	return !now.Before(e.GraceEndsAt)
}
