package rabbit

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"delivery-tracking-service/internal/dto"
	"delivery-tracking-service/internal/service"
)

type PlaceOrderConsumer struct {
	Service *service.DeliveryTrackingService
}

func NewPlaceOrderConsumer(s *service.DeliveryTrackingService) *PlaceOrderConsumer {
	return &PlaceOrderConsumer{Service: s}
}

// Mensaje que publica el servicio de órdenes cuando se concreta una compra.
// Los items traen el precio congelado al momento de comprar.
type PlacedOrderMessage struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       struct {
		OrderID      string  `json:"orderId"`
		BuyerID      string  `json:"buyerId"`
		SellerID     string  `json:"sellerId"`
		Total        float64 `json:"total"`
		PickupSiteID string  `json:"pickupSiteId"`
		Items        []struct {
			ProductID string  `json:"productId"`
			Quantity  int     `json:"quantity"`
			Price     float64 `json:"price"`
		} `json:"items"`
		// Coordenadas de retiro y entrega. Si la orden es de pickup en
		// sitio, delivery puede venir vacío.
		PickupLocation   *dto.GeoPointDTO `json:"pickupLocation"`
		DeliveryLocation *dto.GeoPointDTO `json:"deliveryLocation"`
	} `json:"message"`
}

func (c *PlaceOrderConsumer) Handle(msg []byte) error {

	logrus.Info("[Rabbit] Evento recibido: place_order")

	var event PlacedOrderMessage
	if err := json.Unmarshal(msg, &event); err != nil {
		logrus.Errorf("[Rabbit] Error parseando mensaje: %v", err)
		return err
	}

	req := dto.InitOrderRequest{
		OrderID:          event.Message.OrderID,
		BuyerID:          event.Message.BuyerID,
		SellerID:         event.Message.SellerID,
		Total:            event.Message.Total,
		PickupSiteID:     event.Message.PickupSiteID,
		PickupLocation:   event.Message.PickupLocation,
		DeliveryLocation: event.Message.DeliveryLocation,
	}
	for _, it := range event.Message.Items {
		req.Items = append(req.Items, dto.OrderItemDTO{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}

	_, err := c.Service.InitOrder(context.Background(), req)
	if err != nil {
		// Rabbit reintenta/duplica mensajes: una orden ya inicializada no
		// es un problema, lo demás sí.
		if err == service.ErrOrderAlreadyExists {
			logrus.Infof("[Rabbit] Orden %s ya estaba inicializada, se ignora", event.Message.OrderID)
			return nil
		}
		logrus.Errorf("❌ Error creando la orden para tracking: %v", err)
		return err
	}

	logrus.Infof("✔ Orden %s lista para tracking", event.Message.OrderID)
	return nil
}
