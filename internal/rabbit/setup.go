// setup.go
package rabbit

import (
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"delivery-tracking-service/internal/service"
)

func SetupConsumers(ch *amqp091.Channel, svc *service.DeliveryTrackingService) {
	consumer := NewPlaceOrderConsumer(svc)

	// 1. Declarar la queue
	q, err := ch.QueueDeclare(
		"delivery_tracking_orders", // cola exclusiva para este micro
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logrus.Errorf("❌ Error declarando queue: %v", err)
		return
	}

	// 2. Bindear al exchange fanout
	err = ch.QueueBind(
		q.Name,
		"",             // fanout ignora routing key
		"order_placed", // el exchange correcto
		false,
		nil,
	)
	if err != nil {
		logrus.Errorf("❌ Error binding exchange: %v", err)
		return
	}

	// 3. Consumir
	msgs, err := ch.Consume(
		q.Name,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logrus.Errorf("❌ Error al consumir queue: %v", err)
		return
	}

	go func() {
		for m := range msgs {
			consumer.Handle(m.Body)
		}
	}()

	logrus.Info("🐰 Suscrito a exchange order_placed (fanout)")
}
