// notifier.go
package rabbit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const notifyExchange = "delivery_notifications"

// Notifier publica eventos (room, evento, payload) para que el gateway de
// websockets se los empuje a la sesión correcta. La routing key es el room.
type Notifier struct {
	ch *amqp091.Channel
}

func NewNotifier(ch *amqp091.Channel) (*Notifier, error) {
	err := ch.ExchangeDeclare(
		notifyExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &Notifier{ch: ch}, nil
}

type notification struct {
	Room    string    `json:"room"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sentAt"`
}

func (n *Notifier) Notify(room, event string, payload any) error {
	body, err := json.Marshal(notification{
		Room:    room,
		Event:   event,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return n.ch.PublishWithContext(ctx,
		notifyExchange,
		room, // routing key = room (buyer:<id>, seller:<id>)
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}
