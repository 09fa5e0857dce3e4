package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeType = "topic"

// DialRabbitMQ connects (retrying while the broker starts) and declares the topic exchange.
func DialRabbitMQ(url, exchange string, log *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("failed to connect to RabbitMQ", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

type rabbitPublisher struct {
	ch       *amqp.Channel
	exchange string
}

// NewRabbitPublisher publishes events as JSON on exchange.
func NewRabbitPublisher(ch *amqp.Channel, exchange string) Publisher {
	return &rabbitPublisher{ch: ch, exchange: exchange}
}

// RoutingKey is request.<kind>.<status>, e.g. request.order.approved.
func RoutingKey(ev Event) string {
	return fmt.Sprintf("request.%s.%s", ev.Kind, ev.Status)
}

func (p *rabbitPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx,
		p.exchange,     // exchange
		RoutingKey(ev), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.At,
			Body:         body,
		},
	)
}
