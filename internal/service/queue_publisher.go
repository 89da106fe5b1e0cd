// Package service wires the allocator to its outbound collaborators: live
// notification and the reservation lifecycle queue.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-booking/internal/queue"
)

// AMQPPublisher publishes reservation lifecycle events to RabbitMQ.  Each
// call dials, declares the durable queue and publishes one persistent
// message; errors are logged and returned so callers can ignore them
// without interrupting the main request flow.
type AMQPPublisher struct {
	url string
	log *slog.Logger
}

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string, log *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, log: log}
}

// Publish sends ev to the reservation queue.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.ReservationEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", slog.Any("error", err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", slog.Any("error", err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue.ReservationQueue, // name
		true,                   // durable
		false,                  // autoDelete
		false,                  // exclusive
		false,                  // noWait
		nil,                    // args
	); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", slog.Any("error", err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",                     // default exchange
		queue.ReservationQueue, // routing key = queue name
		false,                  // mandatory
		false,                  // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq: publish failed", slog.Any("error", err))
		return err
	}
	return nil
}
