package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/scholar-slot-booking/internal/queue"
)

// Notifier hands booking events to whatever delivers them.  Scheduler logs
// a failed Notify and carries on.
type Notifier interface {
	Notify(ctx context.Context, ev queue.SlotEvent) error
}

// LogNotifier writes events to the standard logger.  It is used when the
// broker is disabled.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev queue.SlotEvent) error {
	log.Printf("notifier: %s", queue.FormatLine(ev))
	return nil
}

// AMQPNotifier publishes every event as a persistent JSON message to the
// durable queue.EventsQueue, dialling a fresh connection per event.
type AMQPNotifier struct {
	URL string
}

func NewAMQPNotifier(url string) *AMQPNotifier { return &AMQPNotifier{URL: url} }

func (n *AMQPNotifier) Notify(ctx context.Context, ev queue.SlotEvent) error {
	conn, err := amqp.Dial(n.URL)
	if err != nil {
		log.Printf("notifier: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("notifier: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue.EventsQueue, // name
		true,              // durable
		false,             // autoDelete
		false,             // exclusive
		false,             // noWait
		nil,               // args
	); err != nil {
		log.Printf("notifier: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.EventsQueue, false, false, pub); err != nil {
		log.Printf("notifier: publish failed: %v", err)
		return err
	}
	return nil
}
