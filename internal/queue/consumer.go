package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotificationLog is where StartNotificationConsumer appends its lines,
// relative to the log directory.
const NotificationLog = "notifications.log"

// StartNotificationConsumer connects to RabbitMQ, declares EventsQueue
// (durable) and appends every SlotEvent to dir/notifications.log as one
// human-friendly line. It reconnects with exponential backoff and returns
// only when ctx is cancelled. Messages that cannot be handled are rejected
// without requeue so a bad payload cannot stall the queue.
func StartNotificationConsumer(ctx context.Context, url, dir string) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("notification-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, dir)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("notification-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("notification-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, EventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := HandleMessage(dir, d.Body); err != nil {
			log.Printf("notification-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one SlotEvent and appends its line to
// dir/notifications.log.
func HandleMessage(dir string, body []byte) error {
	var ev SlotEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, NotificationLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single newline-terminated log line.
func FormatLine(ev SlotEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | broadcast_id=%d", ev.OccurredAt.UTC().Format(time.RFC3339), describe(ev.Type), ev.BroadcastID)
	if ev.Title != "" {
		fmt.Fprintf(&b, " | title=%q", ev.Title)
	}
	switch ev.Type {
	case SlotClaimed, SlotReleased:
		fmt.Fprintf(&b, " | slot_id=%d | consumer_id=%d | starts_at=%s | booked=%d/%d | status=%s",
			ev.SlotID, ev.ConsumerID, ev.StartsAt.UTC().Format(time.RFC3339), ev.Booked, ev.Capacity, ev.Status)
	case BroadcastCancelled:
		affected := make([]string, len(ev.Affected))
		for i, id := range ev.Affected {
			affected[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(&b, " | owner_id=%d | cancelled_slots=%d | affected=[%s]", ev.OwnerID, ev.Cancelled, strings.Join(affected, ","))
	}
	b.WriteByte('\n')
	return b.String()
}

func describe(t EventType) string {
	switch t {
	case SlotClaimed:
		return "Slot claimed"
	case SlotReleased:
		return "Slot released"
	case BroadcastCancelled:
		return "Broadcast cancelled"
	}
	return string(t)
}
