package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Run consumes chat events from other instances until ctx is done. Each
// instance gets its own exclusive, auto-deleted queue.
func (b *Broadcaster) Run(ctx context.Context) error {
	q, err := b.ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		return err
	}
	if err := b.ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return err
	}

	msgs, err := b.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	b.logger.Info("chat event consumer started", "exchange", b.exchange, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("chat event consumer stopping")
			return nil

		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			b.handle(ctx, d)
		}
	}
}

func (b *Broadcaster) handle(ctx context.Context, d amqp.Delivery) {
	var ev ChatEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.UserID == "" {
		b.logger.Warn("bad chat event", "err", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	b.local.Notify(ctx, ev.UserID)
}
