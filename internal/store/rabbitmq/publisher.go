package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Notifier receives chat-list change notifications for a user.
type Notifier interface {
	Notify(ctx context.Context, userID string)
}

// ChatEvent is the wire message on the fanout exchange.
type ChatEvent struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin"`
}

// Broadcaster notifies the local hub and fans the same notification out to
// every other instance bound to the exchange.
type Broadcaster struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	origin   string
	local    Notifier
	logger   *log.Logger

	mu sync.Mutex // guards publishing on ch
}

func NewBroadcaster(url, exchange string, local Notifier, logger *log.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Broadcaster{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		origin:   uuid.NewString(),
		local:    local,
		logger:   logger,
	}, nil
}

func (b *Broadcaster) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Notify delivers locally first; a failed publish is logged and dropped.
func (b *Broadcaster) Notify(ctx context.Context, userID string) {
	b.local.Notify(ctx, userID)

	if err := b.publish(ctx, userID); err != nil {
		b.logger.Warn("publish chat event failed", "user_id", userID, "err", err)
	}
}

func (b *Broadcaster) publish(ctx context.Context, userID string) error {
	body, err := json.Marshal(ChatEvent{UserID: userID, Origin: b.origin})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(cctx,
		b.exchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
