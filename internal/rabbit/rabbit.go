// Package rabbit owns the AMQP connection lifecycle and the settlement
// topology: one durable topic exchange fanning out to per-consumer durable
// queues, each with its own dead-letter queue.
package rabbit

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mall/internal/tracelog"
)

type Config struct {
	URL          string
	Exchange     string
	ExchangeType string
	RoutingKey   string
}

// Client is an explicitly owned connection handle. Constructors receive it
// instead of reaching for a package-level singleton, and the owning process
// is responsible for Close on shutdown.
type Client struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    Config
	logger *zap.Logger
}

func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	var conn *amqp.Connection

	dial := func() error {
		var err error
		conn, err = amqp.Dial(cfg.URL)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		cfg.ExchangeType,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}

	tracelog.Info(ctx, logger, "Connected to RabbitMQ", zap.String("exchange", cfg.Exchange))

	return &Client{
		conn:   conn,
		ch:     ch,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// DeclareConsumerQueue asserts a durable queue bound to the settlement
// routing key, plus the matching dead-letter queue. Each consumer group owns
// exactly one queue, so every event reaches every group independently.
func (c *Client) DeclareConsumerQueue(queue string) error {
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", queue, err)
	}

	if err := c.ch.QueueBind(queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", queue, err)
	}

	if _, err := c.ch.QueueDeclare(DeadLetterQueue(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue for %q: %w", queue, err)
	}

	return nil
}

func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

func (c *Client) Channel() *amqp.Channel {
	return c.ch
}

func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}

	return c.conn.Close()
}
