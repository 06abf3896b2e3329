package rabbit

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mall/internal/tracelog"
)

// ErrDeliveryChannelClosed reports that the broker closed the delivery stream
// while the consumer was still supposed to be running.
var ErrDeliveryChannelClosed = errors.New("delivery channel closed")

// Outcome tells the consumer loop what to do with a delivery.
type Outcome int

const (
	// Ack removes the message: the side effects are committed, or the
	// message was a recognized duplicate.
	Ack Outcome = iota
	// Drop removes the message without side effects: malformed body or a
	// type this consumer does not handle. Not a business error.
	Drop
	// Requeue returns the message for another delivery attempt.
	Requeue
)

type HandlerFunc func(ctx context.Context, d amqp.Delivery) Outcome

const attemptsHeader = "x-attempts"

// Consumer drives one durable queue with manual acknowledgment. Prefetch
// bounds in-flight deliveries; a message stays on the queue until the handler
// reports a terminal outcome. After maxAttempts redeliveries the message is
// parked on the queue's dead-letter sibling instead of being requeued again,
// so one poisoned message cannot block the queue forever.
type Consumer struct {
	client      *Client
	queue       string
	prefetch    int
	maxAttempts int
	handler     HandlerFunc
	logger      *zap.Logger
}

func NewConsumer(
	client *Client,
	queue string,
	prefetch int,
	maxAttempts int,
	handler HandlerFunc,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		client:      client,
		queue:       queue,
		prefetch:    prefetch,
		maxAttempts: maxAttempts,
		handler:     handler,
		logger:      logger,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	ch := c.client.ch

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(
		ctx,
		c.queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	tracelog.Info(ctx, c.logger, "Consuming queue", zap.String("queue", c.queue))

	for d := range deliveries {
		switch c.handler(ctx, d) {
		case Ack:
			c.ack(ctx, d)
		case Drop:
			tracelog.Warn(
				ctx,
				c.logger,
				"Dropping message",
				zap.String("queue", c.queue),
				zap.String("message_id", d.MessageId),
			)
			c.ack(ctx, d)
		case Requeue:
			c.requeue(ctx, d)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The stream ended without a shutdown request: the connection or channel
	// died underneath us. The caller must not treat this as a clean exit.
	tracelog.Error(ctx, c.logger, "Delivery channel closed", zap.String("queue", c.queue))

	return ErrDeliveryChannelClosed
}

func (c *Consumer) ack(ctx context.Context, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		tracelog.Error(ctx, c.logger, "Failed to ack message", zap.Error(err))
	}
}

// requeue republishes the delivery with an incremented attempt counter
// instead of issuing a raw nack; headers do not survive a broker requeue, so
// the counter has to ride along explicitly.
func (c *Consumer) requeue(ctx context.Context, d amqp.Delivery) {
	attempts := attemptsFrom(d.Headers) + 1

	target := c.queue
	if attempts >= c.maxAttempts {
		target = DeadLetterQueue(c.queue)
		tracelog.Error(
			ctx,
			c.logger,
			"Dead-lettering message after max attempts",
			zap.String("queue", c.queue),
			zap.String("message_id", d.MessageId),
			zap.Int("attempts", attempts),
		)
	}

	err := c.client.ch.PublishWithContext(
		ctx,
		"", // default exchange routes by queue name
		target,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    d.Timestamp,
			Headers:      amqp.Table{attemptsHeader: int32(attempts)},
			Body:         d.Body,
		},
	)
	if err != nil {
		// Fall back to a broker-side requeue; the counter is lost but the
		// message is not.
		tracelog.Error(ctx, c.logger, "Failed to republish, nacking with requeue", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			tracelog.Error(ctx, c.logger, "Failed to nack message", zap.Error(nackErr))
		}
		return
	}

	c.ack(ctx, d)
}

func attemptsFrom(headers amqp.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
