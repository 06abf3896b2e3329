package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mall/internal/event"
)

// Publisher emits settlement events as persistent messages. It must be
// invoked only after the originating transaction has committed; a publish
// failure is the caller's problem to surface, not to roll back.
type Publisher struct {
	client *Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPublisher(client *Client, logger *zap.Logger) *Publisher {
	settings := gobreaker.Settings{
		Name:        "SettlementPublisher",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Publisher{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
		tracer: otel.Tracer("rabbit/publisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, evt *event.SettlementEvent) error {
	ctx, span := p.tracer.Start(ctx, "Publisher.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", evt.EventID),
		attribute.String("order_number", evt.Data.OrderNumber),
	)

	body, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal settlement event: %w", err)
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.client.ch.PublishWithContext(
			ctx,
			p.client.cfg.Exchange,
			p.client.cfg.RoutingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    evt.EventID,
				Timestamp:    evt.OccurredAt,
				Body:         body,
			},
		)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish settlement event: %w", err)
	}

	return nil
}
