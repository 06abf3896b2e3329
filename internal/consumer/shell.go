// Package consumer provides the dedup-and-transact wrapper shared by every
// settlement consumer. The wrapper guarantees that the inbox insert and the
// business mutation commit atomically, so a message is only acknowledged for
// fully applied events, and a redelivered event is recognized and dropped.
package consumer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mall/internal/event"
	"mall/internal/inbox"
	"mall/internal/rabbit"
	"mall/internal/tracelog"
)

// MutationFunc applies the consumer-specific side effects inside the shell's
// transaction. Returning an error rolls back everything, inbox row included.
type MutationFunc func(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error

func Shell(
	pool *pgxpool.Pool,
	inboxRepo inbox.Repository,
	name string,
	wantType string,
	mutate MutationFunc,
	logger *zap.Logger,
) rabbit.HandlerFunc {
	tracer := otel.Tracer("consumer/shell")

	return func(ctx context.Context, d amqp.Delivery) rabbit.Outcome {
		ctx, span := tracer.Start(ctx, "ConsumerShell.Handle")
		defer span.End()

		span.SetAttributes(attribute.String("consumer", name))

		evt, err := event.Decode(d.Body)
		if err != nil {
			tracelog.Warn(
				ctx,
				logger,
				"Malformed message, dropping",
				zap.String("consumer", name),
				zap.Error(err),
			)

			return rabbit.Drop
		}

		if evt.Type != wantType {
			return rabbit.Drop
		}

		// A parseable envelope with a missing or invalid field is a
		// data-integrity failure, not garbage: it retries and eventually
		// dead-letters instead of being silently lost.
		if err := evt.Validate(); err != nil {
			span.RecordError(err)

			tracelog.Error(
				ctx,
				logger,
				"Event failed validation, requeueing",
				zap.String("consumer", name),
				zap.Error(err),
			)

			return rabbit.Requeue
		}

		span.SetAttributes(
			attribute.String("event_id", evt.EventID),
			attribute.String("order_number", evt.Data.OrderNumber),
		)

		tx, err := pool.Begin(ctx)
		if err != nil {
			tracelog.Error(ctx, logger, "Error beginning transaction", zap.Error(err))
			return rabbit.Requeue
		}
		defer func() {
			cleanupCtx := context.WithoutCancel(ctx)

			err := tx.Rollback(cleanupCtx)
			if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				tracelog.Error(
					cleanupCtx,
					logger,
					"Error rolling back transaction",
					zap.String("consumer", name),
					zap.Error(err),
				)
			}
		}()

		processed, err := inboxRepo.AlreadyProcessed(ctx, tx, name, evt.EventID)
		if err != nil {
			tracelog.Error(ctx, logger, "Inbox check failed", zap.Error(err))
			return rabbit.Requeue
		}

		if processed {
			tracelog.Info(
				ctx,
				logger,
				"Duplicate delivery, skipping",
				zap.String("consumer", name),
				zap.String("event_id", evt.EventID),
			)

			return rabbit.Ack
		}

		if err := inboxRepo.Record(ctx, tx, name, evt.EventID, evt.Type); err != nil {
			// A concurrent delivery won the insert race; its transaction
			// carries the side effects, so this one is a duplicate too.
			if errors.Is(err, inbox.ErrDuplicateEvent) {
				tracelog.Info(
					ctx,
					logger,
					"Duplicate delivery, skipping",
					zap.String("consumer", name),
					zap.String("event_id", evt.EventID),
				)

				return rabbit.Ack
			}

			tracelog.Error(ctx, logger, "Inbox insert failed", zap.Error(err))
			return rabbit.Requeue
		}

		if err := mutate(ctx, tx, evt); err != nil {
			span.RecordError(err)

			tracelog.Error(
				ctx,
				logger,
				"Business mutation failed, requeueing",
				zap.String("consumer", name),
				zap.String("event_id", evt.EventID),
				zap.Error(err),
			)

			return rabbit.Requeue
		}

		if err := tx.Commit(ctx); err != nil {
			tracelog.Error(ctx, logger, "Failed to commit transaction", zap.Error(err))
			return rabbit.Requeue
		}

		tracelog.Info(
			ctx,
			logger,
			"Event processed",
			zap.String("consumer", name),
			zap.String("event_id", evt.EventID),
			zap.String("order_number", evt.Data.OrderNumber),
		)

		return rabbit.Ack
	}
}
