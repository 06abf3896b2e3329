// Package inbox is the per-consumer dedup ledger. A row's presence means the
// consumer has already committed the side effects of that event; the row is
// written in the same transaction as those side effects.
package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Repository interface {
	AlreadyProcessed(ctx context.Context, tx pgx.Tx, consumer, eventID string) (bool, error)
	Record(ctx context.Context, tx pgx.Tx, consumer, eventID, eventType string) error
}

type repo struct {
	tracer trace.Tracer
	logger *zap.Logger
}

func NewRepository(logger *zap.Logger) Repository {
	return &repo{
		tracer: otel.Tracer("inbox/repository"),
		logger: logger,
	}
}

// AlreadyProcessed read-locks the ledger row so a concurrent delivery of the
// same event serializes here instead of double-applying side effects.
func (r *repo) AlreadyProcessed(ctx context.Context, tx pgx.Tx, consumer, eventID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "InboxRepository.AlreadyProcessed")
	defer span.End()

	span.SetAttributes(
		attribute.String("consumer", consumer),
		attribute.String("event_id", eventID),
	)

	query := `
		SELECT 1
		FROM inbox_events
		WHERE consumer = $1 AND event_id = $2
		FOR UPDATE
	`

	var one int
	err := tx.QueryRow(ctx, query, consumer, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("lock inbox row: %w", err)
	}

	return true, nil
}

func (r *repo) Record(ctx context.Context, tx pgx.Tx, consumer, eventID, eventType string) error {
	ctx, span := r.tracer.Start(ctx, "InboxRepository.Record")
	defer span.End()

	span.SetAttributes(
		attribute.String("consumer", consumer),
		attribute.String("event_id", eventID),
	)

	query := `
		INSERT INTO inbox_events (consumer, event_id, event_type, processed_at)
		VALUES ($1, $2, $3, NOW())
	`

	_, err := tx.Exec(ctx, query, consumer, eventID, eventType)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			return ErrDuplicateEvent
		}

		span.RecordError(err)
		return fmt.Errorf("insert inbox row: %w", err)
	}

	return nil
}
