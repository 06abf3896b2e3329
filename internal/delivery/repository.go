package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mall/internal/tracelog"
)

type Repository interface {
	EnsureDefaultCenter(ctx context.Context, tx pgx.Tx) error
	UpsertReady(ctx context.Context, tx pgx.Tx, orderNumber string, customerID *int64) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderNumber string) (*ShippableOrder, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*ShippableOrder, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, orderNumber string, from, to Status) error
}

type repo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) Repository {
	return &repo{
		pool:   pool,
		tracer: otel.Tracer("delivery/repository"),
		logger: logger,
	}
}

func (r *repo) EnsureDefaultCenter(ctx context.Context, tx pgx.Tx) error {
	ctx, span := r.tracer.Start(ctx, "DeliveryRepository.EnsureDefaultCenter")
	defer span.End()

	query := `
		INSERT INTO centers (center_id, center_name)
		VALUES ($1, 'DEFAULT_CENTER')
		ON CONFLICT (center_id) DO NOTHING
	`

	_, err := tx.Exec(ctx, query, DefaultCenterID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ensure default center: %w", err)
	}

	return nil
}

// UpsertReady creates the shippable order in READY. On conflict the status is
// rewritten only while the existing row is still READY; an order that already
// advanced to SHIPPING or DELIVERED is never regressed by a late redelivery.
func (r *repo) UpsertReady(ctx context.Context, tx pgx.Tx, orderNumber string, customerID *int64) error {
	ctx, span := r.tracer.Start(ctx, "DeliveryRepository.UpsertReady")
	defer span.End()

	span.SetAttributes(attribute.String("order_number", orderNumber))

	query := `
		INSERT INTO shippable_orders (order_number, center_id, customer_id, order_status, ordered_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (order_number) DO UPDATE
		SET order_status = CASE
				WHEN shippable_orders.order_status = 'READY' THEN EXCLUDED.order_status
				ELSE shippable_orders.order_status
			END,
			updated_at = NOW()
	`

	_, err := tx.Exec(ctx, query, orderNumber, DefaultCenterID, customerID, string(StatusReady))
	if err != nil {
		span.RecordError(err)

		tracelog.Error(
			ctx,
			r.logger,
			"Failed to upsert shippable order",
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)

		return fmt.Errorf("upsert shippable order: %w", err)
	}

	return nil
}

func (r *repo) GetForUpdate(ctx context.Context, tx pgx.Tx, orderNumber string) (*ShippableOrder, error) {
	ctx, span := r.tracer.Start(ctx, "DeliveryRepository.GetForUpdate")
	defer span.End()

	query := `
		SELECT order_number, center_id, customer_id, order_status, ordered_at, updated_at
		FROM shippable_orders
		WHERE order_number = $1
		FOR UPDATE
	`

	return r.scanOne(ctx, span, tx.QueryRow(ctx, query, orderNumber))
}

func (r *repo) GetByOrderNumber(ctx context.Context, orderNumber string) (*ShippableOrder, error) {
	ctx, span := r.tracer.Start(ctx, "DeliveryRepository.GetByOrderNumber")
	defer span.End()

	query := `
		SELECT order_number, center_id, customer_id, order_status, ordered_at, updated_at
		FROM shippable_orders
		WHERE order_number = $1
	`

	return r.scanOne(ctx, span, r.pool.QueryRow(ctx, query, orderNumber))
}

func (r *repo) scanOne(ctx context.Context, span trace.Span, row pgx.Row) (*ShippableOrder, error) {
	var o ShippableOrder
	err := row.Scan(
		&o.OrderNumber,
		&o.CenterID,
		&o.CustomerID,
		&o.Status,
		&o.OrderedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		span.RecordError(err)

		tracelog.Error(ctx, r.logger, "Failed to scan shippable order", zap.Error(err))

		return nil, fmt.Errorf("scan shippable order: %w", err)
	}

	return &o, nil
}

// UpdateStatus is conditional on the expected current status, so two
// concurrent transitions cannot both win.
func (r *repo) UpdateStatus(ctx context.Context, tx pgx.Tx, orderNumber string, from, to Status) error {
	ctx, span := r.tracer.Start(ctx, "DeliveryRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_number", orderNumber),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	query := `
		UPDATE shippable_orders
		SET order_status = $1, updated_at = NOW()
		WHERE order_number = $2 AND order_status = $3
	`

	commandTag, err := tx.Exec(ctx, query, string(to), orderNumber, string(from))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update order status: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		tracelog.Warn(
			ctx,
			r.logger,
			"Status transition lost or order missing",
			zap.String("order_number", orderNumber),
		)

		return ErrInvalidTransition
	}

	return nil
}
