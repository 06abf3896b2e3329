package payment

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

	"mall/internal/event"
	"mall/internal/tracelog"
)

type Repository interface {
	GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderNumber string) (*Order, error)
	CreatePayment(ctx context.Context, tx pgx.Tx, p *Payment) error
	MarkOrderPaid(ctx context.Context, tx pgx.Tx, orderID int64) error
	ListOrderItems(ctx context.Context, orderID int64) ([]event.Item, error)
}

type repo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) Repository {
	return &repo{
		pool:   pool,
		tracer: otel.Tracer("payment/repository"),
		logger: logger,
	}
}

func (r *repo) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderNumber string) (*Order, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetOrderForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("order_number", orderNumber))

	query := `
		SELECT order_id, order_number, customer_id, order_status, total_amount
		FROM orders
		WHERE order_number = $1
		FOR UPDATE
	`

	var o Order
	err := tx.QueryRow(ctx, query, orderNumber).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.Status,
		&o.TotalAmount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		span.RecordError(err)

		tracelog.Error(
			ctx,
			r.logger,
			"Failed to query order",
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)

		return nil, fmt.Errorf("query order %q: %w", orderNumber, err)
	}

	return &o, nil
}

func (r *repo) CreatePayment(ctx context.Context, tx pgx.Tx, p *Payment) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.CreatePayment")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", p.OrderID))

	query := `
		INSERT INTO payments (order_id, customer_id, amount, provider, transaction_id, approved_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING payment_id, approved_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		p.OrderID,
		p.CustomerID,
		p.Amount,
		p.Provider,
		p.TransactionID,
	).Scan(&p.ID, &p.ApprovedAt)
	if err != nil {
		span.RecordError(err)

		tracelog.Error(ctx, r.logger, "Failed to insert payment", zap.Error(err))

		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *repo) MarkOrderPaid(ctx context.Context, tx pgx.Tx, orderID int64) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.MarkOrderPaid")
	defer span.End()

	query := `
		UPDATE orders
		SET order_status = 'PAID'
		WHERE order_id = $1
	`

	commandTag, err := tx.Exec(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark order paid: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *repo) ListOrderItems(ctx context.Context, orderID int64) ([]event.Item, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.ListOrderItems")
	defer span.End()

	query := `
		SELECT skuid, qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY order_item_id ASC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []event.Item
	for rows.Next() {
		var item event.Item
		if err := rows.Scan(&item.SKUID, &item.Qty); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan order item: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
