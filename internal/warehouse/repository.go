package warehouse

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
	GetSKU(ctx context.Context, tx pgx.Tx, skuid string) (*SKU, error)
	LockLocationStock(ctx context.Context, tx pgx.Tx, locationID int64, skuid string) (int32, error)
	LockRichestLocation(ctx context.Context, tx pgx.Tx, skuid string, qty int32) (int64, error)
	UpsertReservation(ctx context.Context, tx pgx.Tx, orderNumber, skuid string, locationID int64, qty int32) error
	DeductStock(ctx context.Context, tx pgx.Tx, locationID int64, skuid string, qty int32) error
	MarkDeducted(ctx context.Context, tx pgx.Tx, orderNumber, skuid string) error
	StockSummary(ctx context.Context, skuid string) (*StockSummary, error)
}

type repo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) Repository {
	return &repo{
		pool:   pool,
		tracer: otel.Tracer("warehouse/repository"),
		logger: logger,
	}
}

func (r *repo) GetSKU(ctx context.Context, tx pgx.Tx, skuid string) (*SKU, error) {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.GetSKU")
	defer span.End()

	span.SetAttributes(attribute.String("skuid", skuid))

	query := `
		SELECT skuid, sku_name
		FROM sku_master
		WHERE skuid = $1
	`

	var sku SKU
	err := tx.QueryRow(ctx, query, skuid).Scan(&sku.SKUID, &sku.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSKUNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query sku %q: %w", skuid, err)
	}

	return &sku, nil
}

// LockLocationStock row-locks one inventory line and returns its on-hand
// quantity. A missing line reports zero stock rather than an error.
func (r *repo) LockLocationStock(ctx context.Context, tx pgx.Tx, locationID int64, skuid string) (int32, error) {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.LockLocationStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("location_id", locationID),
		attribute.String("skuid", skuid),
	)

	query := `
		SELECT on_hand
		FROM inventory_lines
		WHERE location_id = $1 AND skuid = $2
		FOR UPDATE
	`

	var onHand int32
	err := tx.QueryRow(ctx, query, locationID, skuid).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("lock inventory line: %w", err)
	}

	return onHand, nil
}

// LockRichestLocation picks the qualifying location with the most stock,
// under a row lock. Equal quantities break by lowest location id so the
// choice is deterministic.
func (r *repo) LockRichestLocation(ctx context.Context, tx pgx.Tx, skuid string, qty int32) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.LockRichestLocation")
	defer span.End()

	span.SetAttributes(
		attribute.String("skuid", skuid),
		attribute.Int("qty", int(qty)),
	)

	query := `
		SELECT location_id
		FROM inventory_lines
		WHERE skuid = $1 AND on_hand >= $2
		ORDER BY on_hand DESC, location_id ASC
		LIMIT 1
		FOR UPDATE
	`

	var locationID int64
	err := tx.QueryRow(ctx, query, skuid, qty).Scan(&locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientStock
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("lock richest location: %w", err)
	}

	return locationID, nil
}

func (r *repo) UpsertReservation(ctx context.Context, tx pgx.Tx, orderNumber, skuid string, locationID int64, qty int32) error {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.UpsertReservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_number", orderNumber),
		attribute.String("skuid", skuid),
		attribute.Int64("location_id", locationID),
	)

	query := `
		INSERT INTO stock_reservations (order_number, skuid, location_id, qty, status, updated_at)
		VALUES ($1, $2, $3, $4, 'RESERVED', NOW())
		ON CONFLICT (order_number, skuid) DO UPDATE
		SET location_id = EXCLUDED.location_id,
			qty = EXCLUDED.qty,
			status = 'RESERVED',
			updated_at = NOW()
	`

	_, err := tx.Exec(ctx, query, orderNumber, skuid, locationID, qty)
	if err != nil {
		span.RecordError(err)

		tracelog.Error(
			ctx,
			r.logger,
			"Failed to upsert reservation",
			zap.String("order_number", orderNumber),
			zap.String("skuid", skuid),
			zap.Error(err),
		)

		return fmt.Errorf("upsert reservation: %w", err)
	}

	return nil
}

// DeductStock is the single conditional update that keeps on-hand quantity
// non-negative: the subtraction only applies while the pre-decrement value is
// still at least the requested amount.
func (r *repo) DeductStock(ctx context.Context, tx pgx.Tx, locationID int64, skuid string, qty int32) error {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.DeductStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("location_id", locationID),
		attribute.String("skuid", skuid),
		attribute.Int("qty", int(qty)),
	)

	query := `
		UPDATE inventory_lines
		SET on_hand = on_hand - $3
		WHERE location_id = $1 AND skuid = $2 AND on_hand >= $3
	`

	commandTag, err := tx.Exec(ctx, query, locationID, skuid, qty)
	if err != nil {
		span.RecordError(err)

		tracelog.Error(
			ctx,
			r.logger,
			"Error deducting stock",
			zap.Int64("location_id", locationID),
			zap.String("skuid", skuid),
			zap.Error(err),
		)

		return fmt.Errorf("deduct stock for %s: %w", skuid, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrDeductionFailed
	}

	return nil
}

func (r *repo) MarkDeducted(ctx context.Context, tx pgx.Tx, orderNumber, skuid string) error {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.MarkDeducted")
	defer span.End()

	query := `
		UPDATE stock_reservations
		SET status = 'DEDUCTED', updated_at = NOW()
		WHERE order_number = $1 AND skuid = $2
	`

	_, err := tx.Exec(ctx, query, orderNumber, skuid)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark reservation deducted: %w", err)
	}

	return nil
}

// StockSummary is the outward read-only aggregation; it runs on the pool,
// outside any consumer transaction.
func (r *repo) StockSummary(ctx context.Context, skuid string) (*StockSummary, error) {
	ctx, span := r.tracer.Start(ctx, "WarehouseRepository.StockSummary")
	defer span.End()

	span.SetAttributes(attribute.String("skuid", skuid))

	skuQuery := `
		SELECT skuid, sku_name
		FROM sku_master
		WHERE skuid = $1
	`

	var summary StockSummary
	err := r.pool.QueryRow(ctx, skuQuery, skuid).Scan(&summary.SKUID, &summary.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSKUNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query sku %q: %w", skuid, err)
	}

	totalQuery := `
		SELECT COALESCE(SUM(on_hand), 0)
		FROM inventory_lines
		WHERE skuid = $1
	`

	if err := r.pool.QueryRow(ctx, totalQuery, skuid).Scan(&summary.TotalOnHand); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sum on-hand for %q: %w", skuid, err)
	}

	topQuery := `
		SELECT location_id, on_hand
		FROM inventory_lines
		WHERE skuid = $1
		ORDER BY on_hand DESC, location_id ASC
		LIMIT 5
	`

	rows, err := r.pool.Query(ctx, topQuery, skuid)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query top locations for %q: %w", skuid, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ls LocationStock
		if err := rows.Scan(&ls.LocationID, &ls.OnHand); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan location stock: %w", err)
		}

		summary.TopLocations = append(summary.TopLocations, ls)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &summary, nil
}
