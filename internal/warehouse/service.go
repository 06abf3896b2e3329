package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mall/internal/event"
	"mall/internal/tracelog"
)

type Service interface {
	// ReserveAndDeduct is the consumer mutation for a settlement event. Any
	// line failing aborts the whole call; the shell's transaction then rolls
	// back every reservation and decrement made for the event.
	ReserveAndDeduct(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error
	StockBySKU(ctx context.Context, skuid string) (*StockSummary, error)
}

type service struct {
	repo Repository
	// preferredLocationID is charged first when it holds enough stock;
	// zero disables the preference.
	preferredLocationID int64
	logger              *zap.Logger
	tracer              trace.Tracer
}

func NewService(repo Repository, preferredLocationID int64, logger *zap.Logger) Service {
	return &service{
		repo:                repo,
		preferredLocationID: preferredLocationID,
		logger:              logger,
		tracer:              otel.Tracer("warehouse/service"),
	}
}

func (s *service) ReserveAndDeduct(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error {
	ctx, span := s.tracer.Start(ctx, "WarehouseService.ReserveAndDeduct")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_number", evt.Data.OrderNumber),
		attribute.Int("items", len(evt.Data.Items)),
	)

	for _, item := range evt.Data.Items {
		if err := s.reserveLine(ctx, tx, evt.Data.OrderNumber, item); err != nil {
			tracelog.Warn(
				ctx,
				s.logger,
				"Line item failed, aborting event",
				zap.String("order_number", evt.Data.OrderNumber),
				zap.String("skuid", item.SKUID),
				zap.Int32("qty", item.Qty),
				zap.Error(err),
			)

			return err
		}
	}

	return nil
}

func (s *service) reserveLine(ctx context.Context, tx pgx.Tx, orderNumber string, item event.Item) error {
	if _, err := s.repo.GetSKU(ctx, tx, item.SKUID); err != nil {
		return err
	}

	locationID, err := s.selectLocation(ctx, tx, item.SKUID, item.Qty)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertReservation(ctx, tx, orderNumber, item.SKUID, locationID, item.Qty); err != nil {
		return err
	}

	// The conditional decrement re-checks quantity under the same lock, so a
	// selection made moments ago cannot drive the line negative.
	if err := s.repo.DeductStock(ctx, tx, locationID, item.SKUID, item.Qty); err != nil {
		return fmt.Errorf("deduct %s at location %d: %w", item.SKUID, locationID, err)
	}

	return s.repo.MarkDeducted(ctx, tx, orderNumber, item.SKUID)
}

func (s *service) selectLocation(ctx context.Context, tx pgx.Tx, skuid string, qty int32) (int64, error) {
	if s.preferredLocationID != 0 {
		onHand, err := s.repo.LockLocationStock(ctx, tx, s.preferredLocationID, skuid)
		if err != nil {
			return 0, err
		}

		if onHand >= qty {
			return s.preferredLocationID, nil
		}
	}

	return s.repo.LockRichestLocation(ctx, tx, skuid, qty)
}

func (s *service) StockBySKU(ctx context.Context, skuid string) (*StockSummary, error) {
	return s.repo.StockSummary(ctx, skuid)
}
