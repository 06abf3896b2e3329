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

	"mall/internal/event"
	"mall/internal/tracelog"
)

type Service interface {
	// ProjectOrderPaid is the consumer mutation: it runs inside the shell's
	// transaction alongside the inbox insert.
	ProjectOrderPaid(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error
	AdvanceStatus(ctx context.Context, orderNumber string, next Status) (*ShippableOrder, error)
	GetOrder(ctx context.Context, orderNumber string) (*ShippableOrder, error)
}

type service struct {
	pool   *pgxpool.Pool
	repo   Repository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewService(pool *pgxpool.Pool, repo Repository, logger *zap.Logger) Service {
	return &service{
		pool:   pool,
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("delivery/service"),
	}
}

func (s *service) ProjectOrderPaid(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error {
	ctx, span := s.tracer.Start(ctx, "DeliveryService.ProjectOrderPaid")
	defer span.End()

	span.SetAttributes(attribute.String("order_number", evt.Data.OrderNumber))

	if err := s.repo.EnsureDefaultCenter(ctx, tx); err != nil {
		return err
	}

	if err := s.repo.UpsertReady(ctx, tx, evt.Data.OrderNumber, evt.Data.CustomerID); err != nil {
		return err
	}

	tracelog.Info(
		ctx,
		s.logger,
		"Shippable order projected",
		zap.String("order_number", evt.Data.OrderNumber),
	)

	return nil
}

func (s *service) AdvanceStatus(ctx context.Context, orderNumber string, next Status) (*ShippableOrder, error) {
	ctx, span := s.tracer.Start(ctx, "DeliveryService.AdvanceStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_number", orderNumber),
		attribute.String("next", string(next)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tracelog.Error(
				cleanupCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	order, err := s.repo.GetForUpdate(ctx, tx, orderNumber)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanAdvanceTo(next) {
		tracelog.Warn(
			ctx,
			s.logger,
			"Rejected status transition",
			zap.String("order_number", orderNumber),
			zap.String("from", string(order.Status)),
			zap.String("to", string(next)),
		)

		return nil, ErrInvalidTransition
	}

	if err := s.repo.UpdateStatus(ctx, tx, orderNumber, order.Status, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	order.Status = next
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, orderNumber string) (*ShippableOrder, error) {
	return s.repo.GetByOrderNumber(ctx, orderNumber)
}
