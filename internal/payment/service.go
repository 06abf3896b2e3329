package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mall/internal/event"
	"mall/internal/rabbit"
	"mall/internal/tracelog"
)

type ApproveResult struct {
	OrderNumber string `json:"orderNumber"`
	AlreadyPaid bool   `json:"alreadyPaid,omitempty"`
	Published   bool   `json:"published"`
	EventID     string `json:"eventId,omitempty"`
}

type Service interface {
	Approve(ctx context.Context, orderNumber, provider string) (*ApproveResult, error)
}

type service struct {
	pool      *pgxpool.Pool
	repo      Repository
	publisher *rabbit.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewService(pool *pgxpool.Pool, repo Repository, publisher *rabbit.Publisher, logger *zap.Logger) Service {
	return &service{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("payment/service"),
	}
}

// Approve commits the monetary state change first, then hands the event to
// the publisher. A publish failure after commit is reported, not rolled
// back: the payment stands, the notification is lost until reconciled.
func (s *service) Approve(ctx context.Context, orderNumber, provider string) (*ApproveResult, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Approve")
	defer span.End()

	span.SetAttributes(attribute.String("order_number", orderNumber))

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

	order, err := s.repo.GetOrderForUpdate(ctx, tx, orderNumber)
	if err != nil {
		return nil, err
	}

	if order.Status == OrderStatusPaid {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		tracelog.Info(
			ctx,
			s.logger,
			"Order already paid",
			zap.String("order_number", orderNumber),
		)

		return &ApproveResult{OrderNumber: orderNumber, AlreadyPaid: true}, nil
	}

	p := &Payment{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Amount:        order.TotalAmount,
		Provider:      provider,
		TransactionID: uuid.New().String(),
	}

	if err := s.repo.CreatePayment(ctx, tx, p); err != nil {
		return nil, err
	}

	if err := s.repo.MarkOrderPaid(ctx, tx, order.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	items, err := s.repo.ListOrderItems(ctx, order.ID)
	if err != nil {
		tracelog.Warn(
			ctx,
			s.logger,
			"Payment committed but items could not be read, event not published",
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)

		return &ApproveResult{OrderNumber: orderNumber, Published: false}, nil
	}

	evt := event.NewOrderPaid(order.OrderNumber, order.CustomerID, order.TotalAmount, items)

	if err := s.publisher.Publish(ctx, evt); err != nil {
		tracelog.Warn(
			ctx,
			s.logger,
			"Payment committed but event publish failed",
			zap.String("order_number", orderNumber),
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)

		return &ApproveResult{OrderNumber: orderNumber, Published: false}, nil
	}

	tracelog.Info(
		ctx,
		s.logger,
		"Payment approved and event published",
		zap.String("order_number", orderNumber),
		zap.String("event_id", evt.EventID),
	)

	return &ApproveResult{OrderNumber: orderNumber, Published: true, EventID: evt.EventID}, nil
}
