package consumer_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"mall/internal/consumer"
	"mall/internal/event"
	"mall/internal/inbox"
	"mall/internal/rabbit"
	"mall/internal/testsuite"
	"mall/internal/warehouse"
)

const consumerName = "wms-service"

// ShellSuite wires the real pipeline end to end: a publisher on one
// connection, a queue consumer with the inbox-wrapped warehouse mutation on
// another, and postgres underneath.
type ShellSuite struct {
	testsuite.BaseSuite
	logger *zap.Logger
}

func TestShellSuite(t *testing.T) {
	suite.Run(t, new(ShellSuite))
}

func (s *ShellSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")
	s.logger = zap.NewNop()
}

func (s *ShellSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *ShellSuite) SetupTest() {
	s.TruncateTable("inbox_events")
	s.TruncateTable("stock_reservations")
	s.TruncateTable("inventory_lines")
	s.TruncateTable("sku_master")
}

type harness struct {
	queue     string
	publisher *rabbit.Publisher
	pubClient *rabbit.Client
	stop      func()
}

// start declares a fresh queue per test so redeliveries from one test cannot
// leak into the next, and runs a consumer against it.
func (s *ShellSuite) start(maxAttempts int) *harness {
	queue := "wms.order.paid." + uuid.NewString()[:8]

	cfg := rabbit.Config{
		URL:          s.AmqpURL,
		Exchange:     "mall.events",
		ExchangeType: "topic",
		RoutingKey:   event.TypeOrderPaid,
	}

	consumerClient, err := rabbit.Connect(s.Ctx, cfg, s.logger)
	s.Require().NoError(err)
	s.Require().NoError(consumerClient.DeclareConsumerQueue(queue))

	pubClient, err := rabbit.Connect(s.Ctx, cfg, s.logger)
	s.Require().NoError(err)

	warehouseService := warehouse.NewService(warehouse.NewRepository(s.DbPool, s.logger), 0, s.logger)

	handler := consumer.Shell(
		s.DbPool,
		inbox.NewRepository(s.logger),
		consumerName,
		event.TypeOrderPaid,
		warehouseService.ReserveAndDeduct,
		s.logger,
	)

	runCtx, cancel := context.WithCancel(s.Ctx)
	queueConsumer := rabbit.NewConsumer(consumerClient, queue, 10, maxAttempts, handler, s.logger)

	go func() {
		_ = queueConsumer.Run(runCtx)
	}()

	return &harness{
		queue:     queue,
		publisher: rabbit.NewPublisher(pubClient, s.logger),
		pubClient: pubClient,
		stop: func() {
			cancel()
			_ = pubClient.Close()
			_ = consumerClient.Close()
		},
	}
}

func (s *ShellSuite) seedStock(skuid string, onHand int32) {
	_, err := s.DbPool.Exec(
		s.Ctx,
		"INSERT INTO sku_master (skuid, sku_name) VALUES ($1, $2)",
		skuid, "name of "+skuid,
	)
	s.Require().NoError(err)

	_, err = s.DbPool.Exec(
		s.Ctx,
		"INSERT INTO inventory_lines (location_id, skuid, on_hand) VALUES (1, $1, $2)",
		skuid, onHand,
	)
	s.Require().NoError(err)
}

func (s *ShellSuite) onHand(skuid string) int32 {
	var onHand int32
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT on_hand FROM inventory_lines WHERE location_id = 1 AND skuid = $1",
		skuid,
	).Scan(&onHand)
	s.Require().NoError(err)

	return onHand
}

func (s *ShellSuite) inboxCount() int {
	var count int
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT COUNT(*) FROM inbox_events WHERE consumer = $1",
		consumerName,
	).Scan(&count)
	s.Require().NoError(err)

	return count
}

func (s *ShellSuite) reservationStatus(orderNumber, skuid string) string {
	var status string
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT status FROM stock_reservations WHERE order_number = $1 AND skuid = $2",
		orderNumber, skuid,
	).Scan(&status)
	s.Require().NoError(err)

	return status
}

func (s *ShellSuite) reservationCount() int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM stock_reservations").Scan(&count)
	s.Require().NoError(err)

	return count
}

func (s *ShellSuite) queueLen(h *harness, queue string) int {
	q, err := h.pubClient.Channel().QueueDeclarePassive(queue, true, false, false, false, nil)
	s.Require().NoError(err)

	return q.Messages
}

func (s *ShellSuite) TestEventAppliedExactlyOnce() {
	h := s.start(25)
	defer h.stop()

	s.seedStock("SKU-101", 5)

	evt := event.NewOrderPaid("ORD-1", nil, 12000, []event.Item{{SKUID: "SKU-101", Qty: 2}})

	s.Require().NoError(h.publisher.Publish(s.Ctx, evt))
	s.Require().NoError(h.publisher.Publish(s.Ctx, evt))

	s.Require().Eventually(func() bool {
		return s.inboxCount() == 1 && s.onHand("SKU-101") == 3
	}, 20*time.Second, 100*time.Millisecond)

	// Give the duplicate time to arrive; it must change nothing.
	time.Sleep(500 * time.Millisecond)

	s.Require().Equal(1, s.inboxCount())
	s.Require().Equal(int32(3), s.onHand("SKU-101"))
	s.Require().Equal("DEDUCTED", s.reservationStatus("ORD-1", "SKU-101"))
}

func (s *ShellSuite) TestMalformedMessageDropped() {
	h := s.start(25)
	defer h.stop()

	err := h.pubClient.Channel().PublishWithContext(
		s.Ctx,
		"mall.events",
		event.TypeOrderPaid,
		false,
		false,
		amqp.Publishing{ContentType: "application/json", Body: []byte("not json")},
	)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.queueLen(h, h.queue) == 0
	}, 20*time.Second, 100*time.Millisecond)

	time.Sleep(300 * time.Millisecond)

	s.Require().Zero(s.inboxCount())
	s.Require().Zero(s.queueLen(h, rabbit.DeadLetterQueue(h.queue)))
}

func (s *ShellSuite) TestForeignEventTypeDropped() {
	h := s.start(25)
	defer h.stop()

	s.seedStock("SKU-101", 5)

	evt := event.NewOrderPaid("ORD-1", nil, 12000, []event.Item{{SKUID: "SKU-101", Qty: 2}})
	evt.Type = "payment.order.cancelled"

	s.Require().NoError(h.publisher.Publish(s.Ctx, evt))

	s.Require().Eventually(func() bool {
		return s.queueLen(h, h.queue) == 0
	}, 20*time.Second, 100*time.Millisecond)

	time.Sleep(300 * time.Millisecond)

	s.Require().Zero(s.inboxCount())
	s.Require().Equal(int32(5), s.onHand("SKU-101"))
}

func (s *ShellSuite) TestPoisonedMessageDeadLettered() {
	h := s.start(3)
	defer h.stop()

	s.seedStock("SKU-101", 3)

	evt := event.NewOrderPaid("ORD-1", nil, 12000, []event.Item{{SKUID: "SKU-101", Qty: 10}})
	s.Require().NoError(h.publisher.Publish(s.Ctx, evt))

	s.Require().Eventually(func() bool {
		return s.queueLen(h, rabbit.DeadLetterQueue(h.queue)) == 1
	}, 20*time.Second, 100*time.Millisecond)

	s.Require().Equal(int32(3), s.onHand("SKU-101"))
	s.Require().Zero(s.inboxCount())
	s.Require().Zero(s.reservationCount())
}

// An envelope that parses but is missing a required field is a data-integrity
// failure: it must retry and end up dead-lettered, never silently acked away.
func (s *ShellSuite) TestIncompleteEventRetriesToDeadLetter() {
	h := s.start(3)
	defer h.stop()

	body := []byte(`{
		"eventId": "e-incomplete",
		"occurredAt": "2026-01-02T03:04:05Z",
		"type": "payment.order.paid",
		"data": {"orderNumber": "ORD-1", "items": []}
	}`)

	err := h.pubClient.Channel().PublishWithContext(
		s.Ctx,
		"mall.events",
		event.TypeOrderPaid,
		false,
		false,
		amqp.Publishing{ContentType: "application/json", Body: body},
	)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.queueLen(h, rabbit.DeadLetterQueue(h.queue)) == 1
	}, 20*time.Second, 100*time.Millisecond)

	s.Require().Zero(s.inboxCount())
	s.Require().Zero(s.reservationCount())
}

// Losing the broker channel must surface as an error so the owning process
// can shut down or reconnect instead of idling with a dead consumer.
func (s *ShellSuite) TestRunReportsClosedDeliveryChannel() {
	queue := "wms.order.paid." + uuid.NewString()[:8]

	cfg := rabbit.Config{
		URL:          s.AmqpURL,
		Exchange:     "mall.events",
		ExchangeType: "topic",
		RoutingKey:   event.TypeOrderPaid,
	}

	client, err := rabbit.Connect(s.Ctx, cfg, s.logger)
	s.Require().NoError(err)
	s.Require().NoError(client.DeclareConsumerQueue(queue))

	handler := func(ctx context.Context, d amqp.Delivery) rabbit.Outcome {
		return rabbit.Ack
	}

	queueConsumer := rabbit.NewConsumer(client, queue, 1, 3, handler, s.logger)

	done := make(chan error, 1)
	go func() {
		done <- queueConsumer.Run(context.Background())
	}()

	// Let the consumer register before yanking the connection.
	time.Sleep(300 * time.Millisecond)
	s.Require().NoError(client.Close())

	select {
	case err := <-done:
		s.Require().ErrorIs(err, rabbit.ErrDeliveryChannelClosed)
	case <-time.After(10 * time.Second):
		s.FailNow("consumer did not stop after channel close")
	}
}

// The failed event keeps cycling on the queue; once stock is replenished the
// next delivery commits, and exactly once.
func (s *ShellSuite) TestRedeliverySucceedsAfterReplenishment() {
	h := s.start(1 << 20)
	defer h.stop()

	s.seedStock("SKU-101", 3)

	evt := event.NewOrderPaid("ORD-1", nil, 12000, []event.Item{{SKUID: "SKU-101", Qty: 10}})
	s.Require().NoError(h.publisher.Publish(s.Ctx, evt))

	time.Sleep(500 * time.Millisecond)

	s.Require().Equal(int32(3), s.onHand("SKU-101"))
	s.Require().Zero(s.inboxCount())

	_, err := s.DbPool.Exec(s.Ctx, "UPDATE inventory_lines SET on_hand = 12 WHERE skuid = 'SKU-101'")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.inboxCount() == 1 && s.onHand("SKU-101") == 2
	}, 20*time.Second, 100*time.Millisecond)

	s.Require().Equal("DEDUCTED", s.reservationStatus("ORD-1", "SKU-101"))
}
