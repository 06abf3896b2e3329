package payment_test

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"mall/internal/event"
	"mall/internal/payment"
	"mall/internal/rabbit"
	"mall/internal/testsuite"
)

const probeQueue = "payment.probe"

type PaymentServiceSuite struct {
	testsuite.BaseSuite
	client *rabbit.Client
	svc    payment.Service
}

func TestPaymentServiceSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

func (s *PaymentServiceSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")

	logger := zap.NewNop()

	var err error
	s.client, err = rabbit.Connect(s.Ctx, rabbit.Config{
		URL:          s.AmqpURL,
		Exchange:     "mall.events",
		ExchangeType: "topic",
		RoutingKey:   event.TypeOrderPaid,
	}, logger)
	s.Require().NoError(err)

	// The probe queue stands in for a downstream consumer so the test can
	// observe what actually hit the exchange.
	s.Require().NoError(s.client.DeclareConsumerQueue(probeQueue))

	repo := payment.NewRepository(s.DbPool, logger)
	s.svc = payment.NewService(s.DbPool, repo, rabbit.NewPublisher(s.client, logger), logger)
}

func (s *PaymentServiceSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	s.TearDownInfrastructure()
}

func (s *PaymentServiceSuite) SetupTest() {
	s.TruncateTable("orders")

	_, err := s.client.Channel().QueuePurge(probeQueue, false)
	s.Require().NoError(err)
}

func (s *PaymentServiceSuite) seedOrder(orderNumber string, customerID *int64, total float64, items ...event.Item) {
	var orderID int64
	err := s.DbPool.QueryRow(
		s.Ctx,
		"INSERT INTO orders (order_number, customer_id, total_amount) VALUES ($1, $2, $3) RETURNING order_id",
		orderNumber, customerID, total,
	).Scan(&orderID)
	s.Require().NoError(err)

	for _, item := range items {
		_, err := s.DbPool.Exec(
			s.Ctx,
			"INSERT INTO order_items (order_id, skuid, qty) VALUES ($1, $2, $3)",
			orderID, item.SKUID, item.Qty,
		)
		s.Require().NoError(err)
	}
}

func (s *PaymentServiceSuite) orderStatus(orderNumber string) string {
	var status string
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT order_status FROM orders WHERE order_number = $1",
		orderNumber,
	).Scan(&status)
	s.Require().NoError(err)

	return status
}

func (s *PaymentServiceSuite) paymentCount(orderNumber string) int {
	var count int
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT COUNT(*)
		 FROM payments p
		 JOIN orders o ON o.order_id = p.order_id
		 WHERE o.order_number = $1`,
		orderNumber,
	).Scan(&count)
	s.Require().NoError(err)

	return count
}

func (s *PaymentServiceSuite) receive() amqp.Delivery {
	var delivered amqp.Delivery
	s.Require().Eventually(func() bool {
		msg, ok, err := s.client.Channel().Get(probeQueue, true)
		if err != nil || !ok {
			return false
		}

		delivered = msg
		return true
	}, 10*time.Second, 100*time.Millisecond)

	return delivered
}

func (s *PaymentServiceSuite) TestApprovePublishesEvent() {
	customerID := int64(42)
	s.seedOrder("ORD-1", &customerID, 12000,
		event.Item{SKUID: "SKU-101", Qty: 2},
		event.Item{SKUID: "SKU-202", Qty: 1},
	)

	result, err := s.svc.Approve(s.Ctx, "ORD-1", "mockpay")
	s.Require().NoError(err)
	s.Require().True(result.Published)
	s.Require().False(result.AlreadyPaid)
	s.Require().NotEmpty(result.EventID)

	s.Require().Equal("PAID", s.orderStatus("ORD-1"))
	s.Require().Equal(1, s.paymentCount("ORD-1"))

	msg := s.receive()
	s.Require().Equal(result.EventID, msg.MessageId)

	evt, err := event.Decode(msg.Body)
	s.Require().NoError(err)
	s.Require().Equal(result.EventID, evt.EventID)
	s.Require().Equal(event.TypeOrderPaid, evt.Type)
	s.Require().Equal("ORD-1", evt.Data.OrderNumber)
	s.Require().NotNil(evt.Data.CustomerID)
	s.Require().Equal(customerID, *evt.Data.CustomerID)
	s.Require().Equal([]event.Item{
		{SKUID: "SKU-101", Qty: 2},
		{SKUID: "SKU-202", Qty: 1},
	}, evt.Data.Items)
}

func (s *PaymentServiceSuite) TestApproveIsIdempotent() {
	s.seedOrder("ORD-1", nil, 500, event.Item{SKUID: "SKU-101", Qty: 1})

	first, err := s.svc.Approve(s.Ctx, "ORD-1", "mockpay")
	s.Require().NoError(err)
	s.Require().True(first.Published)

	second, err := s.svc.Approve(s.Ctx, "ORD-1", "mockpay")
	s.Require().NoError(err)
	s.Require().True(second.AlreadyPaid)
	s.Require().False(second.Published)

	s.Require().Equal(1, s.paymentCount("ORD-1"))

	// Exactly one event reached the exchange.
	s.receive()
	time.Sleep(300 * time.Millisecond)

	_, ok, err := s.client.Channel().Get(probeQueue, true)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *PaymentServiceSuite) TestApproveUnknownOrder() {
	_, err := s.svc.Approve(s.Ctx, "ORD-404", "mockpay")
	s.Require().ErrorIs(err, payment.ErrOrderNotFound)
}
