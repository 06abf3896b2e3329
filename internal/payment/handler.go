package payment

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"mall/internal/event"
	"mall/internal/rabbit"
)

type Handler struct {
	service   Service
	publisher *rabbit.Publisher
	logger    *zap.Logger
}

func NewHandler(service Service, publisher *rabbit.Publisher, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		publisher: publisher,
		logger:    logger,
	}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	payments := app.Group("/payments")
	payments.Post("/approve", h.Approve)
	payments.Post("/test-publish", h.TestPublish)
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	var input struct {
		OrderNumber string `json:"orderNumber"`
		Provider    string `json:"provider"`
	}

	if err := c.BodyParser(&input); err != nil {
		h.logger.Warn("failed to parse body in approve", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if input.OrderNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "orderNumber is required"})
	}

	if input.Provider == "" {
		input.Provider = "mockpay"
	}

	result, err := h.service.Approve(c.UserContext(), input.OrderNumber, input.Provider)
	if errors.Is(err, ErrOrderNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(result)
}

// TestPublish fires a synthetic settlement event, for poking the pipeline
// without going through an order.
func (h *Handler) TestPublish(c *fiber.Ctx) error {
	customerID := int64(1)
	evt := event.NewOrderPaid(
		"ORD-TEST-0001",
		&customerID,
		12000,
		[]event.Item{{SKUID: "SKU-101", Qty: 1}},
	)

	if err := h.publisher.Publish(c.UserContext(), evt); err != nil {
		h.logger.Warn("test publish failed", zap.Error(err))

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "publish failed"})
	}

	return c.JSON(fiber.Map{"eventId": evt.EventID})
}
