package warehouse

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	wms := app.Group("/wms")
	wms.Get("/stock/:skuid", h.StockBySKU)
}

func (h *Handler) StockBySKU(c *fiber.Ctx) error {
	skuid := c.Params("skuid")
	if skuid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing skuid"})
	}

	summary, err := h.service.StockBySKU(c.UserContext(), skuid)
	if errors.Is(err, ErrSKUNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sku not found"})
	}
	if err != nil {
		h.logger.Error("stock query failed", zap.String("skuid", skuid), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(summary)
}
