package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"order-processor/models"
)

type OrderReader interface {
	FindOrderByID(ctx context.Context, id int) (*models.Order, error)
	ListNotifications(ctx context.Context, orderID int) ([]models.Notification, error)
}

// OrderHandler serves read-only views of the pipeline state, for operators
// chasing "what happened to order N".
type OrderHandler struct {
	store  OrderReader
	logger *zap.Logger
}

func NewOrderHandler(store OrderReader, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{store: store, logger: logger}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-processor").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.store.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Int("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListNotifications works for purged orders too; notifications outlive them.
func (h *OrderHandler) ListNotifications(c *gin.Context) {
	ctx, span := otel.Tracer("order-processor").Start(c.Request.Context(), "ListNotifications")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	notifications, err := h.store.ListNotifications(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list notifications", zap.Int("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":      orderID,
		"notifications": notifications,
	})
}
