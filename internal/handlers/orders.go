package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.Validation(apperrors.CodeValidation, "invalid request body").Wrap(err))
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		h.logFailure(c, "Failed to create order", err)
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Order created successfully",
		"order":   order,
	})
}

// ListOrders handles GET /api/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.orderService.ListUserOrders(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logFailure(c, "Failed to list orders", err)
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  len(orders),
	})
}

// GetOrder handles GET /api/orders/:orderId
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), middleware.UserID(c), c.Param("orderId"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}
