package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
)

// HeaderWompiSignature carries the webhook checksum.
const HeaderWompiSignature = "X-Wompi-Signature"

const maxWebhookBody = 1 << 20

// CreatePayPalPayment handles POST /api/payments/paypal/:orderId and returns
// the PayPal order as PayPal sent it.
func (h *Handlers) CreatePayPalPayment(c *gin.Context) {
	ppOrder, err := h.paymentService.CreatePayPalPayment(c.Request.Context(), middleware.UserID(c), c.Param("orderId"))
	if err != nil {
		h.logFailure(c, "Failed to create PayPal payment", err)
		handleError(c, err)
		return
	}

	if len(ppOrder.Raw) > 0 {
		c.Data(http.StatusOK, "application/json; charset=utf-8", ppOrder.Raw)
		return
	}
	c.JSON(http.StatusOK, ppOrder)
}

// CapturePayPalPayment handles POST /api/payments/paypal/capture/:orderId
func (h *Handlers) CapturePayPalPayment(c *gin.Context) {
	result, err := h.paymentService.CapturePayPalPayment(c.Request.Context(), middleware.UserID(c), c.Param("orderId"))
	if err != nil {
		h.logFailure(c, "Failed to capture PayPal payment", err)
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Payment captured",
		"status":        result.Status,
		"order":         result.Order,
		"paypalDetails": result.Capture,
	})
}

// CreateWompiPayment handles POST /api/payments/wompi/:orderId
func (h *Handlers) CreateWompiPayment(c *gin.Context) {
	checkout, err := h.paymentService.CreateWompiPayment(c.Request.Context(), middleware.UserID(c), c.Param("orderId"))
	if err != nil {
		h.logFailure(c, "Failed to create Wompi payment", err)
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Wompi payment created",
		"paymentUrl": checkout.PaymentURL,
		"reference":  checkout.Reference,
	})
}

// CheckWompiStatus handles GET /api/payments/wompi/status/:reference
func (h *Handlers) CheckWompiStatus(c *gin.Context) {
	check, err := h.paymentService.CheckWompiStatus(c.Request.Context(), middleware.UserID(c), c.Param("reference"))
	if err != nil {
		h.logFailure(c, "Failed to check Wompi status", err)
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Payment status retrieved",
		"status":         check.Status,
		"order":          check.Order,
		"gatewayDetails": check.Transaction,
	})
}

// WompiWebhook handles POST /api/payments/webhook. It is not behind auth;
// the signature header authenticates the delivery.
func (h *Handlers) WompiWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		handleError(c, apperrors.Validation(apperrors.CodeValidation, "unreadable webhook body").Wrap(err))
		return
	}

	outcome, err := h.paymentService.HandleWompiWebhook(c.Request.Context(), c.GetHeader(HeaderWompiSignature), body)
	if err != nil {
		h.logFailure(c, "Webhook not applied", err)
		handleError(c, err)
		return
	}

	message := "Webhook processed"
	if outcome == metrics.WebhookIgnored {
		message = "Webhook ignored"
	}
	h.logger.Debug("Webhook handled", zap.String("outcome", outcome))
	c.JSON(http.StatusOK, gin.H{"message": message})
}
