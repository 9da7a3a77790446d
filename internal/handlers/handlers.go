package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/service"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the payments service.
type Handlers struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	checks         map[string]ReadinessCheck
	config         *config.Config
	logger         *zap.Logger
}

// NewHandlers creates a new handlers instance. checks are run by /ready.
func NewHandlers(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	checks map[string]ReadinessCheck,
	cfg *config.Config,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		orderService:   orderService,
		paymentService: paymentService,
		checks:         checks,
		config:         cfg,
		logger:         logger,
	}
}

// handleError writes err as {message, code, ...payload}. Unclassified
// errors are answered as internal errors; the cause is only logged.
func handleError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}

	body := gin.H{}
	for k, v := range appErr.Payload {
		body[k] = v
	}
	body["message"] = appErr.Message
	body["code"] = appErr.Code
	c.JSON(status, body)
}

func (h *Handlers) logFailure(c *gin.Context, msg string, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		return
	}
	h.logger.Debug(msg, zap.String("path", c.FullPath()), zap.String("code", apperrors.CodeOf(err)))
}
