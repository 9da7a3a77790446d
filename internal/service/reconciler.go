package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
)

// Reconciliation sources that are not gateway deliveries.
const (
	sourceDirect     = "direct"
	sourceInitiation = "initiation"
)

// OrderEventPublisher publishes order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error
}

// Reconciler is the only writer of an order's payment status. Each call
// recomputes status and paidAt from the report and merges details field by
// field inside one store operation, so repeated delivery of the same report
// leaves the order unchanged.
type Reconciler struct {
	store     repository.OrderStore
	publisher OrderEventPublisher
	metrics   *metrics.Metrics
	config    *config.Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewReconciler creates a reconciler. publisher may be nil when order events
// are disabled.
func NewReconciler(
	store repository.OrderStore,
	publisher OrderEventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		metrics:   m,
		config:    cfg,
		now:       time.Now,
		logger:    logger,
	}
}

type reconcileRequest struct {
	rawStatus  string
	details    models.PaymentDetails
	source     string
	reference  string
	refusePaid bool
}

// Reconcile applies a raw gateway status and its details to an order.
func (r *Reconciler) Reconcile(ctx context.Context, orderID, rawStatus string, details models.PaymentDetails) (*models.Order, error) {
	return r.apply(ctx, orderID, reconcileRequest{
		rawStatus: rawStatus,
		details:   details,
		source:    sourceDirect,
	})
}

// Apply reconciles a normalised gateway event onto an order.
func (r *Reconciler) Apply(ctx context.Context, orderID string, ev payment.GatewayEvent) (*models.Order, error) {
	if ev.Source == payment.SourcePolling && ev.ObservedAt.IsZero() {
		ev.ObservedAt = r.now()
	}
	return r.apply(ctx, orderID, reconcileRequest{
		rawStatus: ev.RawStatus,
		details:   ev.Details(),
		source:    string(ev.Source),
	})
}

// StartAttempt records a new payment attempt: the reference is attached and
// the order reconciled to PENDING. Orders that are already paid are refused
// with ORDER_ALREADY_PAID, checked under the same lock as the write.
func (r *Reconciler) StartAttempt(ctx context.Context, orderID, reference string, details models.PaymentDetails) (*models.Order, error) {
	return r.apply(ctx, orderID, reconcileRequest{
		rawStatus:  string(models.OrderStatusPending),
		details:    details,
		source:     sourceInitiation,
		reference:  reference,
		refusePaid: true,
	})
}

func (r *Reconciler) apply(ctx context.Context, orderID string, req reconcileRequest) (*models.Order, error) {
	r.logger.Debug("Reconciling order",
		zap.String("order_id", orderID),
		zap.String("raw_status", req.rawStatus),
		zap.String("source", req.source),
	)

	var requested models.OrderStatus
	var regressed, held bool

	previous, order, err := r.store.ApplyPaymentUpdate(ctx, orderID, func(current *models.Order) (models.PaymentUpdate, error) {
		if req.refusePaid && current.IsPaid() {
			return models.PaymentUpdate{}, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "order is already paid").
				With("order", current)
		}

		requested = payment.MapStatus(req.rawStatus)
		status := requested
		regressed, held = false, false
		if current.IsPaid() && status != models.OrderStatusApproved {
			regressed = true
			if r.config.Reconcile.TransitionPolicy == config.PolicyForwardOnly {
				status = models.OrderStatusApproved
				held = true
			}
		}

		now := r.now().UTC()
		update := models.PaymentUpdate{
			Status:         status,
			Details:        req.details,
			WompiReference: req.reference,
			At:             now,
		}
		if status == models.OrderStatusApproved {
			update.PaidAt = &now
		}
		if !update.Changes(current) {
			update.At = current.UpdatedAt
		}
		return update, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "order not found")
		}
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		r.logger.Error("Failed to reconcile order", zap.String("order_id", orderID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}

	r.metrics.Reconciliations.WithLabelValues(req.source, string(order.Status)).Inc()

	if regressed {
		r.metrics.StatusRegressions.WithLabelValues(string(previous), string(requested), strconv.FormatBool(!held)).Inc()
		r.logger.Warn("Gateway report moves a paid order",
			zap.String("order_id", orderID),
			zap.String("requested_status", string(requested)),
			zap.String("policy", r.config.Reconcile.TransitionPolicy),
			zap.Bool("applied", !held),
		)
	}

	if previous != order.Status {
		r.logger.Info("Order payment status changed",
			zap.String("order_id", orderID),
			zap.String("previous_status", string(previous)),
			zap.String("status", string(order.Status)),
			zap.String("source", req.source),
		)
		r.publishStatusChange(ctx, order, previous)
	}

	return order, nil
}

func (r *Reconciler) publishStatusChange(ctx context.Context, order *models.Order, previous models.OrderStatus) {
	if !r.config.Features.EnableOrderEvents || r.publisher == nil {
		return
	}
	if err := r.publisher.PublishPaymentStatusChanged(ctx, order, previous); err != nil {
		r.logger.Warn("Failed to publish payment status change",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}
