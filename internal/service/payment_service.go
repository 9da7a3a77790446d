package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
)

// EventTransactionUpdated is the only Wompi webhook event that is applied.
const EventTransactionUpdated = "transaction.updated"

// WompiCheckout is a started Wompi payment attempt.
type WompiCheckout struct {
	PaymentURL string
	Reference  string
	Order      *models.Order
}

// StatusCheck is the result of polling Wompi for a reference.
type StatusCheck struct {
	Resolution  ResolutionKind
	Status      models.OrderStatus
	Order       *models.Order
	Transaction *clients.WompiTransaction
}

// CaptureResult is a completed PayPal capture.
type CaptureResult struct {
	Status  models.OrderStatus
	Order   *models.Order
	Capture *clients.PayPalOrder
}

// PaymentService drives payment attempts through the gateways and feeds
// every reported outcome to the reconciler.
type PaymentService struct {
	orders     repository.OrderStore
	reconciler *Reconciler
	resolver   *Resolver
	wompi      clients.WompiClient
	paypal     clients.PayPalClient
	users      clients.UserClient
	metrics    *metrics.Metrics
	config     *config.Config
	now        func() time.Time
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	orders repository.OrderStore,
	reconciler *Reconciler,
	resolver *Resolver,
	wompi clients.WompiClient,
	paypal clients.PayPalClient,
	users clients.UserClient,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		orders:     orders,
		reconciler: reconciler,
		resolver:   resolver,
		wompi:      wompi,
		paypal:     paypal,
		users:      users,
		metrics:    m,
		config:     cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// CreateWompiPayment starts a Wompi checkout for one of the user's orders:
// a fresh reference is signed into the checkout URL, attached to the order
// and the order is reconciled to PENDING.
func (s *PaymentService) CreateWompiPayment(ctx context.Context, userID, orderID string) (*WompiCheckout, error) {
	s.logger.Debug("Creating Wompi payment", zap.String("order_id", orderID), zap.String("user_id", userID))

	if !s.wompi.CanCheckout() {
		s.logger.Error("Wompi checkout keys are not configured")
		return nil, wompiConfigError()
	}

	order, err := loadOwnedOrder(repository.WithoutCache(ctx), s.orders, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "order is already paid").With("order", order)
	}

	customer, err := s.users.GetCustomer(ctx, order.UserID)
	if err != nil {
		s.logger.Error("Failed to fetch customer", zap.String("user_id", order.UserID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}
	if customer == nil || customer.Email == "" || customer.Name == "" {
		return nil, apperrors.Validation(apperrors.CodeCustomerDataRequired, "the order's customer has no email or name on file")
	}

	ref, err := payment.NewReference(order.ID, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	amount := AmountInCents(order.Total)

	paymentURL, err := s.wompi.CheckoutURL(clients.CheckoutRequest{
		Reference:     ref.String(),
		AmountInCents: amount,
		Customer:      *customer,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	updated, err := s.reconciler.StartAttempt(ctx, order.ID, ref.String(), models.PaymentDetails{
		"paymentMethod":      string(payment.GatewayWompi),
		"wompiReference":     ref.String(),
		"wompiAmountInCents": amount,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Wompi payment created",
		zap.String("order_id", order.ID),
		zap.String("reference", ref.String()),
		zap.Int64("amount_in_cents", amount),
	)
	return &WompiCheckout{PaymentURL: paymentURL, Reference: ref.String(), Order: updated}, nil
}

// CheckWompiStatus polls Wompi for the payment behind reference and
// reconciles the answer.
func (s *PaymentService) CheckWompiStatus(ctx context.Context, userID, reference string) (*StatusCheck, error) {
	s.logger.Debug("Checking Wompi status", zap.String("reference", reference))

	if reference == "" {
		return nil, apperrors.Validation(apperrors.CodeReferenceRequired, "payment reference is required")
	}
	if !s.wompi.CanQuery() {
		s.logger.Error("Wompi private key is not configured")
		return nil, wompiConfigError()
	}

	res, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	if userID != "" && res.Order.UserID != userID {
		return nil, orderNotFound()
	}

	switch res.Kind {
	case ResolvedReferenceMismatch:
		return nil, apperrors.Conflict(apperrors.CodeDifferentReference, "the order exists but holds a different reference").
			WithStatus(http.StatusBadRequest).
			With("order", res.Order).
			With("currentReference", res.Order.WompiReference).
			With("paymentDetails", res.Order.PaymentDetails)
	case ResolvedByTransaction, ResolvedStoredTransaction:
		return s.applyPolled(ctx, res.Kind, res.Order, res.Transaction)
	}

	start := time.Now()
	tx, err := s.wompi.FindTransactionByReference(ctx, res.Order.WompiReference)
	s.metrics.ObserveGateway(string(payment.GatewayWompi), "find_transaction", start, err)
	if err != nil {
		return nil, s.wompiQueryError(ctx, res.Order, err)
	}
	return s.applyPolled(ctx, res.Kind, res.Order, tx)
}

func (s *PaymentService) applyPolled(ctx context.Context, kind ResolutionKind, order *models.Order, tx *clients.WompiTransaction) (*StatusCheck, error) {
	ev := tx.Event(payment.SourcePolling)
	ev.ObservedAt = s.now()

	updated, err := s.reconciler.Apply(ctx, order.ID, ev)
	if err != nil {
		return nil, err
	}
	return &StatusCheck{
		Resolution:  kind,
		Status:      updated.Status,
		Order:       updated,
		Transaction: tx,
	}, nil
}

// wompiQueryError maps a failed status query. Only a transaction the gateway
// confirms it does not have settles the order, as FAILED; any other failure
// leaves the order untouched.
func (s *PaymentService) wompiQueryError(ctx context.Context, order *models.Order, err error) error {
	s.logger.Warn("Wompi status query failed",
		zap.String("order_id", order.ID),
		zap.String("reference", order.WompiReference),
		zap.Error(err),
	)

	if errors.Is(err, clients.ErrTransactionNotFound) {
		updated, recErr := s.reconciler.Reconcile(ctx, order.ID, string(models.OrderStatusFailed), models.PaymentDetails{
			"paymentMethod": string(payment.GatewayWompi),
			"lastChecked":   s.now().UTC().Format(time.RFC3339Nano),
			"error":         "transaction not found at Wompi",
		})
		if recErr != nil {
			return recErr
		}
		return apperrors.NotFound(apperrors.CodeTransactionNotFound, "the transaction does not exist at Wompi").
			With("order", updated)
	}

	if gwErr, ok := clients.AsGatewayError(err); ok {
		return apperrors.Upstream(apperrors.CodeWompiError, gwErr.Message).Wrap(err).With("order", order)
	}
	if errors.Is(err, clients.ErrInvalidResponse) {
		return apperrors.Upstream(apperrors.CodeInvalidResponse, "invalid response from Wompi").Wrap(err).With("order", order)
	}
	return apperrors.Internal(err)
}

type wompiWebhook struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Data      struct {
		Transaction struct {
			ID                string          `json:"id"`
			Status            string          `json:"status"`
			AmountInCents     json.RawMessage `json:"amount_in_cents"`
			Reference         string          `json:"reference"`
			Currency          string          `json:"currency"`
			CreatedAt         string          `json:"created_at"`
			FinalizedAt       string          `json:"finalized_at"`
			PaymentMethodType string          `json:"payment_method_type"`
		} `json:"transaction"`
	} `json:"data"`
}

// HandleWompiWebhook authenticates and applies a Wompi event delivery. The
// returned outcome is one of the metrics.Webhook* values.
func (s *PaymentService) HandleWompiWebhook(ctx context.Context, signature string, body []byte) (string, error) {
	outcome, err := s.handleWompiWebhook(ctx, signature, body)
	s.metrics.Webhooks.WithLabelValues(outcome).Inc()
	return outcome, err
}

func (s *PaymentService) handleWompiWebhook(ctx context.Context, signature string, body []byte) (string, error) {
	// An empty secret would make every checksum computable by the sender.
	if s.config.Wompi.EventsSecret == "" {
		s.logger.Error("Rejected webhook: no events secret configured")
		return metrics.WebhookRejected, apperrors.Misconfigured(apperrors.CodeWompiConfig, "webhook verification is not configured")
	}
	if signature == "" {
		return metrics.WebhookRejected, apperrors.Auth(apperrors.CodeSignatureRequired, "signature header is required")
	}

	var hook wompiWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return metrics.WebhookRejected, apperrors.Validation(apperrors.CodeValidation, "invalid webhook payload").Wrap(err)
	}

	tx := hook.Data.Transaction
	timestamp := rawText(hook.Timestamp)
	amount := rawText(tx.AmountInCents)
	if !payment.VerifyWebhook(signature, tx.ID, tx.Status, amount, timestamp, s.config.Wompi.EventsSecret) {
		s.logger.Warn("Rejected webhook with invalid signature",
			zap.String("transaction_id", tx.ID),
			zap.String("reference", tx.Reference),
		)
		return metrics.WebhookRejected, apperrors.Auth(apperrors.CodeInvalidSignature, "invalid signature")
	}

	if hook.Event != EventTransactionUpdated {
		s.logger.Debug("Ignoring webhook event", zap.String("event", hook.Event))
		return metrics.WebhookIgnored, nil
	}

	order, err := s.findWebhookOrder(ctx, tx.Reference)
	if err != nil {
		return metrics.WebhookFailed, err
	}
	if order == nil {
		s.logger.Info("Webhook for unknown order ignored",
			zap.String("transaction_id", tx.ID),
			zap.String("reference", tx.Reference),
		)
		return metrics.WebhookIgnored, nil
	}

	amountInCents, ok := wholeCents(amount)
	if !ok {
		s.logger.Warn("Webhook amount is not a whole number of cents",
			zap.String("transaction_id", tx.ID),
			zap.String("amount_in_cents", amount),
		)
	}
	ev := payment.GatewayEvent{
		Gateway:       payment.GatewayWompi,
		Source:        payment.SourceWebhook,
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		RawStatus:     tx.Status,
		OccurredAt:    timestamp,
		ObservedAt:    s.now(),
		Wompi: &payment.WompiDetails{
			AmountInCents:     amountInCents,
			Currency:          tx.Currency,
			CreatedAt:         tx.CreatedAt,
			FinalizedAt:       tx.FinalizedAt,
			PaymentMethodType: tx.PaymentMethodType,
		},
	}
	if _, err := s.reconciler.Apply(ctx, order.ID, ev); err != nil {
		return metrics.WebhookFailed, err
	}

	s.logger.Info("Webhook applied",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("status", tx.Status),
	)
	return metrics.WebhookProcessed, nil
}

// findWebhookOrder matches a signed webhook by stored reference first, then
// by the order id embedded in it. A signed report is applied even when the
// order has since started a newer attempt. Returns nil, nil when neither
// matches.
func (s *PaymentService) findWebhookOrder(ctx context.Context, reference string) (*models.Order, error) {
	order, err := s.orders.FindByReference(ctx, reference)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	ref, err := payment.ParseReference(reference)
	if err != nil {
		return nil, nil
	}
	order, err = s.orders.GetByID(ctx, ref.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return order, nil
}

// HandleGatewayEvent reconciles an event relayed over the event stream. The
// order is found by reference when the event has one, else by order id.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, ev payment.GatewayEvent) (*models.Order, error) {
	orderID := ev.OrderID
	if ev.Reference != "" {
		order, err := s.findWebhookOrder(ctx, ev.Reference)
		if err != nil {
			return nil, err
		}
		if order != nil {
			orderID = order.ID
		}
	}
	if orderID == "" {
		return nil, orderNotFound()
	}

	if ev.Source == "" {
		ev.Source = payment.SourceStream
	}
	return s.reconciler.Apply(ctx, orderID, ev)
}

// CreatePayPalPayment opens a PayPal order for the local order and stores
// its id for the later capture.
func (s *PaymentService) CreatePayPalPayment(ctx context.Context, userID, orderID string) (*clients.PayPalOrder, error) {
	s.logger.Debug("Creating PayPal payment", zap.String("order_id", orderID), zap.String("user_id", userID))

	order, err := loadOwnedOrder(repository.WithoutCache(ctx), s.orders, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "order is already paid").With("order", order)
	}

	start := time.Now()
	ppOrder, err := s.paypal.CreateOrder(ctx, clients.PayPalOrderRequest{OrderID: order.ID, Total: order.Total})
	s.metrics.ObserveGateway(string(payment.GatewayPayPal), "create_order", start, err)
	if err != nil {
		s.logger.Error("PayPal order creation failed", zap.String("order_id", order.ID), zap.Error(err))
		if gwErr, ok := clients.AsGatewayError(err); ok {
			return nil, apperrors.Upstream(apperrors.CodePayPalError, gwErr.Message).Wrap(err)
		}
		return nil, apperrors.Upstream(apperrors.CodePayPalError, "PayPal order creation failed").Wrap(err)
	}

	if _, err := s.orders.AttachPayPalOrderID(ctx, order.ID, ppOrder.ID); err != nil {
		s.logger.Error("Failed to store PayPal order id",
			zap.String("order_id", order.ID),
			zap.String("paypal_order_id", ppOrder.ID),
			zap.Error(err),
		)
		return nil, apperrors.Internal(err)
	}

	s.logger.Info("PayPal payment created",
		zap.String("order_id", order.ID),
		zap.String("paypal_order_id", ppOrder.ID),
	)
	return ppOrder, nil
}

// CapturePayPalPayment captures the PayPal order stored on the local order.
// Preconditions are checked in order: the order exists, it is not paid yet,
// it holds a PayPal order id.
func (s *PaymentService) CapturePayPalPayment(ctx context.Context, userID, orderID string) (*CaptureResult, error) {
	s.logger.Debug("Capturing PayPal payment", zap.String("order_id", orderID), zap.String("user_id", userID))

	order, err := loadOwnedOrder(repository.WithoutCache(ctx), s.orders, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, "order is already paid").
			WithStatus(http.StatusBadRequest).
			With("order", order)
	}
	if order.PayPalOrderID == "" {
		return nil, apperrors.Conflict(apperrors.CodeNoPayPalOrderID, "order has no PayPal order id").
			WithStatus(http.StatusBadRequest).
			With("order", order)
	}

	start := time.Now()
	capture, err := s.paypal.CaptureOrder(ctx, order.PayPalOrderID)
	s.metrics.ObserveGateway(string(payment.GatewayPayPal), "capture_order", start, err)
	if err != nil {
		s.logger.Error("PayPal capture failed",
			zap.String("order_id", order.ID),
			zap.String("paypal_order_id", order.PayPalOrderID),
			zap.Error(err),
		)
		return nil, captureError(err)
	}

	updated, err := s.reconciler.Apply(ctx, order.ID, capture.Event(order.ID))
	if err != nil {
		return nil, err
	}

	s.logger.Info("PayPal payment captured",
		zap.String("order_id", order.ID),
		zap.String("paypal_status", capture.Status),
		zap.String("status", string(updated.Status)),
	)
	return &CaptureResult{Status: updated.Status, Order: updated, Capture: capture}, nil
}

func captureError(err error) error {
	gwErr, ok := clients.AsGatewayError(err)
	if !ok {
		if errors.Is(err, clients.ErrInvalidResponse) {
			return apperrors.Upstream(apperrors.CodeInvalidResponse, "invalid response from PayPal").Wrap(err)
		}
		return apperrors.Internal(err)
	}

	switch {
	case gwErr.StatusCode == http.StatusNotFound:
		return apperrors.NotFound(apperrors.CodePaymentNotFound, "PayPal order not found").
			Wrap(err).With("details", gwErr.Message)
	case gwErr.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.Conflict(apperrors.CodePaymentAlreadyCaptured, "payment was already captured").
			WithStatus(http.StatusUnprocessableEntity).
			Wrap(err).With("details", gwErr.Message)
	case gwErr.Name == "RESOURCE_NOT_FOUND":
		return apperrors.Validation(apperrors.CodeInvalidPayPalOrder, "invalid or unknown PayPal order id").
			Wrap(err).With("details", gwErr.Message)
	}
	return apperrors.Internal(err)
}

func wompiConfigError() *apperrors.Error {
	return apperrors.Misconfigured(apperrors.CodeWompiConfig, "Wompi is not configured")
}

// rawText renders a JSON scalar the way it is concatenated into the webhook
// checksum: strings without quotes, numbers as sent.
// wholeCents reads a JSON number of cents. 10000.0 is accepted as 10000;
// fractional or unparsable amounts report false and are truncated or zero.
func wholeCents(raw string) (int64, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return d.IntPart(), d.IsInteger()
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
