package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
)

// ResolutionKind says which lookup step matched a reference.
type ResolutionKind string

const (
	// ResolvedDirect: an order stores the reference.
	ResolvedDirect ResolutionKind = "direct"
	// ResolvedByTransaction: the reference was a Wompi transaction id whose
	// own reference is stored on an order.
	ResolvedByTransaction ResolutionKind = "transaction"
	// ResolvedEmbedded: the order id embedded in the reference matched and
	// the order stores the same reference.
	ResolvedEmbedded ResolutionKind = "embedded"
	// ResolvedStoredTransaction: the embedded order id matched an order with
	// a newer reference, and the transaction id stored on it was fetched.
	ResolvedStoredTransaction ResolutionKind = "stored-transaction"
	// ResolvedReferenceMismatch: the embedded order id matched an order that
	// holds a different reference and nothing else is known.
	ResolvedReferenceMismatch ResolutionKind = "reference-mismatch"
)

// Resolution is the outcome of Resolve. Transaction is set for the kinds
// that fetched one from the gateway.
type Resolution struct {
	Kind        ResolutionKind
	Order       *models.Order
	Transaction *clients.WompiTransaction
}

// Resolver finds the local order a gateway or client supplied reference
// belongs to, trying successively weaker matches.
type Resolver struct {
	store   repository.OrderStore
	wompi   clients.WompiClient
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewResolver(store repository.OrderStore, wompi clients.WompiClient, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:   store,
		wompi:   wompi,
		metrics: m,
		logger:  logger,
	}
}

// Resolve matches reference to an order. Gateway failures never fail the
// lookup; they only skip the step that needed the gateway.
func (r *Resolver) Resolve(ctx context.Context, reference string) (*Resolution, error) {
	if reference == "" {
		return nil, apperrors.Validation(apperrors.CodeReferenceRequired, "payment reference is required")
	}

	order, err := r.findByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order != nil {
		return &Resolution{Kind: ResolvedDirect, Order: order}, nil
	}

	if payment.IsTransactionID(reference) {
		res, err := r.resolveTransaction(ctx, reference)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	ref, err := payment.ParseReference(reference)
	if err != nil {
		r.logger.Debug("Reference carries no order id", zap.String("reference", reference))
		return nil, orderNotFound()
	}

	order, err = r.store.GetByID(repository.WithoutCache(ctx), ref.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, orderNotFound()
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if order.WompiReference == reference {
		return &Resolution{Kind: ResolvedEmbedded, Order: order}, nil
	}

	if txID := order.PaymentDetails.String("wompiTransactionId"); txID != "" {
		if tx := r.fetchTransaction(ctx, txID); tx != nil {
			return &Resolution{Kind: ResolvedStoredTransaction, Order: order, Transaction: tx}, nil
		}
	}

	r.logger.Info("Reference does not match the order's current attempt",
		zap.String("reference", reference),
		zap.String("order_id", order.ID),
		zap.String("current_reference", order.WompiReference),
	)
	return &Resolution{Kind: ResolvedReferenceMismatch, Order: order}, nil
}

func (r *Resolver) resolveTransaction(ctx context.Context, transactionID string) (*Resolution, error) {
	tx := r.fetchTransaction(ctx, transactionID)
	if tx == nil || tx.Reference == "" {
		return nil, nil
	}

	order, err := r.findByReference(ctx, tx.Reference)
	if err != nil || order == nil {
		return nil, err
	}
	return &Resolution{Kind: ResolvedByTransaction, Order: order, Transaction: tx}, nil
}

// findByReference returns nil, nil when no order stores reference.
func (r *Resolver) findByReference(ctx context.Context, reference string) (*models.Order, error) {
	order, err := r.store.FindByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return order, nil
}

func (r *Resolver) fetchTransaction(ctx context.Context, transactionID string) *clients.WompiTransaction {
	if !r.wompi.CanQuery() {
		return nil
	}

	start := time.Now()
	tx, err := r.wompi.GetTransaction(ctx, transactionID)
	r.metrics.ObserveGateway(string(payment.GatewayWompi), "get_transaction", start, err)
	if err != nil {
		r.logger.Warn("Wompi transaction lookup failed",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return nil
	}
	return tx
}

func orderNotFound() *apperrors.Error {
	return apperrors.NotFound(apperrors.CodeOrderNotFound, "order not found")
}
