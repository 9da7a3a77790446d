package repository

import (
	"context"
	"errors"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order not found")

// PaymentDecider computes the update to apply from the order as currently
// stored. It runs inside the store's critical section; returning an error
// aborts the update and leaves the order unchanged.
type PaymentDecider func(current *models.Order) (models.PaymentUpdate, error)

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// FindByReference returns the order whose stored Wompi reference equals
	// reference exactly.
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	// ListByUser returns a user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Order, error)
	AttachPayPalOrderID(ctx context.Context, id, paypalOrderID string) (*models.Order, error)
	// ApplyPaymentUpdate reads the order, asks decide for the update and
	// writes it as one atomic step. It returns the status the order had
	// before the update together with the updated order.
	ApplyPaymentUpdate(ctx context.Context, id string, decide PaymentDecider) (models.OrderStatus, *models.Order, error)
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
	GetByUserID(ctx context.Context, userID string) ([]*models.Order, error)
	SetByUserID(ctx context.Context, userID string, orders []*models.Order) error
	InvalidateByUserID(ctx context.Context, userID string) error
}
