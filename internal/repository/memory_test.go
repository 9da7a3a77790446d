package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

func newTestOrder(id, userID string, created time.Time) *models.Order {
	return &models.Order{
		ID:     id,
		UserID: userID,
		Items: []models.OrderItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: decimal.RequireFromString("50.00"), Quantity: 2},
		},
		Total:          decimal.RequireFromString("100.00"),
		PaymentMethod:  models.PaymentMethodWompi,
		Status:         models.OrderStatusPending,
		PaymentDetails: models.PaymentDetails{},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestMemoryOrderStore_CreateAndGet(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()

	order := newTestOrder("o1", "u1", time.Now())
	require.NoError(t, store.Create(ctx, order))

	got, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	// callers get copies
	got.Status = models.OrderStatusApproved
	again, _ := store.GetByID(ctx, "o1")
	assert.Equal(t, models.OrderStatusPending, again.Status)

	_, err = store.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryOrderStore_FindByReference(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()

	order := newTestOrder("o1", "u1", time.Now())
	order.WompiReference = "order-o1-1700000000000"
	require.NoError(t, store.Create(ctx, order))

	got, err := store.FindByReference(ctx, "order-o1-1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	_, err = store.FindByReference(ctx, "order-o1-1700000000001")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindByReference(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOrderStore_ListByUserNewestFirst(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Create(ctx, newTestOrder("a", "u1", base.Add(-2*time.Hour))))
	require.NoError(t, store.Create(ctx, newTestOrder("b", "u1", base)))
	require.NoError(t, store.Create(ctx, newTestOrder("c", "u1", base.Add(-time.Hour))))
	require.NoError(t, store.Create(ctx, newTestOrder("d", "u2", base)))

	orders, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})

	empty, err := store.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryOrderStore_ApplyPaymentUpdate(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()

	order := newTestOrder("o1", "u1", time.Now())
	order.PaymentDetails = models.PaymentDetails{"paymentMethod": "wompi", "note": "keep"}
	require.NoError(t, store.Create(ctx, order))

	paid := time.Now()
	prev, updated, err := store.ApplyPaymentUpdate(ctx, "o1", func(current *models.Order) (models.PaymentUpdate, error) {
		assert.Equal(t, models.OrderStatusPending, current.Status)
		return models.PaymentUpdate{
			Status:  models.OrderStatusApproved,
			PaidAt:  &paid,
			Details: models.PaymentDetails{"wompiTransactionId": "tx1"},
			At:      paid,
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, prev)
	assert.Equal(t, models.OrderStatusApproved, updated.Status)
	assert.Equal(t, "keep", updated.PaymentDetails.String("note"))
	assert.Equal(t, "tx1", updated.PaymentDetails.String("wompiTransactionId"))

	later := paid.Add(time.Hour)
	_, again, err := store.ApplyPaymentUpdate(ctx, "o1", func(current *models.Order) (models.PaymentUpdate, error) {
		return models.PaymentUpdate{Status: models.OrderStatusApproved, PaidAt: &later, At: later}, nil
	})
	require.NoError(t, err)
	assert.True(t, again.PaidAt.Equal(paid), "existing paidAt is kept")

	_, failed, err := store.ApplyPaymentUpdate(ctx, "o1", func(current *models.Order) (models.PaymentUpdate, error) {
		return models.PaymentUpdate{Status: models.OrderStatusFailed, At: later}, nil
	})
	require.NoError(t, err)
	assert.Nil(t, failed.PaidAt)
}

func TestMemoryOrderStore_ApplyPaymentUpdateAbort(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestOrder("o1", "u1", time.Now())))

	boom := errors.New("refused")
	_, _, err := store.ApplyPaymentUpdate(ctx, "o1", func(current *models.Order) (models.PaymentUpdate, error) {
		return models.PaymentUpdate{}, boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := store.GetByID(ctx, "o1")
	assert.Equal(t, models.OrderStatusPending, got.Status)

	_, _, err = store.ApplyPaymentUpdate(ctx, "missing", func(current *models.Order) (models.PaymentUpdate, error) {
		t.Error("decider must not run for a missing order")
		return models.PaymentUpdate{}, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOrderStore_ConcurrentUpdatesMergeDetails(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestOrder("o1", "u1", time.Now())))

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _, err := store.ApplyPaymentUpdate(ctx, "o1", func(current *models.Order) (models.PaymentUpdate, error) {
				return models.PaymentUpdate{
					Status:  models.OrderStatusPending,
					Details: models.PaymentDetails{k: true},
					At:      time.Now(),
				}, nil
			})
			assert.NoError(t, err)
		}(k)
	}
	wg.Wait()

	got, _ := store.GetByID(ctx, "o1")
	for _, k := range keys {
		assert.Contains(t, got.PaymentDetails, k)
	}
}

func TestMemoryOrderStore_AttachPayPalOrderID(t *testing.T) {
	store := NewMemoryOrderStore(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestOrder("o1", "u1", time.Now())))

	got, err := store.AttachPayPalOrderID(ctx, "o1", "5O190127TN364715T")
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", got.PayPalOrderID)

	_, err = store.AttachPayPalOrderID(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
