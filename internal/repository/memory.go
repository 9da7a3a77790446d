package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// MemoryOrderStore keeps orders in process memory. Every read and write
// works on copies, so callers never share state with the store.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	logger *zap.Logger
}

// NewMemoryOrderStore creates an empty in-memory store.
func NewMemoryOrderStore(logger *zap.Logger) *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*models.Order),
		logger: logger,
	}
}

func (s *MemoryOrderStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = order.Clone()
	s.logger.Debug("Order stored", zap.String("order_id", order.ID))
	return nil
}

func (s *MemoryOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (s *MemoryOrderStore) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	if reference == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.WompiReference == reference {
			return order.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryOrderStore) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]*models.Order, 0)
	for _, order := range s.orders {
		if order.UserID == userID {
			orders = append(orders, order.Clone())
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryOrderStore) AttachPayPalOrderID(ctx context.Context, id, paypalOrderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	order.PayPalOrderID = paypalOrderID
	order.UpdatedAt = time.Now().UTC()
	return order.Clone(), nil
}

func (s *MemoryOrderStore) ApplyPaymentUpdate(ctx context.Context, id string, decide PaymentDecider) (models.OrderStatus, *models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return "", nil, ErrNotFound
	}

	update, err := decide(order.Clone())
	if err != nil {
		return "", nil, err
	}

	previous := order.Status
	next := order.Clone()
	update.Apply(next)
	s.orders[id] = next

	return previous, next.Clone(), nil
}
