package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
)

// OrderService handles order submission and lookup.
type OrderService struct {
	orders    repository.OrderStore
	publisher OrderEventPublisher
	validate  *validator.Validate
	config    *config.Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orders repository.OrderStore,
	publisher OrderEventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:    orders,
		publisher: publisher,
		validate:  NewValidator(),
		config:    cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// NewOrderID returns a fresh order id. Ids are dashless so they can be
// embedded in payment references.
func NewOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateOrder stores a new PENDING order for userID.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *models.CreateOrderRequest) (*models.Order, error) {
	s.logger.Info("Creating order",
		zap.String("user_id", userID),
		zap.Int("item_count", len(req.Items)),
	)

	if err := ValidateCreateOrderRequest(s.validate, req); err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID := item.ID
		if productID == "" {
			productID = item.ProductID
		}
		items = append(items, models.OrderItem{
			ProductID: productID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		})
	}

	// the submitted total is authoritative; a mismatch is only reported
	if subtotal := ItemsSubtotal(items); !subtotal.Equal(req.Total) {
		s.logger.Warn("Order total differs from item subtotal",
			zap.String("user_id", userID),
			zap.String("total", req.Total.StringFixed(2)),
			zap.String("subtotal", subtotal.StringFixed(2)),
		)
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:             NewOrderID(),
		UserID:         userID,
		Items:          items,
		Total:          req.Total,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.OrderStatusPending,
		PaymentDetails: models.PaymentDetails{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to create order", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}

	if s.config.Features.EnableOrderEvents && s.publisher != nil {
		if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
			s.logger.Error("Failed to publish order created event",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("payment_method", string(order.PaymentMethod)),
	)
	return order, nil
}

// ListUserOrders returns the user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	s.logger.Debug("Listing orders", zap.String("user_id", userID))

	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}
	return orders, nil
}

// GetOrder returns one of the user's orders. Orders owned by someone else
// are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	return loadOwnedOrder(ctx, s.orders, userID, orderID)
}

func loadOwnedOrder(ctx context.Context, orders repository.OrderStore, userID, orderID string) (*models.Order, error) {
	order, err := orders.GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, orderNotFound()
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if userID != "" && order.UserID != userID {
		return nil, orderNotFound()
	}
	return order, nil
}
