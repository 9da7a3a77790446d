package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/service"
)

var (
	_ service.OrderEventPublisher = (*KafkaPublisher)(nil)
	_ service.OrderEventPublisher = (*MockEventPublisher)(nil)
)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated         EventType = "order.created"
	EventTypePaymentStatusChanged EventType = "order.payment_status_changed"
)

// OrderEvent is the envelope written to the orders topic.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// PaymentStatusChange is the data of an order.payment_status_changed event.
type PaymentStatusChange struct {
	Order          *models.Order      `json:"order"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, m *metrics.Metrics, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, cfg.OrdersTopic, m, logger)
}

func newKafkaPublisher(w messageWriter, topic string, m *metrics.Metrics, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		metrics: m,
		now:     time.Now,
		logger:  logger,
	}
}

// PublishOrderCreated publishes an order created event.
func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	p.logger.Debug("Publishing order created event", zap.String("order_id", order.ID))

	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	event := p.createEvent(ctx, EventTypeOrderCreated, order.ID, order.UserID, data)
	return p.publish(ctx, event)
}

// PublishPaymentStatusChanged publishes a payment status change. Messages are
// keyed by order id so one order's changes stay on one partition, in order.
func (p *KafkaPublisher) PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	p.logger.Debug("Publishing payment status changed event",
		zap.String("order_id", order.ID),
		zap.String("previous_status", string(previous)),
		zap.String("new_status", string(order.Status)),
	)

	data, err := json.Marshal(PaymentStatusChange{
		Order:          order,
		PreviousStatus: previous,
		NewStatus:      order.Status,
	})
	if err != nil {
		return err
	}

	event := p.createEvent(ctx, EventTypePaymentStatusChanged, order.ID, order.UserID, data)
	event.Metadata["payment_method"] = string(order.PaymentMethod)
	return p.publish(ctx, event)
}

func (p *KafkaPublisher) createEvent(ctx context.Context, eventType EventType, orderID, userID string, data []byte) *OrderEvent {
	return &OrderEvent{
		ID:            "evt_" + uuid.NewString(),
		Type:          eventType,
		OrderID:       orderID,
		UserID:        userID,
		Data:          data,
		Metadata:      make(map[string]string),
		Timestamp:     p.now().UTC(),
		CorrelationID: middleware.RequestIDFromContext(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		p.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		return err
	}

	p.metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
	p.logger.Info("Event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}

// MockEventPublisher records events in memory. It is used when Kafka is
// disabled and in tests.
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []*OrderEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{
		Events: make([]*OrderEvent, 0),
	}
}

func (m *MockEventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	m.record(&OrderEvent{
		Type:    EventTypeOrderCreated,
		OrderID: order.ID,
		UserID:  order.UserID,
	})
	return nil
}

func (m *MockEventPublisher) PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	m.record(&OrderEvent{
		Type:     EventTypePaymentStatusChanged,
		OrderID:  order.ID,
		UserID:   order.UserID,
		Metadata: map[string]string{"previous_status": string(previous), "new_status": string(order.Status)},
	})
	return nil
}

func (m *MockEventPublisher) record(e *OrderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
}

// Snapshot returns a copy of the recorded events.
func (m *MockEventPublisher) Snapshot() []*OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*OrderEvent(nil), m.Events...)
}
