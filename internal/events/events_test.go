package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_PaymentStatusChanged(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.New(nil)
	p := newKafkaPublisher(w, "orders.payment-status", m, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	order := &models.Order{ID: "o1", UserID: "u1", Status: models.OrderStatusApproved, PaymentMethod: models.PaymentMethodWompi}
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	require.NoError(t, p.PublishPaymentStatusChanged(ctx, order, models.OrderStatusPending))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "o1", string(msg.Key))
	assert.Equal(t, kafka.Header{Key: "event_type", Value: []byte("order.payment_status_changed")}, msg.Headers[0])

	var event OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, EventTypePaymentStatusChanged, event.Type)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "req-42", event.CorrelationID)
	assert.Equal(t, "wompi", event.Metadata["payment_method"])
	assert.Contains(t, event.ID, "evt_")

	var change PaymentStatusChange
	require.NoError(t, json.Unmarshal(event.Data, &change))
	assert.Equal(t, models.OrderStatusPending, change.PreviousStatus)
	assert.Equal(t, models.OrderStatusApproved, change.NewStatus)
	assert.Equal(t, "o1", change.Order.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(string(EventTypePaymentStatusChanged), "ok")))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	m := metrics.New(nil)
	p := newKafkaPublisher(w, "orders.payment-status", m, zap.NewNop())

	err := p.PublishOrderCreated(context.Background(), &models.Order{ID: "o1"})
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(string(EventTypeOrderCreated), "error")))
}

func TestMockEventPublisher(t *testing.T) {
	p := NewMockEventPublisher()
	order := &models.Order{ID: "o1", Status: models.OrderStatusFailed}

	require.NoError(t, p.PublishOrderCreated(context.Background(), order))
	require.NoError(t, p.PublishPaymentStatusChanged(context.Background(), order, models.OrderStatusPending))

	events := p.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeOrderCreated, events[0].Type)
	assert.Equal(t, "PENDING", events[1].Metadata["previous_status"])
}

type fakeReader struct {
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type recordingHandler struct {
	events []payment.GatewayEvent
	err    error
}

func (h *recordingHandler) HandleGatewayEvent(ctx context.Context, ev payment.GatewayEvent) (*models.Order, error) {
	h.events = append(h.events, ev)
	if h.err != nil {
		return nil, h.err
	}
	return &models.Order{ID: ev.OrderID, Status: ev.Status()}, nil
}

func message(offset int64, v interface{}) kafka.Message {
	var value []byte
	switch b := v.(type) {
	case string:
		value = []byte(b)
	default:
		value, _ = json.Marshal(v)
	}
	return kafka.Message{Topic: "payments.gateway-events", Offset: offset, Value: value}
}

func TestKafkaConsumer_HandlesAndCommits(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		message(1, payment.GatewayEvent{Gateway: payment.GatewayPayPal, OrderID: "o1", RawStatus: "COMPLETED"}),
		message(2, "{broken"),
		message(3, payment.GatewayEvent{Gateway: payment.GatewayWompi, TransactionID: "tx1"}),
		message(4, payment.GatewayEvent{Gateway: payment.GatewayWompi, Reference: "order-o2-1", RawStatus: "DECLINED"}),
	}}
	h := &recordingHandler{}
	c := newKafkaConsumer(r, h, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))

	require.Len(t, h.events, 2)
	assert.Equal(t, "o1", h.events[0].OrderID)
	assert.Equal(t, "order-o2-1", h.events[1].Reference)
	assert.Equal(t, []int64{1, 2, 3, 4}, r.committed)
}

func TestKafkaConsumer_HandlerErrorsAreCommitted(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		message(7, payment.GatewayEvent{Gateway: payment.GatewayWompi, OrderID: "missing", RawStatus: "APPROVED"}),
	}}
	h := &recordingHandler{err: apperrors.NotFound(apperrors.CodeOrderNotFound, "order not found")}
	c := newKafkaConsumer(r, h, zap.NewNop())

	require.NoError(t, c.Start(context.Background()))
	assert.Len(t, h.events, 1)
	assert.Equal(t, []int64{7}, r.committed)
}

func TestKafkaConsumer_Stop(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		message(1, payment.GatewayEvent{OrderID: "o1", RawStatus: "APPROVED"}),
	}}
	h := &recordingHandler{}
	c := newKafkaConsumer(r, h, zap.NewNop())

	c.Stop()
	c.Stop()
	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, h.events)
}

// failingReader fails every fetch.
type failingReader struct {
	fetches int32
}

func (r *failingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	atomic.AddInt32(&r.fetches, 1)
	return kafka.Message{}, errors.New("broker unreachable")
}

func (r *failingReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error { return nil }

func (r *failingReader) Close() error { return nil }

func TestKafkaConsumer_BacksOffAfterFetchError(t *testing.T) {
	r := &failingReader{}
	c := newKafkaConsumer(r, &recordingHandler{}, zap.NewNop())
	c.retryBackoff = time.Hour

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.fetches) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.fetches), "fetch must wait for the backoff")

	c.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop during backoff")
	}
}

func TestKafkaConsumer_BackoffHonoursContext(t *testing.T) {
	r := &failingReader{}
	c := newKafkaConsumer(r, &recordingHandler{}, zap.NewNop())
	c.retryBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.fetches) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not return after cancel")
	}
}
