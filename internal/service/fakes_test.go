package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
)

const (
	testIntegritySecret = "test_integrity_secret"
	testEventsSecret    = "test_events_secret"
)

func testConfig() *config.Config {
	return &config.Config{
		Wompi: config.WompiConfig{
			PublicKey:       "pub_test",
			PrivateKey:      "prv_test",
			IntegritySecret: testIntegritySecret,
			EventsSecret:    testEventsSecret,
			Currency:        "COP",
		},
		Features:  config.FeatureFlags{EnableOrderEvents: true},
		Reconcile: config.ReconcileConfig{TransitionPolicy: config.PolicyTrustLatest},
	}
}

// recordingPublisher keeps every published status change.
type recordingPublisher struct {
	mu      sync.Mutex
	created []string
	changes []statusChange
}

type statusChange struct {
	OrderID  string
	Previous models.OrderStatus
	Current  models.OrderStatus
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, order.ID)
	return nil
}

func (p *recordingPublisher) PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, statusChange{OrderID: order.ID, Previous: previous, Current: order.Status})
	return nil
}

// fakeWompi serves canned transactions.
type fakeWompi struct {
	mu         sync.Mutex
	noCheckout bool
	noQuery    bool
	byID       map[string]*clients.WompiTransaction
	byRef      map[string]*clients.WompiTransaction
	err        error
	queries    int
}

func newFakeWompi() *fakeWompi {
	return &fakeWompi{
		byID:  make(map[string]*clients.WompiTransaction),
		byRef: make(map[string]*clients.WompiTransaction),
	}
}

func (f *fakeWompi) add(tx *clients.WompiTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[tx.ID] = tx
	f.byRef[tx.Reference] = tx
}

func (f *fakeWompi) CheckoutURL(req clients.CheckoutRequest) (string, error) {
	return "https://checkout.wompi.co/p/?reference=" + req.Reference, nil
}

func (f *fakeWompi) GetTransaction(ctx context.Context, id string) (*clients.WompiTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.byID[id]
	if !ok {
		return nil, clients.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeWompi) FindTransactionByReference(ctx context.Context, reference string) (*clients.WompiTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.byRef[reference]
	if !ok {
		return nil, clients.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeWompi) CanCheckout() bool { return !f.noCheckout }
func (f *fakeWompi) CanQuery() bool    { return !f.noQuery }

// fakePayPal returns captureResult or captureErr for every capture.
type fakePayPal struct {
	createErr     error
	captureResult *clients.PayPalOrder
	captureErr    error
	captured      []string
}

func (f *fakePayPal) CreateOrder(ctx context.Context, req clients.PayPalOrderRequest) (*clients.PayPalOrder, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &clients.PayPalOrder{ID: "PP-" + req.OrderID, Status: "CREATED"}, nil
}

func (f *fakePayPal) CaptureOrder(ctx context.Context, paypalOrderID string) (*clients.PayPalOrder, error) {
	f.captured = append(f.captured, paypalOrderID)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.captureResult, nil
}

type fixture struct {
	cfg        *config.Config
	store      *repository.MemoryOrderStore
	publisher  *recordingPublisher
	metrics    *metrics.Metrics
	wompi      *fakeWompi
	paypal     *fakePayPal
	users      *clients.MockUserClient
	reconciler *Reconciler
	resolver   *Resolver
	payments   *PaymentService
	orders     *OrderService
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		cfg:       testConfig(),
		store:     repository.NewMemoryOrderStore(logger),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(nil),
		wompi:     newFakeWompi(),
		paypal:    &fakePayPal{},
		users:     clients.NewMockUserClient(),
		clock:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }

	f.reconciler = NewReconciler(f.store, f.publisher, f.metrics, f.cfg, logger)
	f.reconciler.now = now
	f.resolver = NewResolver(f.store, f.wompi, f.metrics, logger)
	f.payments = NewPaymentService(f.store, f.reconciler, f.resolver, f.wompi, f.paypal, f.users, f.metrics, f.cfg, logger)
	f.payments.now = now
	f.orders = NewOrderService(f.store, f.publisher, f.cfg, logger)
	f.orders.now = now

	f.users.AddCustomer(&models.Customer{ID: "user_1", Email: "ana@example.com", Name: "Ana Gomez"})
	return f
}

// tick advances the fixture clock.
func (f *fixture) tick(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) seedOrder(t *testing.T, id, userID string, method models.PaymentMethod) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:     id,
		UserID: userID,
		Items: []models.OrderItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: decimal.RequireFromString("100.00"), Quantity: 1},
		},
		Total:          decimal.RequireFromString("100.00"),
		PaymentMethod:  method,
		Status:         models.OrderStatusPending,
		PaymentDetails: models.PaymentDetails{},
		CreatedAt:      f.clock,
		UpdatedAt:      f.clock,
	}
	if err := f.store.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (f *fixture) get(t *testing.T, id string) *models.Order {
	t.Helper()
	order, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return order
}
