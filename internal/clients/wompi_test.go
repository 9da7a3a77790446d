package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
)

func newTestWompiClient(apiURL string) *HTTPWompiClient {
	return NewHTTPWompiClient(config.WompiConfig{
		PublicKey:       "pub_test_123",
		PrivateKey:      "prv_test_456",
		IntegritySecret: "integrity",
		APIURL:          apiURL,
		CheckoutURL:     "https://checkout.wompi.co/p/",
		RedirectURL:     "https://shop.example/payment/result",
		Currency:        "COP",
		Timeout:         2 * time.Second,
	}, zap.NewNop())
}

func TestWompiCheckoutURL(t *testing.T) {
	c := newTestWompiClient("http://unused")

	raw, err := c.CheckoutURL(CheckoutRequest{
		Reference:     "order-abc-1700000000000",
		AmountInCents: 10000,
		Customer:      models.Customer{Email: "ana@example.com", Name: "Ana Gomez"},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "checkout.wompi.co", u.Host)
	assert.Equal(t, "/p/", u.Path)

	q := u.Query()
	assert.Equal(t, "pub_test_123", q.Get("public-key"))
	assert.Equal(t, "COP", q.Get("currency"))
	assert.Equal(t, "10000", q.Get("amount-in-cents"))
	assert.Equal(t, "order-abc-1700000000000", q.Get("reference"))
	assert.Equal(t, "https://shop.example/payment/result", q.Get("redirect-url"))
	assert.Equal(t, "ana@example.com", q.Get("customer-data:email"))
	assert.Equal(t, "Ana Gomez", q.Get("customer-data:full-name"))
	assert.Empty(t, q.Get("customer-data:phone-number"))
	assert.True(t, payment.VerifyIntegrity(q.Get("signature:integrity"), "order-abc-1700000000000", 10000, "COP", "integrity"))
}

func TestWompiCanCheckout(t *testing.T) {
	c := newTestWompiClient("http://unused")
	assert.True(t, c.CanCheckout())
	assert.True(t, c.CanQuery())

	c.cfg.IntegritySecret = ""
	assert.False(t, c.CanCheckout())
	assert.True(t, c.CanQuery())
}

func TestWompiGetTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer prv_test_456" {
			t.Errorf("Expected bearer private key, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/transactions/1115885-1700000000-12345":
			w.Write([]byte(`{"data":{"id":"1115885-1700000000-12345","status":"APPROVED","reference":"order-abc-1700000000000","amount_in_cents":10000,"currency":"COP","payment_method_type":"NEQUI","payment_method_details":{"nequi_id":"n-1"}}}`))
		case "/transactions/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"NOT_FOUND_ERROR","reason":"La entidad solicitada no existe"}}`))
		case "/transactions/broken":
			w.Write([]byte(`{"data":{"id":"broken"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"type":"INVALID_ACCESS_TOKEN","reason":"Se esperaba una llave privada"}}`))
		}
	}))
	defer server.Close()

	c := newTestWompiClient(server.URL)
	ctx := context.Background()

	tx, err := c.GetTransaction(ctx, "1115885-1700000000-12345")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", tx.Status)
	assert.Equal(t, "order-abc-1700000000000", tx.Reference)
	assert.Equal(t, int64(10000), tx.AmountInCents)
	assert.Equal(t, "n-1", tx.PaymentMethodDetails.NequiID)

	_, err = c.GetTransaction(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	_, err = c.GetTransaction(ctx, "broken")
	assert.True(t, errors.Is(err, ErrInvalidResponse))

	_, err = c.GetTransaction(ctx, "other")
	gwErr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, "INVALID_ACCESS_TOKEN", gwErr.Name)
	assert.Equal(t, "Se esperaba una llave privada", gwErr.Message)
}

func TestWompiFindTransactionByReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("reference") {
		case "order-abc-1":
			w.Write([]byte(`{"data":[
				{"id":"1-1-1","status":"DECLINED","reference":"order-abc-1","created_at":"2024-01-01T10:00:00.000Z"},
				{"id":"1-1-2","status":"APPROVED","reference":"order-abc-1","created_at":"2024-01-01T10:05:00.000Z"}
			]}`))
		case "order-abc-2":
			w.Write([]byte(`{"data":[]}`))
		default:
			w.Write([]byte(`{"unexpected":true}`))
		}
	}))
	defer server.Close()

	c := newTestWompiClient(server.URL)
	ctx := context.Background()

	tx, err := c.FindTransactionByReference(ctx, "order-abc-1")
	require.NoError(t, err)
	assert.Equal(t, "1-1-2", tx.ID)
	assert.Equal(t, "APPROVED", tx.Status)

	_, err = c.FindTransactionByReference(ctx, "order-abc-2")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	_, err = c.FindTransactionByReference(ctx, "order-abc-3")
	assert.True(t, errors.Is(err, ErrInvalidResponse))
}

func TestWompiTransactionEvent(t *testing.T) {
	tx := &WompiTransaction{ID: "tx1", Status: "APPROVED", Reference: "order-abc-1", AmountInCents: 500, Currency: "COP"}

	ev := tx.Event(payment.SourcePolling)
	assert.Equal(t, payment.GatewayWompi, ev.Gateway)
	assert.Equal(t, payment.SourcePolling, ev.Source)
	assert.Equal(t, "tx1", ev.TransactionID)
	assert.Equal(t, models.OrderStatusApproved, ev.Status())
	require.NotNil(t, ev.Wompi)
	assert.Equal(t, int64(500), ev.Wompi.AmountInCents)
}
