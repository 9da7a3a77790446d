package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

func TestGatewayEvent_WompiWebhookDetails(t *testing.T) {
	ev := GatewayEvent{
		Gateway:       GatewayWompi,
		Source:        SourceWebhook,
		TransactionID: "tx1",
		Reference:     "order-abc-1700000000000",
		RawStatus:     "APPROVED",
		OccurredAt:    "1700000001",
		ObservedAt:    time.Now(),
	}

	assert.Equal(t, models.OrderStatusApproved, ev.Status())

	d := ev.Details()
	assert.Equal(t, "tx1", d["wompiTransactionId"])
	assert.Equal(t, "wompi", d["paymentMethod"])
	assert.Equal(t, "1700000001", d["wompiEventTimestamp"])
	_, hasLastChecked := d["lastChecked"]
	assert.False(t, hasLastChecked, "webhook details must not depend on delivery time")

	// same event observed later contributes identical details
	later := ev
	later.ObservedAt = ev.ObservedAt.Add(time.Minute)
	assert.Equal(t, d, later.Details())
}

func TestGatewayEvent_PollingDetails(t *testing.T) {
	observed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := GatewayEvent{
		Gateway:       GatewayWompi,
		Source:        SourcePolling,
		TransactionID: "1115885-1700000000-12345",
		Reference:     "order-abc-1700000000000",
		RawStatus:     "DECLINED",
		ObservedAt:    observed,
		Wompi: &WompiDetails{
			AmountInCents:     10000,
			Currency:          "COP",
			PaymentMethodType: "NEQUI",
		},
	}

	assert.Equal(t, models.OrderStatusFailed, ev.Status())

	d := ev.Details()
	assert.Equal(t, "2024-01-02T03:04:05Z", d["lastChecked"])
	wd, ok := d["wompiDetails"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "DECLINED", wd["status"])
	assert.Equal(t, int64(10000), wd["amount_in_cents"])
	assert.Equal(t, "NEQUI", wd["payment_method_type"])
}

func TestGatewayEvent_PayPalDetails(t *testing.T) {
	ev := GatewayEvent{
		Gateway:       GatewayPayPal,
		Source:        SourceCapture,
		TransactionID: "5O190127TN364715T",
		RawStatus:     "COMPLETED",
		PayPal:        &PayPalDetails{CreateTime: "2024-01-01T00:00:00Z"},
	}

	assert.Equal(t, models.OrderStatusApproved, ev.Status())

	d := ev.Details()
	assert.Equal(t, "paypal", d["paymentMethod"])
	assert.Equal(t, "5O190127TN364715T", d["paypalOrderId"])
	assert.Equal(t, "COMPLETED", d["paypalStatus"])
	assert.Contains(t, d, "paypalDetails")
	assert.NotContains(t, d, "wompiTransactionId")

	ev.RawStatus = "PENDING"
	ev.PayPal.Status = "APPROVED"
	assert.Equal(t, models.OrderStatusPending, ev.Status())
	assert.Equal(t, "APPROVED", ev.Details()["paypalStatus"])
}

func TestGatewayEvent_JSON(t *testing.T) {
	raw := `{"gateway":"wompi","source":"stream","transactionId":"tx9","reference":"order-abc-1","status":"VOIDED","observedAt":"2024-01-01T00:00:00Z"}`

	var ev GatewayEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, GatewayWompi, ev.Gateway)
	assert.Equal(t, SourceStream, ev.Source)
	assert.Equal(t, models.OrderStatusCancelled, ev.Status())
	assert.Nil(t, ev.Wompi)
}
