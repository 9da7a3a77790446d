package payment

import (
	"time"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// Gateway tags the origin of a GatewayEvent.
type Gateway string

const (
	GatewayWompi  Gateway = "wompi"
	GatewayPayPal Gateway = "paypal"
)

// Source records which path delivered an event.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePolling Source = "polling"
	SourceCapture Source = "capture"
	SourceStream  Source = "stream"
)

// GatewayEvent is a gateway status report normalised before it reaches the
// status mapper. Exactly one of the gateway-specific detail blocks is set,
// matching Gateway.
type GatewayEvent struct {
	Gateway       Gateway   `json:"gateway"`
	Source        Source    `json:"source"`
	TransactionID string    `json:"transactionId"`
	Reference     string    `json:"reference,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	RawStatus     string    `json:"status"`
	OccurredAt    string    `json:"occurredAt,omitempty"`
	ObservedAt    time.Time `json:"observedAt"`

	Wompi  *WompiDetails  `json:"wompi,omitempty"`
	PayPal *PayPalDetails `json:"paypal,omitempty"`
}

// WompiDetails carries the Wompi transaction fields kept on the order.
type WompiDetails struct {
	AmountInCents     int64  `json:"amount_in_cents"`
	Currency          string `json:"currency,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	FinalizedAt       string `json:"finalized_at,omitempty"`
	PaymentMethodType string `json:"payment_method_type,omitempty"`
	NequiID           string `json:"nequi_id,omitempty"`
}

// PayPalDetails carries the PayPal capture fields kept on the order. Status
// is the order status exactly as PayPal reported it.
type PayPalDetails struct {
	Status        string      `json:"status,omitempty"`
	Payer         interface{} `json:"payer,omitempty"`
	PurchaseUnits interface{} `json:"purchase_units,omitempty"`
	CreateTime    string      `json:"create_time,omitempty"`
	UpdateTime    string      `json:"update_time,omitempty"`
}

// Status returns the canonical status this event maps to.
func (e GatewayEvent) Status() models.OrderStatus {
	return MapStatus(e.RawStatus)
}

// Details renders the event as the paymentDetails fields it contributes.
// Polling reports carry lastChecked; webhook and stream deliveries only carry
// fields taken from the event so a redelivery merges identical values.
func (e GatewayEvent) Details() models.PaymentDetails {
	d := models.PaymentDetails{
		"paymentMethod": string(e.Gateway),
	}
	if e.Source == SourcePolling && !e.ObservedAt.IsZero() {
		d["lastChecked"] = e.ObservedAt.UTC().Format(time.RFC3339Nano)
	}

	switch e.Gateway {
	case GatewayWompi:
		if e.TransactionID != "" {
			d["wompiTransactionId"] = e.TransactionID
		}
		if e.OccurredAt != "" {
			d["wompiEventTimestamp"] = e.OccurredAt
		}
		if e.Wompi != nil {
			d["wompiDetails"] = map[string]interface{}{
				"status":              e.RawStatus,
				"amount_in_cents":     e.Wompi.AmountInCents,
				"currency":            e.Wompi.Currency,
				"created_at":          e.Wompi.CreatedAt,
				"finalized_at":        e.Wompi.FinalizedAt,
				"payment_method_type": e.Wompi.PaymentMethodType,
				"transaction_id":      e.TransactionID,
				"reference":           e.Reference,
				"nequi_id":            e.Wompi.NequiID,
			}
		}
	case GatewayPayPal:
		if e.TransactionID != "" {
			d["paypalOrderId"] = e.TransactionID
		}
		d["paypalStatus"] = e.RawStatus
		if e.PayPal != nil {
			if e.PayPal.Status != "" {
				d["paypalStatus"] = e.PayPal.Status
			}
			d["paypalDetails"] = map[string]interface{}{
				"payer":          e.PayPal.Payer,
				"purchase_units": e.PayPal.PurchaseUnits,
				"create_time":    e.PayPal.CreateTime,
				"update_time":    e.PayPal.UpdateTime,
			}
		}
	}
	return d
}
