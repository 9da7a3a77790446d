package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the canonical order payment state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// IsValid reports whether s is one of the canonical statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// PaymentMethod identifies the gateway an order is paid through.
type PaymentMethod string

const (
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodWompi  PaymentMethod = "wompi"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodPayPal || m == PaymentMethodWompi
}

// OrderItem is a line item snapshot taken when the order was submitted.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// PaymentDetails accumulates gateway-reported fields. Updates are merged
// key by key.
type PaymentDetails map[string]interface{}

// Merge returns a copy of d with every key of update written over it.
func (d PaymentDetails) Merge(update PaymentDetails) PaymentDetails {
	merged := make(PaymentDetails, len(d)+len(update))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// String returns the value of key when it holds a non-empty string.
func (d PaymentDetails) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Order is a customer order as stored by the payments service.
type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Items          []OrderItem     `json:"items"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	Status         OrderStatus     `json:"status"`
	PaidAt         *time.Time      `json:"paidAt"`
	WompiReference string          `json:"wompiReference,omitempty"`
	PayPalOrderID  string          `json:"paypalOrderId,omitempty"`
	PaymentDetails PaymentDetails  `json:"paymentDetails"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsPaid reports whether the order has an approved payment.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusApproved
}

// Clone returns a deep copy of the order's mutable parts.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.PaymentDetails = PaymentDetails{}.Merge(o.PaymentDetails)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// PaymentUpdate is the fully computed change a reconciliation applies to an
// order. PaidAt nil clears the paid timestamp; non-nil sets it unless one is
// already stored. A non-empty WompiReference starts a new payment attempt.
type PaymentUpdate struct {
	Status         OrderStatus
	PaidAt         *time.Time
	Details        PaymentDetails
	WompiReference string
	At             time.Time
}

// Apply writes u onto o with the same semantics the stores use.
func (u PaymentUpdate) Apply(o *Order) {
	o.Status = u.Status
	if u.WompiReference != "" {
		o.WompiReference = u.WompiReference
	}
	if u.PaidAt == nil {
		o.PaidAt = nil
	} else if o.PaidAt == nil {
		t := *u.PaidAt
		o.PaidAt = &t
	}
	o.PaymentDetails = o.PaymentDetails.Merge(u.Details)
	o.UpdatedAt = u.At
}

// Changes reports whether applying u would alter anything on o besides
// UpdatedAt. Detail values are compared by their JSON encoding, which is how
// they are stored; an int64 sent now and the float64 read back from jsonb
// are the same value.
func (u PaymentUpdate) Changes(o *Order) bool {
	if u.Status != o.Status {
		return true
	}
	if u.WompiReference != "" && u.WompiReference != o.WompiReference {
		return true
	}
	if (u.PaidAt == nil) != (o.PaidAt == nil) {
		return true
	}
	for k, v := range u.Details {
		current, ok := o.PaymentDetails[k]
		if !ok || !sameJSON(current, v) {
			return true
		}
	}
	return false
}

func sameJSON(a, b interface{}) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// CreateOrderRequest is the order submission payload.
type CreateOrderRequest struct {
	Items         []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
	Total         decimal.Decimal   `json:"total"`
	PaymentMethod PaymentMethod     `json:"paymentMethod" validate:"required,oneof=paypal wompi"`
}

// CreateOrderItem accepts either `_id` or `productId` for the product.
type CreateOrderItem struct {
	ID        string          `json:"_id"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
}

// Customer is the buyer data a checkout needs.
type Customer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	PhonePrefix string `json:"phonePrefix,omitempty"`
}
