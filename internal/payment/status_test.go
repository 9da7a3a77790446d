package payment

import (
	"testing"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want models.OrderStatus
	}{
		{"APPROVED", models.OrderStatusApproved},
		{"COMPLETED", models.OrderStatusApproved},
		{"PAYMENT_APPROVED", models.OrderStatusApproved},
		{"REJECTED", models.OrderStatusFailed},
		{"FAILED", models.OrderStatusFailed},
		{"DECLINED", models.OrderStatusFailed},
		{"CANCELLED", models.OrderStatusCancelled},
		{"VOIDED", models.OrderStatusCancelled},
		{"PENDING", models.OrderStatusPending},
		{"", models.OrderStatusPending},
		{"UNKNOWN_X", models.OrderStatusPending},
		{"approved", models.OrderStatusPending},
		{"Completed", models.OrderStatusPending},
		{" APPROVED", models.OrderStatusPending},
		{"ERROR", models.OrderStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := MapStatus(tt.raw); got != tt.want {
				t.Errorf("MapStatus(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMapStatus_AlwaysCanonical(t *testing.T) {
	for _, raw := range []string{"CREATED", "SAVED", "PAYER_ACTION_REQUIRED", "VOIDED", "x"} {
		if !MapStatus(raw).IsValid() {
			t.Errorf("MapStatus(%q) returned a non-canonical status", raw)
		}
	}
}
