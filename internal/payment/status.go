// Package payment holds the gateway-agnostic pieces of payment
// reconciliation: status normalisation, integrity signatures, the order
// reference encoding and the unified gateway event.
package payment

import "github.com/tm-acme-shop/acme-shop-payments-service/internal/models"

var statusTable = map[string]models.OrderStatus{
	"APPROVED":         models.OrderStatusApproved,
	"COMPLETED":        models.OrderStatusApproved,
	"PAYMENT_APPROVED": models.OrderStatusApproved,
	"REJECTED":         models.OrderStatusFailed,
	"FAILED":           models.OrderStatusFailed,
	"DECLINED":         models.OrderStatusFailed,
	"CANCELLED":        models.OrderStatusCancelled,
	"VOIDED":           models.OrderStatusCancelled,
}

// MapStatus translates a raw gateway status into a canonical order status.
// Matching is exact and case-sensitive. Unknown values map to PENDING so an
// unseen gateway status never settles an order.
func MapStatus(raw string) models.OrderStatus {
	if status, ok := statusTable[raw]; ok {
		return status
	}
	return models.OrderStatusPending
}
