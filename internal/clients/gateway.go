package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
)

var (
	// ErrTransactionNotFound is returned when the gateway confirms it has no
	// transaction for the requested id or reference.
	ErrTransactionNotFound = errors.New("transaction not found at gateway")
	// ErrInvalidResponse is returned when a gateway answers 2xx with a body
	// that lacks the fields we need.
	ErrInvalidResponse = errors.New("invalid gateway response")
)

// GatewayError is a non-2xx answer from a payment gateway.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Name       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s returned status %d (%s): %s", e.Gateway, e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Gateway, e.StatusCode, e.Message)
}

// AsGatewayError extracts a *GatewayError from err's chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

func setHeaders(ctx context.Context, req *http.Request, bearer string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}
