// Package apperrors defines the error taxonomy shared by the payments
// service layers and its mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuth
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error codes returned to API callers.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeItemsRequired          = "ITEMS_REQUIRED"
	CodeTotalRequired          = "TOTAL_REQUIRED"
	CodePaymentMethodRequired  = "PAYMENT_METHOD_REQUIRED"
	CodeInvalidItem            = "INVALID_ITEM"
	CodeReferenceRequired      = "REFERENCE_REQUIRED"
	CodeCustomerDataRequired   = "CUSTOMER_DATA_REQUIRED"
	CodeOrderNotFound          = "ORDER_NOT_FOUND"
	CodeDifferentReference     = "DIFFERENT_REFERENCE"
	CodeTransactionNotFound    = "TRANSACTION_NOT_FOUND"
	CodeWompiError             = "WOMPI_ERROR"
	CodeWompiConfig            = "WOMPI_CONFIG_ERROR"
	CodePayPalError            = "PAYPAL_ERROR"
	CodeInvalidResponse        = "INVALID_RESPONSE"
	CodeOrderAlreadyPaid       = "ORDER_ALREADY_PAID"
	CodeNoPayPalOrderID        = "NO_PAYPAL_ORDER_ID"
	CodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	CodePaymentAlreadyCaptured = "PAYMENT_ALREADY_CAPTURED"
	CodeInvalidPayPalOrder     = "INVALID_PAYPAL_ORDER"
	CodeSignatureRequired      = "SIGNATURE_REQUIRED"
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeTokenRequired          = "TOKEN_REQUIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Status overrides the default HTTP status for Kind when non-zero.
	Status int
	// Payload is merged into the response body next to message and code.
	Payload map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the error should be reported with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithStatus sets an explicit HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// With attaches a response payload field.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Payload == nil {
		e.Payload = make(map[string]interface{})
	}
	e.Payload[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return newError(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return newError(KindNotFound, code, message) }
func Auth(code, message string) *Error       { return newError(KindAuth, code, message) }
func Conflict(code, message string) *Error   { return newError(KindConflict, code, message) }
func Upstream(code, message string) *Error   { return newError(KindUpstream, code, message) }

// Misconfigured reports a server-side setup problem, such as missing gateway
// keys. It maps to 500 like Internal but keeps its code and message.
func Misconfigured(code, message string) *Error { return newError(KindInternal, code, message) }

// Internal wraps an unexpected failure. The message seen by callers is generic.
func Internal(err error) *Error {
	return newError(KindInternal, CodeInternal, "internal server error").Wrap(err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, CodeInternal for unclassified errors.
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
