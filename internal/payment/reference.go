package payment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Order references have the shape <prefix>-<orderId>-<unixMillis>. The
// delimiter is reserved: order ids must not contain it, otherwise the
// embedded id cannot be recovered.
const (
	ReferencePrefix    = "order"
	ReferenceDelimiter = "-"
)

var (
	ErrMalformedReference = errors.New("malformed order reference")
	ErrInvalidOrderID     = errors.New("order id contains the reference delimiter")
)

// transactionIDPattern matches Wompi transaction ids, e.g.
// 1115885-1700000000-12345.
var transactionIDPattern = regexp.MustCompile(`^[0-9]+-[0-9]+-[0-9]+$`)

// Reference is a decoded order reference. Suffix is the raw last token;
// IssuedAt is only set when that token is a millisecond timestamp.
type Reference struct {
	Prefix   string
	OrderID  string
	Suffix   string
	IssuedAt time.Time
}

// String encodes the reference.
func (r Reference) String() string {
	suffix := r.Suffix
	if suffix == "" {
		suffix = strconv.FormatInt(r.IssuedAt.UnixMilli(), 10)
	}
	return strings.Join([]string{r.Prefix, r.OrderID, suffix}, ReferenceDelimiter)
}

// NewReference builds a fresh reference for a payment attempt on orderID.
func NewReference(orderID string, at time.Time) (Reference, error) {
	if orderID == "" || strings.Contains(orderID, ReferenceDelimiter) {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, orderID)
	}
	return Reference{
		Prefix:   ReferencePrefix,
		OrderID:  orderID,
		IssuedAt: time.UnixMilli(at.UnixMilli()),
	}, nil
}

// ParseReference decodes s. Neither the prefix nor the suffix is checked so
// references minted by older clients (order-<id>-retry) still resolve to
// their order, but exactly three non-empty tokens are required.
func ParseReference(s string) (Reference, error) {
	parts := strings.Split(s, ReferenceDelimiter)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	ref := Reference{
		Prefix:  parts[0],
		OrderID: parts[1],
		Suffix:  parts[2],
	}
	if millis, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
		ref.IssuedAt = time.UnixMilli(millis)
	}
	return ref, nil
}

// IsTransactionID reports whether s has the shape of a Wompi transaction id
// rather than a locally minted reference.
func IsTransactionID(s string) bool {
	return transactionIDPattern.MatchString(s)
}
