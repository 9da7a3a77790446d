package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// NewValidator returns the validator used for request payloads.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// ValidateCreateOrderRequest checks an order submission. The specific
// checks run first so callers get the documented error codes; the struct
// tags are a final catch-all.
func ValidateCreateOrderRequest(v *validator.Validate, req *models.CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return apperrors.Validation(apperrors.CodeItemsRequired, "at least one item is required")
	}

	if !req.Total.IsPositive() {
		return apperrors.Validation(apperrors.CodeTotalRequired, "total is required and must be a positive number")
	}

	if req.PaymentMethod == "" {
		return apperrors.Validation(apperrors.CodePaymentMethodRequired, "payment method is required")
	}
	if !req.PaymentMethod.IsValid() {
		return apperrors.Validation(apperrors.CodeValidation, "payment method must be paypal or wompi").
			With("field", "paymentMethod")
	}

	for i := range req.Items {
		if err := validateOrderItem(&req.Items[i], i); err != nil {
			return err
		}
	}

	if err := v.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

func validateOrderItem(item *models.CreateOrderItem, index int) error {
	invalid := func(msg string) error {
		return apperrors.Validation(apperrors.CodeInvalidItem, msg).With("index", index)
	}

	if item.ID == "" && item.ProductID == "" {
		return invalid("product id is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return invalid("product name is required")
	}
	if !item.Price.IsPositive() {
		return invalid("product price is required and must be positive")
	}
	if item.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validation(apperrors.CodeValidation, err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperrors.Validation(apperrors.CodeValidation, "invalid order").With("fields", fields)
}
