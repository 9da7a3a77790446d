package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
)

// WompiClient is the Wompi gateway adapter.
type WompiClient interface {
	// CheckoutURL builds the hosted checkout redirect for a payment attempt.
	CheckoutURL(req CheckoutRequest) (string, error)
	GetTransaction(ctx context.Context, transactionID string) (*WompiTransaction, error)
	// FindTransactionByReference returns the most recent transaction created
	// for reference.
	FindTransactionByReference(ctx context.Context, reference string) (*WompiTransaction, error)
	// CanCheckout reports whether keys for checkout signing are configured.
	CanCheckout() bool
	// CanQuery reports whether the private API key is configured.
	CanQuery() bool
}

// CheckoutRequest is one Wompi payment attempt.
type CheckoutRequest struct {
	Reference     string
	AmountInCents int64
	Customer      models.Customer
}

// WompiTransaction is the subset of a Wompi transaction we reconcile on.
type WompiTransaction struct {
	ID                   string                 `json:"id"`
	Status               string                 `json:"status"`
	Reference            string                 `json:"reference"`
	AmountInCents        int64                  `json:"amount_in_cents"`
	Currency             string                 `json:"currency"`
	CreatedAt            string                 `json:"created_at"`
	FinalizedAt          string                 `json:"finalized_at"`
	PaymentMethodType    string                 `json:"payment_method_type"`
	PaymentMethod        map[string]interface{} `json:"payment_method,omitempty"`
	PaymentMethodDetails struct {
		NequiID string `json:"nequi_id,omitempty"`
	} `json:"payment_method_details"`
}

// Event converts the transaction into a gateway event.
func (t *WompiTransaction) Event(source payment.Source) payment.GatewayEvent {
	return payment.GatewayEvent{
		Gateway:       payment.GatewayWompi,
		Source:        source,
		TransactionID: t.ID,
		Reference:     t.Reference,
		RawStatus:     t.Status,
		Wompi: &payment.WompiDetails{
			AmountInCents:     t.AmountInCents,
			Currency:          t.Currency,
			CreatedAt:         t.CreatedAt,
			FinalizedAt:       t.FinalizedAt,
			PaymentMethodType: t.PaymentMethodType,
			NequiID:           t.PaymentMethodDetails.NequiID,
		},
	}
}

type wompiErrorBody struct {
	Error struct {
		Type     string      `json:"type"`
		Reason   string      `json:"reason"`
		Message  string      `json:"message"`
		Messages interface{} `json:"messages"`
	} `json:"error"`
}

// HTTPWompiClient implements WompiClient against the Wompi REST API.
type HTTPWompiClient struct {
	cfg        config.WompiConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPWompiClient creates a Wompi client from configuration.
func NewHTTPWompiClient(cfg config.WompiConfig, logger *zap.Logger) *HTTPWompiClient {
	return &HTTPWompiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *HTTPWompiClient) CanCheckout() bool {
	return c.cfg.PublicKey != "" && c.cfg.PrivateKey != "" && c.cfg.IntegritySecret != ""
}

func (c *HTTPWompiClient) CanQuery() bool {
	return c.cfg.PrivateKey != ""
}

func (c *HTTPWompiClient) CheckoutURL(req CheckoutRequest) (string, error) {
	base, err := url.Parse(c.cfg.CheckoutURL)
	if err != nil {
		return "", fmt.Errorf("parse checkout url: %w", err)
	}

	params := url.Values{}
	params.Set("public-key", c.cfg.PublicKey)
	params.Set("currency", c.cfg.Currency)
	params.Set("amount-in-cents", strconv.FormatInt(req.AmountInCents, 10))
	params.Set("reference", req.Reference)
	params.Set("redirect-url", c.cfg.RedirectURL)
	params.Set("signature:integrity", payment.IntegritySignature(req.Reference, req.AmountInCents, c.cfg.Currency, c.cfg.IntegritySecret))
	params.Set("customer-data:email", req.Customer.Email)
	params.Set("customer-data:full-name", req.Customer.Name)
	if req.Customer.Phone != "" {
		params.Set("customer-data:phone-number", req.Customer.Phone)
		params.Set("customer-data:phone-number-prefix", req.Customer.PhonePrefix)
	}
	base.RawQuery = params.Encode()

	return base.String(), nil
}

func (c *HTTPWompiClient) GetTransaction(ctx context.Context, transactionID string) (*WompiTransaction, error) {
	c.logger.Debug("Fetching Wompi transaction", zap.String("transaction_id", transactionID))

	var body struct {
		Data *WompiTransaction `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/transactions/%s", c.cfg.APIURL, url.PathEscape(transactionID))
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Data == nil || body.Data.Status == "" {
		return nil, ErrInvalidResponse
	}

	c.logger.Debug("Wompi transaction fetched",
		zap.String("transaction_id", body.Data.ID),
		zap.String("status", body.Data.Status),
	)
	return body.Data, nil
}

func (c *HTTPWompiClient) FindTransactionByReference(ctx context.Context, reference string) (*WompiTransaction, error) {
	c.logger.Debug("Searching Wompi transactions", zap.String("reference", reference))

	var body struct {
		Data []*WompiTransaction `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/transactions?%s", c.cfg.APIURL, url.Values{"reference": {reference}}.Encode())
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, ErrInvalidResponse
	}
	if len(body.Data) == 0 {
		return nil, ErrTransactionNotFound
	}

	// RFC 3339 timestamps from the gateway sort lexically.
	sort.SliceStable(body.Data, func(i, j int) bool {
		return body.Data[i].CreatedAt > body.Data[j].CreatedAt
	})
	latest := body.Data[0]
	if latest.Status == "" {
		return nil, ErrInvalidResponse
	}
	return latest, nil
}

func (c *HTTPWompiClient) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	setHeaders(ctx, req, c.cfg.PrivateKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Wompi request failed", zap.String("url", endpoint), zap.Error(err))
		return &GatewayError{Gateway: "wompi", StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrTransactionNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var errBody wompiErrorBody
		_ = json.Unmarshal(raw, &errBody)
		gwErr := &GatewayError{
			Gateway:    "wompi",
			StatusCode: resp.StatusCode,
			Name:       errBody.Error.Type,
			Message:    firstNonEmpty(errBody.Error.Reason, errBody.Error.Message, "error checking payment status"),
		}
		c.logger.Error("Wompi returned error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("error_type", gwErr.Name),
		)
		return gwErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
