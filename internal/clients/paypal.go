package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
)

// PayPalClient is the PayPal Orders v2 adapter.
type PayPalClient interface {
	CreateOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrder, error)
	CaptureOrder(ctx context.Context, paypalOrderID string) (*PayPalOrder, error)
}

// PayPalOrderRequest describes the local order a PayPal order is opened for.
type PayPalOrderRequest struct {
	OrderID string
	Total   decimal.Decimal
}

// PayPalOrder is a PayPal order as returned by create and capture. Raw keeps
// the full gateway payload for callers that relay it.
type PayPalOrder struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Payer         interface{}     `json:"payer,omitempty"`
	PurchaseUnits interface{}     `json:"purchase_units,omitempty"`
	Links         []PayPalLink    `json:"links,omitempty"`
	CreateTime    string          `json:"create_time,omitempty"`
	UpdateTime    string          `json:"update_time,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

type PayPalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// ApproveURL returns the buyer approval link, if any.
func (o *PayPalOrder) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// Event converts a captured order into a gateway event.
func (o *PayPalOrder) Event(orderID string) payment.GatewayEvent {
	return payment.GatewayEvent{
		Gateway:       payment.GatewayPayPal,
		Source:        payment.SourceCapture,
		TransactionID: o.ID,
		OrderID:       orderID,
		RawStatus:     captureStatus(o.Status),
		PayPal: &payment.PayPalDetails{
			Status:        o.Status,
			Payer:         o.Payer,
			PurchaseUnits: o.PurchaseUnits,
			CreateTime:    o.CreateTime,
			UpdateTime:    o.UpdateTime,
		},
	}
}

// captureStatus narrows a PayPal order status to what a capture settles.
// PayPal answers APPROVED for orders the buyer approved but nobody captured,
// which must not read as a payment.
func captureStatus(status string) string {
	switch status {
	case "COMPLETED", "VOIDED":
		return status
	}
	return string(models.OrderStatusPending)
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// HTTPPayPalClient implements PayPalClient over the PayPal REST API.
type HTTPPayPalClient struct {
	cfg        config.PayPalConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	token accessToken
	now   func() time.Time
}

// NewHTTPPayPalClient creates a PayPal client from configuration.
func NewHTTPPayPalClient(cfg config.PayPalConfig, logger *zap.Logger) *HTTPPayPalClient {
	return &HTTPPayPalClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

func (c *HTTPPayPalClient) CreateOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrder, error) {
	c.logger.Debug("Creating PayPal order",
		zap.String("order_id", req.OrderID),
		zap.String("total", req.Total.StringFixed(2)),
	)

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"amount": map[string]string{
				"currency_code": c.cfg.Currency,
				"value":         req.Total.StringFixed(2),
			},
			"description": "Order #" + req.OrderID,
			"custom_id":   req.OrderID,
		}},
		"application_context": map[string]string{
			"brand_name":   c.cfg.BrandName,
			"landing_page": "NO_PREFERENCE",
			"user_action":  "PAY_NOW",
			"return_url":   c.cfg.ReturnURL,
			"cancel_url":   c.cfg.CancelURL,
		},
	}

	order, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		c.logger.Error("Failed to create PayPal order", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, err
	}

	c.logger.Info("PayPal order created",
		zap.String("order_id", req.OrderID),
		zap.String("paypal_order_id", order.ID),
	)
	return order, nil
}

func (c *HTTPPayPalClient) CaptureOrder(ctx context.Context, paypalOrderID string) (*PayPalOrder, error) {
	c.logger.Debug("Capturing PayPal order", zap.String("paypal_order_id", paypalOrderID))

	order, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(paypalOrderID)+"/capture", struct{}{})
	if err != nil {
		c.logger.Error("Failed to capture PayPal order", zap.String("paypal_order_id", paypalOrderID), zap.Error(err))
		return nil, err
	}

	c.logger.Info("PayPal order captured",
		zap.String("paypal_order_id", order.ID),
		zap.String("status", order.Status),
	)
	return order, nil
}

func (c *HTTPPayPalClient) do(ctx context.Context, method, path string, payload interface{}) (*PayPalOrder, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	setHeaders(ctx, req, token)
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Gateway: "paypal", StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, paypalError(resp.StatusCode, raw)
	}

	var order PayPalOrder
	if err := json.Unmarshal(raw, &order); err != nil || order.ID == "" {
		return nil, ErrInvalidResponse
	}
	order.Raw = raw
	return &order, nil
}

// accessToken returns a cached OAuth token, refreshing it a minute before
// it expires.
func (c *HTTPPayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.value != "" && c.now().Before(c.token.expiresAt) {
		return c.token.value, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Gateway: "paypal", StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", paypalError(resp.StatusCode, raw)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", ErrInvalidResponse
	}

	c.token = accessToken{
		value:     tok.AccessToken,
		expiresAt: c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute),
	}
	return c.token.value, nil
}

func paypalError(status int, raw []byte) *GatewayError {
	var body paypalErrorBody
	_ = json.Unmarshal(raw, &body)

	message := body.Message
	if len(body.Details) > 0 && body.Details[0].Description != "" {
		message = fmt.Sprintf("%s: %s", body.Details[0].Issue, body.Details[0].Description)
	}
	return &GatewayError{
		Gateway:    "paypal",
		StatusCode: status,
		Name:       body.Name,
		Message:    firstNonEmpty(message, http.StatusText(status)),
	}
}
