package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

// UserClient looks up the buyer data a checkout needs.
type UserClient interface {
	// GetCustomer returns nil, nil when the user does not exist.
	GetCustomer(ctx context.Context, userID string) (*models.Customer, error)
}

// HTTPUserClient implements UserClient against the users service.
type HTTPUserClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *zap.Logger
}

// NewHTTPUserClient creates a new HTTP-based user client.
func NewHTTPUserClient(cfg config.ServiceConfig, logger *zap.Logger) *HTTPUserClient {
	return &HTTPUserClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

func (c *HTTPUserClient) GetCustomer(ctx context.Context, userID string) (*models.Customer, error) {
	c.logger.Debug("Fetching customer", zap.String("user_id", userID))

	endpoint := fmt.Sprintf("%s/api/v2/users/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	setHeaders(ctx, req, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch customer", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var customer models.Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, err
	}
	if customer.ID == "" {
		customer.ID = userID
	}

	return &customer, nil
}

// MockUserClient is an in-memory UserClient for tests and local runs.
type MockUserClient struct {
	users map[string]*models.Customer
}

func NewMockUserClient() *MockUserClient {
	return &MockUserClient{
		users: make(map[string]*models.Customer),
	}
}

func (m *MockUserClient) GetCustomer(ctx context.Context, userID string) (*models.Customer, error) {
	if user, ok := m.users[userID]; ok {
		c := *user
		return &c, nil
	}
	return nil, nil
}

func (m *MockUserClient) AddCustomer(customer *models.Customer) {
	m.users[customer.ID] = customer
}
