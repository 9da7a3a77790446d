package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transition policies for the reconciler.
const (
	PolicyTrustLatest = "trust-latest"
	PolicyForwardOnly = "forward-only"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServiceName string
	StoreDriver string

	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Wompi       WompiConfig
	PayPal      PayPalConfig
	UserService ServiceConfig
	Auth        AuthConfig
	Features    FeatureFlags
	Tracing     TracingConfig
	Reconcile   ReconcileConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers            []string
	OrdersTopic        string
	GatewayEventsTopic string
	ConsumerGroup      string
}

// WompiConfig holds the Wompi keys. EventsSecret keys webhook checksums and
// falls back to IntegritySecret when unset.
type WompiConfig struct {
	PublicKey       string
	PrivateKey      string
	IntegritySecret string
	EventsSecret    string
	APIURL          string
	CheckoutURL     string
	RedirectURL     string
	Currency        string
	Timeout         time.Duration
}

type PayPalConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string
	ReturnURL string
	CancelURL string
	BrandName string
	Currency  string
	Timeout   time.Duration
}

type ServiceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type FeatureFlags struct {
	EnableOrderEvents     bool
	EnableOrderCaching    bool
	EnableGatewayConsumer bool
	EnableTracing         bool
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type ReconcileConfig struct {
	TransitionPolicy string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LogConfig struct {
	Level       string
	Development bool
}

var defaults = map[string]interface{}{
	"SERVICE_NAME": "payments-service",
	"STORE_DRIVER": StoreDriverPostgres,

	"SERVER_PORT":            8084,
	"SERVER_READ_TIMEOUT":    30,
	"SERVER_WRITE_TIMEOUT":   30,
	"SERVER_ALLOWED_ORIGINS": "http://localhost:3000",

	"DB_HOST":           "localhost",
	"DB_PORT":           5432,
	"DB_USER":           "acme",
	"DB_PASSWORD":       "acme",
	"DB_NAME":           "acme_payments",
	"DB_SSLMODE":        "disable",
	"DB_MAX_OPEN_CONNS": 25,
	"DB_MAX_IDLE_CONNS": 5,
	"DB_MAX_LIFETIME":   300,
	"DB_AUTO_MIGRATE":   false,

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,
	"REDIS_TTL":      300,

	"KAFKA_BROKERS":              "localhost:9092",
	"KAFKA_ORDERS_TOPIC":         "orders.payment-status",
	"KAFKA_GATEWAY_EVENTS_TOPIC": "payments.gateway-events",
	"KAFKA_CONSUMER_GROUP":       "payments-service",

	"WOMPI_PUBLIC_KEY":       "",
	"WOMPI_PRIVATE_KEY":      "",
	"WOMPI_INTEGRITY_SECRET": "",
	"WOMPI_EVENTS_SECRET":    "",
	"WOMPI_API_URL":          "https://sandbox.wompi.co/v1",
	"WOMPI_CHECKOUT_URL":     "https://checkout.wompi.co/p/",
	"WOMPI_REDIRECT_URL":     "http://localhost:3000/payment/result",
	"WOMPI_CURRENCY":         "COP",
	"WOMPI_TIMEOUT":          10,

	"PAYPAL_CLIENT_ID":  "",
	"PAYPAL_SECRET":     "",
	"PAYPAL_BASE_URL":   "https://api-m.sandbox.paypal.com",
	"PAYPAL_RETURN_URL": "http://localhost:3000/payment/success",
	"PAYPAL_CANCEL_URL": "http://localhost:3000/payment/cancel",
	"PAYPAL_BRAND_NAME": "Acme Shop",
	"PAYPAL_CURRENCY":   "USD",
	"PAYPAL_TIMEOUT":    10,

	"USER_SERVICE_URL":     "http://localhost:8081",
	"USER_SERVICE_API_KEY": "",
	"USER_SERVICE_TIMEOUT": 5,

	"JWT_SECRET": "",

	"ENABLE_ORDER_EVENTS":     true,
	"ENABLE_ORDER_CACHING":    true,
	"ENABLE_GATEWAY_CONSUMER": false,
	"ENABLE_TRACING":          false,

	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4318",
	"OTEL_EXPORTER_OTLP_INSECURE": true,
	"OTEL_TRACES_SAMPLE_RATIO":    1.0,

	"RECONCILE_TRANSITION_POLICY": PolicyTrustLatest,

	"STATUS_RATE_LIMIT_RPS":   2.0,
	"STATUS_RATE_LIMIT_BURST": 5,

	"LOG_LEVEL":       "info",
	"LOG_DEVELOPMENT": false,
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	seconds := func(key string) time.Duration {
		return time.Duration(v.GetInt(key)) * time.Second
	}

	return &Config{
		ServiceName: v.GetString("SERVICE_NAME"),
		StoreDriver: v.GetString("STORE_DRIVER"),
		Server: ServerConfig{
			Port:           v.GetInt("SERVER_PORT"),
			ReadTimeout:    seconds("SERVER_READ_TIMEOUT"),
			WriteTimeout:   seconds("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxLifetime:  seconds("DB_MAX_LIFETIME"),
			AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      seconds("REDIS_TTL"),
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(v.GetString("KAFKA_BROKERS")),
			OrdersTopic:        v.GetString("KAFKA_ORDERS_TOPIC"),
			GatewayEventsTopic: v.GetString("KAFKA_GATEWAY_EVENTS_TOPIC"),
			ConsumerGroup:      v.GetString("KAFKA_CONSUMER_GROUP"),
		},
		Wompi: WompiConfig{
			PublicKey:       v.GetString("WOMPI_PUBLIC_KEY"),
			PrivateKey:      v.GetString("WOMPI_PRIVATE_KEY"),
			IntegritySecret: v.GetString("WOMPI_INTEGRITY_SECRET"),
			EventsSecret:    firstNonEmpty(v.GetString("WOMPI_EVENTS_SECRET"), v.GetString("WOMPI_INTEGRITY_SECRET")),
			APIURL:          strings.TrimRight(v.GetString("WOMPI_API_URL"), "/"),
			CheckoutURL:     v.GetString("WOMPI_CHECKOUT_URL"),
			RedirectURL:     v.GetString("WOMPI_REDIRECT_URL"),
			Currency:        v.GetString("WOMPI_CURRENCY"),
			Timeout:         seconds("WOMPI_TIMEOUT"),
		},
		PayPal: PayPalConfig{
			ClientID:  v.GetString("PAYPAL_CLIENT_ID"),
			Secret:    v.GetString("PAYPAL_SECRET"),
			BaseURL:   strings.TrimRight(v.GetString("PAYPAL_BASE_URL"), "/"),
			ReturnURL: v.GetString("PAYPAL_RETURN_URL"),
			CancelURL: v.GetString("PAYPAL_CANCEL_URL"),
			BrandName: v.GetString("PAYPAL_BRAND_NAME"),
			Currency:  v.GetString("PAYPAL_CURRENCY"),
			Timeout:   seconds("PAYPAL_TIMEOUT"),
		},
		UserService: ServiceConfig{
			BaseURL: v.GetString("USER_SERVICE_URL"),
			APIKey:  v.GetString("USER_SERVICE_API_KEY"),
			Timeout: seconds("USER_SERVICE_TIMEOUT"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Features: FeatureFlags{
			EnableOrderEvents:     v.GetBool("ENABLE_ORDER_EVENTS"),
			EnableOrderCaching:    v.GetBool("ENABLE_ORDER_CACHING"),
			EnableGatewayConsumer: v.GetBool("ENABLE_GATEWAY_CONSUMER"),
			EnableTracing:         v.GetBool("ENABLE_TRACING"),
		},
		Tracing: TracingConfig{
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			SampleRatio: v.GetFloat64("OTEL_TRACES_SAMPLE_RATIO"),
		},
		Reconcile: ReconcileConfig{
			TransitionPolicy: v.GetString("RECONCILE_TRANSITION_POLICY"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("STATUS_RATE_LIMIT_RPS"),
			Burst:             v.GetInt("STATUS_RATE_LIMIT_BURST"),
		},
		Log: LogConfig{
			Level:       v.GetString("LOG_LEVEL"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Reconcile.TransitionPolicy {
	case PolicyTrustLatest, PolicyForwardOnly:
	default:
		return fmt.Errorf("unknown RECONCILE_TRANSITION_POLICY %q", c.Reconcile.TransitionPolicy)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Wompi.EventsSecret == "" {
		return fmt.Errorf("WOMPI_EVENTS_SECRET or WOMPI_INTEGRITY_SECRET is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
