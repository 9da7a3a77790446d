package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/middleware"
)

type Server struct {
	config   *config.Config
	router   *gin.Engine
	handlers *handlers.Handlers
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *middleware.RateLimiter
	http     *http.Server
	logger   *zap.Logger
}

func New(h *handlers.Handlers, cfg *config.Config, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	router := gin.New()

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		metrics:  m,
		gatherer: gatherer,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.corsHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	if s.config.Features.EnableTracing {
		s.router.Use(otelgin.Middleware(s.config.ServiceName))
	}
	s.router.Use(s.metrics.Middleware())
	s.router.Use(s.requestLogger())
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)
	s.router.GET("/metrics", handlers.Metrics(s.gatherer))

	api := s.router.Group("/api")

	// Wompi calls this without a user token.
	api.POST("/payments/webhook", h.WompiWebhook)

	auth := api.Group("")
	auth.Use(middleware.Auth(s.config.Auth.JWTSecret))
	{
		auth.POST("/orders", h.CreateOrder)
		auth.GET("/orders", h.ListOrders)
		auth.GET("/orders/:orderId", h.GetOrder)

		auth.POST("/payments/paypal/:orderId", h.CreatePayPalPayment)
		auth.POST("/payments/paypal/capture/:orderId", h.CapturePayPalPayment)
		auth.POST("/payments/wompi/:orderId", h.CreateWompiPayment)
		auth.GET("/payments/wompi/status/:reference", s.limiter.Middleware(), h.CheckWompiStatus)
	}
}

// corsHandler wraps the router with the storefront CORS policy.
func (s *Server) corsHandler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", middleware.HeaderToken, middleware.HeaderRequestID},
		ExposedHeaders:   []string{middleware.HeaderRequestID},
		AllowCredentials: true,
	}).Handler(s.router)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			s.logger.Error("Request failed", fields...)
			return
		}
		s.logger.Debug("Request handled", fields...)
	}
}

// Handler returns the full HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
