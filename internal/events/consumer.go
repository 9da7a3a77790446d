package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/payment"
)

// GatewayEventHandler reconciles a relayed gateway event.
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, ev payment.GatewayEvent) (*models.Order, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads gateway events relayed by other services and feeds
// them to the reconciler, one message at a time.
type KafkaConsumer struct {
	reader   messageReader
	handler  GatewayEventHandler
	logger   *zap.Logger
	stopOnce sync.Once
	stopCh   chan struct{}

	// retryBackoff is the pause after a failed fetch.
	retryBackoff time.Duration
}

// NewKafkaConsumer creates a consumer of the gateway events topic.
func NewKafkaConsumer(cfg config.KafkaConfig, handler GatewayEventHandler, logger *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.GatewayEventsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaConsumer(reader, handler, logger)
}

func newKafkaConsumer(r messageReader, handler GatewayEventHandler, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:       r,
		handler:      handler,
		logger:       logger,
		stopCh:       make(chan struct{}),
		retryBackoff: time.Second,
	}
}

// Start consumes until ctx is done or Stop is called. Every message is
// committed after it was handled; a failed reconciliation is logged and not
// retried.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stopCh:
				c.logger.Info("Kafka consumer stopped")
				return nil
			case <-time.After(c.retryBackoff):
			}
			continue
		}

		c.handleMessage(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.reader.Close()
	})
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var ev payment.GatewayEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error("Failed to unmarshal gateway event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	if ev.RawStatus == "" || (ev.Reference == "" && ev.OrderID == "") {
		c.logger.Warn("Dropping gateway event without status or order",
			zap.String("gateway", string(ev.Gateway)),
			zap.String("transaction_id", ev.TransactionID),
		)
		return
	}

	order, err := c.handler.HandleGatewayEvent(ctx, ev)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			c.logger.Error("Failed to reconcile gateway event",
				zap.String("reference", ev.Reference),
				zap.String("order_id", ev.OrderID),
				zap.Error(err),
			)
			return
		}
		c.logger.Warn("Gateway event rejected",
			zap.String("reference", ev.Reference),
			zap.String("order_id", ev.OrderID),
			zap.String("code", apperrors.CodeOf(err)),
		)
		return
	}

	c.logger.Info("Gateway event reconciled",
		zap.String("order_id", order.ID),
		zap.String("gateway", string(ev.Gateway)),
		zap.String("status", string(order.Status)),
	)
}
