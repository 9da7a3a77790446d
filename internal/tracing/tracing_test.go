package tracing

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "payments-service", false, config.TracingConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected no-op shutdown, got %v", err)
	}
}

func TestSampleRatio(t *testing.T) {
	tests := map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 3: 1}
	for in, want := range tests {
		if got := sampleRatio(in); got != want {
			t.Errorf("sampleRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
