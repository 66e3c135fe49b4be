package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "no servers", err: fmt.Errorf("publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "closed", err: nats.ErrConnectionClosed, retryable: true, record: true},
		{name: "cancelled", err: context.Canceled},
		{name: "bad subject", err: nats.ErrBadSubject, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("unexpected classification %+v", got)
			}
		})
	}
}

func TestWrapUnavailableIfNeeded(t *testing.T) {
	if err := wrapUnavailableIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("timeouts must surface as unavailable, got %v", err)
	}
	plain := errors.New("payload too large")
	if err := wrapUnavailableIfNeeded(plain); err != plain {
		t.Fatalf("permanent errors pass through, got %v", err)
	}
}

func TestGenerationPayloadRoundTrip(t *testing.T) {
	got, err := decodeGeneration(encodeGeneration(42))
	if err != nil || got != 42 {
		t.Fatalf("unexpected generation %d, %v", got, err)
	}
	if _, err := decodeGeneration([]byte("v2")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
