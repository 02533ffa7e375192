package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"comissao/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for attempt, d := range want {
		if got := exponentialBackoff(attempt); got != d {
			t.Errorf("exponentialBackoff(%d) = %v, want %v", attempt, got, d)
		}
	}
	for _, attempt := range []int{-1, 12} {
		if got := exponentialBackoff(attempt); got != time.Second && got != maxBackoff {
			t.Errorf("exponentialBackoff(%d) = %v, want a clamped delay", attempt, got)
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	retryable := []error{
		errors.New("dial tcp: connection refused"),
		errors.New("unexpected EOF"),
		errors.New("write: broken pipe"),
		errors.New("Exception (504) Reason: \"channel/connection is not open\""),
		fmt.Errorf("publish service event: %w", amqp091.ErrClosed),
	}
	for _, err := range retryable {
		if !isConnectionError(err) {
			t.Errorf("isConnectionError(%q) = false, want true", err)
		}
	}
	for _, err := range []error{nil, errors.New("invalid service event"), core.ErrNotFound} {
		if isConnectionError(err) {
			t.Errorf("isConnectionError(%v) = true, want false", err)
		}
	}
}

func tripped(c *Client, at time.Time) {
	atomic.StoreInt32(&c.state, StateOpen)
	c.failMu.Lock()
	c.lastFailure = at
	c.failMu.Unlock()
}

func TestClient_CircuitBreaker(t *testing.T) {
	c := &Client{exchangeName: "comissao.events", queueName: "comissao.export"}

	if c.isCircuitOpen() {
		t.Fatal("new client starts with an open circuit")
	}

	for i := 1; i < maxFailures; i++ {
		c.recordFailure()
	}
	if c.isCircuitOpen() {
		t.Fatalf("circuit opened after %d failures", maxFailures-1)
	}
	c.recordFailure()
	if !c.isCircuitOpen() {
		t.Fatalf("circuit still closed after %d failures", maxFailures)
	}

	tripped(c, time.Now().Add(-openTimeout-time.Second))
	if c.isCircuitOpen() || atomic.LoadInt32(&c.state) != StateHalfOpen {
		t.Fatalf("expired open circuit should go half-open, state = %d", atomic.LoadInt32(&c.state))
	}

	// a single failure while half-open trips it again
	c.recordFailure()
	if atomic.LoadInt32(&c.state) != StateOpen {
		t.Errorf("state after half-open failure = %d, want open", atomic.LoadInt32(&c.state))
	}

	c.recordSuccess()
	if c.isCircuitOpen() || atomic.LoadInt64(&c.failureCount) != 0 {
		t.Errorf("success left state = %d failures = %d", atomic.LoadInt32(&c.state), atomic.LoadInt64(&c.failureCount))
	}
}

func TestClient_PublishServiceEvent_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "comissao.events", queueName: "comissao.export"}
	msg := NewServiceEvent(EventCreated, core.Service{ID: "svc-1", Version: 1})

	t.Run("publish fails when circuit is open", func(t *testing.T) {
		tripped(client, time.Now())

		err := client.PublishServiceEvent(context.Background(), msg)
		if err == nil {
			t.Fatal("PublishServiceEvent should fail when circuit is open")
		}
		if !errors.Is(err, errCircuitOpen) {
			t.Errorf("Error should wrap the circuit breaker error, got: %v", err)
		}
	})

	t.Run("publish respects context cancellation", func(t *testing.T) {
		atomic.StoreInt32(&client.state, StateClosed)
		atomic.StoreInt64(&client.failureCount, 0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := client.PublishServiceEvent(ctx, msg)
		if err != context.Canceled {
			t.Errorf("PublishServiceEvent should return context.Canceled when context is cancelled, got: %v", err)
		}
	})
}

func TestNewServiceEvent(t *testing.T) {
	created := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	svc := core.Service{
		ID:             "svc-1",
		Title:          "1001",
		ServiceType:    core.Bar,
		Price:          core.Money{Cents: 600},
		UserID:         "user_1",
		Username:       "ana",
		CreatedAt:      created,
		IncludeInTotal: false,
		Version:        3,
	}

	msg := NewServiceEvent(EventRevoked, svc)

	if msg.ID != "svc-1" || msg.Version != 3 || msg.Event != EventRevoked {
		t.Errorf("NewServiceEvent() = %+v", msg)
	}
	if msg.Timestamp.IsZero() || time.Since(msg.Timestamp) > time.Second {
		t.Error("NewServiceEvent() Timestamp should be recent")
	}
	if got := msg.ToService(); got != svc {
		t.Errorf("ToService() = %+v, want %+v", got, svc)
	}
}

func TestServiceEventMessage_JSON(t *testing.T) {
	msg := NewServiceEvent(EventAuthorized, core.Service{ID: "svc-9", Title: "42", Price: core.Money{Cents: 250}, Version: 2, IncludeInTotal: true, AdminOverride: true})

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := ServiceEventMessageFromJSON(body)
	if err != nil {
		t.Fatalf("ServiceEventMessageFromJSON() error = %v", err)
	}
	if parsed.ID != msg.ID || parsed.Event != msg.Event || parsed.Version != msg.Version {
		t.Errorf("parsed = %+v, want %+v", parsed, msg)
	}
	if !parsed.Service.AdminOverride || parsed.Service.PriceCents != 250 {
		t.Errorf("parsed snapshot = %+v", parsed.Service)
	}
}

func TestServiceEventMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"id": 5`},
		{"missing id", `{"event":"service.created","version":1}`},
		{"unknown event", `{"id":"a","event":"service.exploded","version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ServiceEventMessageFromJSON([]byte(tt.body)); err == nil {
				t.Error("ServiceEventMessageFromJSON() should fail")
			}
		})
	}
}
