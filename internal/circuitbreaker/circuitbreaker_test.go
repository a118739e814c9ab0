package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/worker"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, recovery time.Duration) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	cb := New(Config{Name: "push", MaxFailures: maxFailures, RecoveryTimeout: recovery}, zap.NewNop())
	cb.now = c.now
	return cb, c
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	trip(cb, 3)

	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	trip(cb, 2)
	cb.RecordSuccess()
	trip(cb, 2)

	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures should not open, got %s", cb.State())
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	tests := []struct {
		name      string
		probeOK   bool
		wantState State
	}{
		{"probe_succeeds", true, StateClosed},
		{"probe_fails", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, c := newTestBreaker(2, 30*time.Second)
			trip(cb, 2)

			c.advance(29 * time.Second)
			if cb.Allow() {
				t.Fatal("should still reject before recovery timeout")
			}

			c.advance(time.Second)
			if !cb.Allow() {
				t.Fatal("should allow a probe after recovery timeout")
			}
			if cb.State() != StateHalfOpen {
				t.Fatalf("expected half-open, got %s", cb.State())
			}
			if cb.Allow() {
				t.Fatal("only one probe should pass in half-open")
			}

			if tt.probeOK {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var seen []string
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	cb := New(Config{
		Name:            "email",
		MaxFailures:     1,
		RecoveryTimeout: time.Second,
		OnStateChange: func(name string, from, to State) {
			seen = append(seen, name+":"+from.String()+"->"+to.String())
		},
	}, zap.NewNop())
	cb.now = c.now

	trip(cb, 1)
	c.advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []string{"email:closed->open", "email:open->half-open", "email:half-open->closed"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestCircuitBreaker_DefaultsFillZeroConfig(t *testing.T) {
	cb := New(Config{Name: "webhook"}, zap.NewNop())
	if cb.cfg.MaxFailures != 5 || cb.cfg.RecoveryTimeout != 30*time.Second || cb.cfg.Probes != 1 {
		t.Errorf("unexpected config %+v", cb.cfg)
	}
	if cb.Name() != "webhook" {
		t.Errorf("expected name webhook, got %s", cb.Name())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

type mockSender struct {
	err   error
	calls int
}

func (m *mockSender) Send(ctx context.Context, d *worker.Delivery) error {
	m.calls++
	return m.err
}

func (m *mockSender) SupportsChannel(channel string) bool {
	return channel == worker.ChannelPush
}

func testDelivery() *worker.Delivery {
	return &worker.Delivery{ID: uuid.New(), Kind: "checkin_missed", Channel: worker.ChannelPush}
}

func TestProtectedSender_FailFastWhenOpen(t *testing.T) {
	inner := &mockSender{err: errors.New("sns down")}
	cb, _ := newTestBreaker(2, time.Minute)
	ps := NewProtectedSender(inner, cb, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := ps.Send(ctx, testDelivery()); err == nil {
			t.Fatal("expected provider error")
		}
	}

	err := ps.Send(ctx, testDelivery())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("open breaker should not reach the provider, got %d calls", inner.calls)
	}
}

func TestProtectedSender_Lifecycle(t *testing.T) {
	inner := &mockSender{err: errors.New("sns down")}
	cb, c := newTestBreaker(1, time.Minute)
	ps := NewProtectedSender(inner, cb, zap.NewNop())
	ctx := context.Background()

	_ = ps.Send(ctx, testDelivery())
	if ps.breaker.State() != StateOpen {
		t.Fatalf("expected open, got %s", ps.breaker.State())
	}

	inner.err = nil
	c.advance(time.Minute)
	if err := ps.Send(ctx, testDelivery()); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if ps.breaker.State() != StateClosed {
		t.Fatalf("expected closed, got %s", ps.breaker.State())
	}
	if !ps.SupportsChannel(worker.ChannelPush) || ps.SupportsChannel(worker.ChannelEmail) {
		t.Error("SupportsChannel should delegate")
	}
}
