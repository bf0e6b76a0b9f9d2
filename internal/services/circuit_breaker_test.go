package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(&CircuitBreakerConfig{
		MaxFailures:     2,
		ResetTimeout:    10 * time.Millisecond,
		HalfOpenMaxReqs: 1,
	})

	if !cb.Allow() {
		t.Fatal("closed breaker should allow")
	}
	cb.OnFailure()
	if cb.State() != StateClosedCB {
		t.Fatal("one failure should not open the breaker")
	}
	cb.OnFailure()
	if cb.State() != StateOpenCB {
		t.Fatal("breaker should open after max failures")
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject")
	}

	// 超过重置时间后进入半开，探测成功则闭合
	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe request should pass after reset timeout")
	}
	if cb.State() != StateHalfOpenCB {
		t.Fatalf("state: got %s, want half-open", cb.State())
	}
	cb.OnSuccess()
	if cb.State() != StateClosedCB {
		t.Fatalf("state: got %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(&CircuitBreakerConfig{
		MaxFailures:     1,
		ResetTimeout:    5 * time.Millisecond,
		HalfOpenMaxReqs: 1,
	})
	cb.OnFailure()
	time.Sleep(10 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should pass")
	}
	cb.OnFailure()
	if cb.State() != StateOpenCB {
		t.Fatalf("state: got %s, want open", cb.State())
	}
}

func TestBreakerWebhookCaller(t *testing.T) {
	hook := &stubWebhookCaller{err: errors.New("boom")}
	cb := NewCircuitBreakerWithConfig(&CircuitBreakerConfig{
		MaxFailures:     2,
		ResetTimeout:    time.Minute,
		HalfOpenMaxReqs: 1,
	})
	caller := NewBreakerWebhookCaller(hook, cb)

	payload := map[string]interface{}{"lead_id": 1.0}
	for i := 0; i < 2; i++ {
		if err := caller.Call(context.Background(), "https://example.com/hook", payload); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	// 熔断后不再触达下游，错误标注 circuit_open
	err := caller.Call(context.Background(), "https://example.com/hook", payload)
	if err == nil || err.Error() != ReasonCircuitOpen {
		t.Fatalf("expected circuit_open error, got %v", err)
	}
	if hook.calls != 2 {
		t.Fatalf("downstream calls: got %d, want 2", hook.calls)
	}
}
