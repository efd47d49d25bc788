package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestThrottleBurstAndRefill(t *testing.T) {
	th := NewThrottle(2, 10*time.Second, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	if !th.Allow("1.2.3.4") || !th.Allow("1.2.3.4") {
		t.Fatalf("expected burst of two to pass")
	}
	if th.Allow("1.2.3.4") {
		t.Fatalf("expected third attempt to be throttled")
	}
	if !th.Allow("5.6.7.8") {
		t.Fatalf("expected other clients to be unaffected")
	}

	now = now.Add(10 * time.Second)
	if !th.Allow("1.2.3.4") {
		t.Fatalf("expected one attempt after refill")
	}
	if th.Allow("1.2.3.4") {
		t.Fatalf("expected refill to restore a single attempt")
	}
}

func TestThrottleForgetsIdleClients(t *testing.T) {
	th := NewThrottle(1, time.Hour, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	th.Allow("a")
	now = now.Add(2 * time.Minute)
	th.Allow("b")

	th.mu.Lock()
	_, kept := th.clients["a"]
	th.mu.Unlock()
	if kept {
		t.Fatalf("expected idle client to be evicted")
	}
}

func TestNilThrottleAllows(t *testing.T) {
	var th *Throttle
	if !th.Allow("x") {
		t.Fatalf("nil throttle must allow")
	}
}

func TestThrottleMiddleware(t *testing.T) {
	th := NewThrottle(1, 10*time.Second, time.Hour)
	handler := th.Middleware(func(r *http.Request) string { return r.RemoteAddr })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first attempt through, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("expected Retry-After 10, got %q", got)
	}
}
