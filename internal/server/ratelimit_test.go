package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func Test_RateLimiter_AllowsWithinBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 3, slog.Default())
	defer stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst rejected with %d", i, rec.Code)
		}
	}
}

func Test_RateLimiter_RejectsBeyondBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 2, slog.Default())
	defer stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429 once the burst is spent, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After header")
	}
}

func Test_RateLimiter_LimitsPerIP(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	defer stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust the first IP's bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	// A different IP has its own bucket.
	req2 := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req2.RemoteAddr = "10.0.0.4:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req2)

	if rec.Code != http.StatusOK {
		t.Errorf("different IP must not share a bucket, got %d", rec.Code)
	}
}

func Test_RateLimiter_EvictsStaleEntries(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	defer stop()

	rl.getLimiter("10.0.0.5")
	rl.mu.Lock()
	rl.limiters["10.0.0.5"].lastSeen = time.Now().Add(-10 * time.Minute)
	rl.mu.Unlock()

	rl.evict()

	rl.mu.Lock()
	_, ok := rl.limiters["10.0.0.5"]
	rl.mu.Unlock()
	if ok {
		t.Error("entries unseen for 10 minutes must be evicted")
	}
}

func Test_ClientIP_StripsPort(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:54321"
	if got := clientIP(req); got != "192.168.1.7" {
		t.Errorf("clientIP = %q, want 192.168.1.7", got)
	}
}
