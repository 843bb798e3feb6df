package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubPinger reports a fixed result under a fixed name.
type stubPinger struct {
	name string
	err  error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }
func (p *stubPinger) Name() string               { return p.name }

func Test_Ready_AllDependenciesHealthy(t *testing.T) {
	t.Parallel()

	cfg := &Config{Pingers: []Pinger{
		&stubPinger{name: "qdrant"},
		&stubPinger{name: "ollama-embedder"},
	}}
	h := newTestServer(t, &fakeService{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready || len(resp.Checks) != 2 {
		t.Errorf("unexpected readiness: %+v", resp)
	}
}

func Test_Ready_FailingDependencyIs503(t *testing.T) {
	t.Parallel()

	cfg := &Config{Pingers: []Pinger{
		&stubPinger{name: "qdrant", err: fmt.Errorf("connection refused")},
		&stubPinger{name: "ollama-embedder"},
	}}
	h := newTestServer(t, &fakeService{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Error("ready must be false when a probe fails")
	}
	if resp.Checks[0].OK || resp.Checks[0].Error == "" {
		t.Errorf("failed check must carry the error, got %+v", resp.Checks[0])
	}
	if !resp.Checks[1].OK {
		t.Errorf("healthy check must stay ok, got %+v", resp.Checks[1])
	}
}

func Test_MultiPinger_ReturnsFirstFailure(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&stubPinger{name: "a"},
		&stubPinger{name: "b", err: fmt.Errorf("down")},
		&stubPinger{name: "c"},
	)

	err := m.Ping(context.Background())
	if err == nil {
		t.Fatal("a failing member must fail the aggregate")
	}
	if got := err.Error(); got != "b: down" {
		t.Errorf("failure must name the member, got %q", got)
	}
}
