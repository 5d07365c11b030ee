package control

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStateProvider struct {
	snap StateSnapshot
}

func (f fakeStateProvider) Snapshot() StateSnapshot { return f.snap }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzReturnsOK(t *testing.T) {
	r := NewRouter(testLogger(), nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDebugStateWithoutProviderReturnsNotReady(t *testing.T) {
	r := NewRouter(testLogger(), nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/state")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestDebugStateReportsSnapshot(t *testing.T) {
	provider := fakeStateProvider{snap: StateSnapshot{ReplicaID: 1, View: 3, Incarnation: 2, ARU: 40, ConfigNum: 1}}
	r := NewRouter(testLogger(), provider)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/state")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	r := NewRouter(testLogger(), nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
