package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portpilot/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&HTTPConfig{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		Network: "tcp",
		Timeout: 2 * time.Second,
	})
}

func TestClientGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/tunnels", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "running" {
			t.Errorf("query parameter not forwarded, got: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]models.TunnelDetail{
			{State: models.StateRunning},
		})
	})

	c := newTestClient(t, mux)
	resp, err := c.Get("/tunnels", map[string]string{"state": "running"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var details []models.TunnelDetail
	if err := resp.Decode(&details); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(details) != 1 || details[0].State != models.StateRunning {
		t.Errorf("unexpected payload: %+v", details)
	}
}

func TestClientPostForwardsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/tunnels/1/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(models.TunnelResponse{TunnelID: 1, State: models.StateRunning})
	})

	c := newTestClient(t, mux)
	resp, err := c.Post("/tunnels/1/start", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	var tr models.TunnelResponse
	if err := resp.Decode(&tr); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tr.TunnelID != 1 || tr.State != models.StateRunning {
		t.Errorf("unexpected response: %+v", tr)
	}
}

func TestClientErrorExtraction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/tunnels/42/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: "tunnel not found: tunnel 42"})
	})

	c := newTestClient(t, mux)
	resp, err := c.Post("/tunnels/42/start", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if resp.OK() {
		t.Fatal("expected error status")
	}
	if resp.Error != "tunnel not found: tunnel 42" {
		t.Errorf("error message not extracted, got: %s", resp.Error)
	}
	if err := resp.Decode(&struct{}{}); err == nil {
		t.Error("Decode should fail for a non-2xx response")
	}
}

func TestClientAvailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, mux)
	if !c.Available() {
		t.Error("server is up, Available should be true")
	}

	down := NewClient(&HTTPConfig{
		Address: "127.0.0.1:1", // 肯定连不上
		Network: "tcp",
		Timeout: 500 * time.Millisecond,
	})
	if down.Available() {
		t.Error("nothing listens there, Available should be false")
	}
}
