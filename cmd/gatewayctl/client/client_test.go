package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGet_DecodesEnvelopeData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer token forwarded, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(Envelope{Status: "ok", Data: json.RawMessage(`{"phase":"IDLE"}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	var out struct {
		Phase string `json:"phase"`
	}
	if err := c.Get("/v1/status", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Phase != "IDLE" {
		t.Fatalf("expected phase IDLE, got %q", out.Phase)
	}
}

func TestPost_PropagatesAPIErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(Envelope{Status: "error", Error: "command not valid in current phase"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.Post("/v1/orders/select", map[string]string{"orderCode": "ORD-1"}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", apiErr.StatusCode)
	}
}

func TestStreamEvents_ParsesSSEFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: COUNT_UPDATED\ndata: {\"deviceId\":\"EST01\"}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	var gotKind string
	var gotData []byte
	if err := c.StreamEvents("/v1/events", func(kind string, data []byte) {
		gotKind, gotData = kind, data
	}); err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if gotKind != "COUNT_UPDATED" {
		t.Fatalf("expected COUNT_UPDATED, got %q", gotKind)
	}
	if string(gotData) != `{"deviceId":"EST01"}` {
		t.Fatalf("unexpected data: %s", gotData)
	}
}
