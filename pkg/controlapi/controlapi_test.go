package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/device"
	"github.com/salvadorguc/sisproone-gateway/pkg/engine"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
	"github.com/salvadorguc/sisproone-gateway/pkg/mesclient"
	"github.com/salvadorguc/sisproone-gateway/pkg/replicator"
)

type fakeWriter struct{}

func (fakeWriter) WriteFrame(string) error { return nil }

// writeEnvelope wraps data in the {success, data} envelope the MES uses for
// every response, matching the real backend's contract.
func writeEnvelope(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(struct {
		Success bool `json:"success"`
		Data    any  `json:"data,omitempty"`
	}{Success: true, Data: data})
}

func newTestRouter(t *testing.T, orders []mesclient.Order, token string) (http.Handler, *engine.Engine) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/estacionesTrabajo", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []mesclient.Station{{ID: 1, Name: "Line 1"}})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/listarAsignadas", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, orders)
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/estatus", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, mesclient.Recipe{OrderCode: "ORD-1"})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/cerrarOrden", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil)
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/cambiarPrioridad", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil)
	})
	mesSrv := httptest.NewServer(mux)
	t.Cleanup(mesSrv.Close)

	path := filepath.Join(t.TempDir(), "buffer.db")
	store, err := buffer.New(buffer.Config{Path: path})
	if err != nil {
		t.Fatalf("buffer.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mes := mesclient.New(mesclient.Config{BaseURL: mesSrv.URL, CompanyID: 1})
	bus := events.New(32)
	repl := replicator.New(store, mes, bus, clock.New(), replicator.Config{})

	eng := engine.New(engine.Deps{
		Devices: device.NewManager(clock.New()),
		Store:   store,
		MES:     mes,
		Repl:    repl,
		Bus:     bus,
		Writer:  fakeWriter{},
		Clock:   clock.New(),
		UserID:  7,
	})
	runCtx, cancelRun := context.WithCancel(context.Background())
	eng.Run(runCtx)
	t.Cleanup(cancelRun)

	return NewRouter(eng, store, bus, token), eng
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openOrder() mesclient.Order {
	return mesclient.Order{ID: 1, Code: "ORD-1", ProductCode: "SKU-1", ProductUPC: "0123456789012", QuantityTarget: 10, QuantityPending: 10}
}

func TestLiveness_NeverRequiresAuth(t *testing.T) {
	h, _ := newTestRouter(t, nil, "secret")
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestV1Routes_RejectMissingToken(t *testing.T) {
	h, _ := newTestRouter(t, nil, "secret")
	rec := doJSON(t, h, http.MethodGet, "/v1/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestV1Routes_AcceptValidToken(t *testing.T) {
	h, _ := newTestRouter(t, nil, "secret")
	rec := doJSON(t, h, http.MethodGet, "/v1/status", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSelectStationThenOrderThenValidateUPC_FlowsToProducing(t *testing.T) {
	h, _ := newTestRouter(t, []mesclient.Order{openOrder()}, "secret")

	rec := doJSON(t, h, http.MethodPost, "/v1/stations/select", "secret", selectStationRequest{StationID: 1, DeviceID: "EST01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("select station: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/orders/select", "secret", selectOrderRequest{OrderCode: "ORD-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("select order: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/orders/validate-upc", "secret", validateUPCRequest{UPC: "0123456789012"})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate upc: %d %s", rec.Code, rec.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %+v", resp)
	}
}

func TestSelectOrder_WrongPhaseReturns409(t *testing.T) {
	h, _ := newTestRouter(t, []mesclient.Order{openOrder()}, "secret")

	rec := doJSON(t, h, http.MethodPost, "/v1/orders/select", "secret", selectOrderRequest{OrderCode: "ORD-1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 (no station selected yet), got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStaleCounterDecision_RejectsUnknownDecision(t *testing.T) {
	h, _ := newTestRouter(t, []mesclient.Order{openOrder()}, "secret")
	rec := doJSON(t, h, http.MethodPost, "/v1/stale-counter/decision", "secret", staleCounterDecisionRequest{Decision: "explode"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReadiness_StaysHealthyAfterRejectedCommand(t *testing.T) {
	h, eng := newTestRouter(t, []mesclient.Order{openOrder()}, "")

	// selecting a station that does not exist is rejected without moving the
	// engine into ERROR
	res := eng.Dispatch(context.Background(), engine.Command{Kind: engine.CmdSelectStation, StationID: 99})
	if res.OK {
		t.Fatal("expected station 99 to be rejected")
	}

	rec := doJSON(t, h, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("a rejected command alone should not fail readiness, got %d", rec.Code)
	}
}
