package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/device"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
	"github.com/salvadorguc/sisproone-gateway/pkg/mesclient"
	"github.com/salvadorguc/sisproone-gateway/pkg/replicator"
	"github.com/salvadorguc/sisproone-gateway/pkg/transport"
)

// fakeWriter records every frame the Orchestrator sends to the device,
// instead of opening a real serial port.
type fakeWriter struct {
	mu     sync.Mutex
	frames []string
}

func (f *fakeWriter) WriteFrame(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, text)
	return nil
}

func (f *fakeWriter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	copy(out, f.frames)
	return out
}

// testRig bundles a fully wired Engine over a fake MES server and a
// temp-file buffer store, for fast in-process tests.
type testRig struct {
	t      *testing.T
	engine *Engine
	writer *fakeWriter
	store  *buffer.Store
	bus    *events.Bus
	mesSrv *httptest.Server
	orders []mesclient.Order
}

func newTestRig(t *testing.T, orders []mesclient.Order) *testRig {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/estacionesTrabajo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []mesclient.Station{{ID: 1, Name: "Line 1"}},
		})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/listarAsignadas", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    orders,
		})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/estatus", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    mesclient.Recipe{OrderCode: "ORD-1"},
		})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/cerrarOrden", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/api/ordenesDeFabricacion/cambiarPrioridad", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "buffer.db")
	store, err := buffer.New(buffer.Config{Path: path})
	if err != nil {
		t.Fatalf("buffer.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mes := mesclient.New(mesclient.Config{BaseURL: srv.URL, CompanyID: 1})
	bus := events.New(32)
	repl := replicator.New(store, mes, bus, clock.New(), replicator.Config{})
	writer := &fakeWriter{}

	eng := New(Deps{
		Devices:       device.NewManager(clock.New()),
		Store:         store,
		MES:           mes,
		Repl:          repl,
		Bus:           bus,
		Writer:        writer,
		Clock:         clock.New(),
		UserID:        7,
		SupervisorPIN: "4321",
	})
	eng.Run(context.Background())
	t.Cleanup(func() { eng.cancel() })

	return &testRig{t: t, engine: eng, writer: writer, store: store, bus: bus, mesSrv: srv, orders: orders}
}

func openOrder() mesclient.Order {
	return mesclient.Order{ID: 1, Code: "ORD-1", ProductCode: "SKU-1", ProductUPC: "0123456789012", QuantityTarget: 10, QuantityPending: 10}
}

func TestEngine_HappyPathToProducing(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	if !res.OK {
		t.Fatalf("SelectStation failed: %v", res.Err)
	}

	res = rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	if !res.OK || res.Phase != PhaseAwaitingUPC {
		t.Fatalf("SelectOrder: ok=%v err=%v phase=%v", res.OK, res.Err, res.Phase)
	}

	res = rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})
	if !res.OK || res.Phase != PhaseProducing {
		t.Fatalf("ValidateUPC: ok=%v err=%v phase=%v", res.OK, res.Err, res.Phase)
	}

	sent := rig.writer.sent()
	if len(sent) != 2 || sent[0] != "EST01:ACTIVAR:SKU-1" {
		t.Fatalf("expected ACTIVAR+META frames, got %v", sent)
	}
}

func TestEngine_ValidateUPC_WrongCodeRejected(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "999"})
	if res.OK {
		t.Fatal("expected validation failure for mismatched UPC")
	}
	if res.Phase != PhaseAwaitingUPC {
		t.Fatalf("expected to remain AWAITING_UPC, got %v", res.Phase)
	}
}

func TestEngine_StaleCounter_KeepCounterAppendsInitialIncrement(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})

	// simulate the device already having a nonzero counter before validation
	rig.engine.SubmitFrame(transport.Frame{DeviceID: "EST01", Tag: transport.TagCont, Value: 4})
	time.Sleep(20 * time.Millisecond)

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})
	if !res.OK {
		t.Fatalf("ValidateUPC: %v", res.Err)
	}
	if res.Phase != PhaseAwaitingUPC {
		t.Fatalf("expected to stay AWAITING_UPC pending stale decision, got %v", res.Phase)
	}

	res = rig.engine.Dispatch(ctx, Command{Kind: CmdKeepCounter})
	if !res.OK || res.Phase != PhaseProducing {
		t.Fatalf("KeepCounter: ok=%v err=%v phase=%v", res.OK, res.Err, res.Phase)
	}

	pending, err := rig.store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected one synthetic INITIAL increment pending, got %d", pending)
	}
}

func TestEngine_DeltaFrameAppendsIncrementWhileProducing(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})

	rig.engine.SubmitFrame(transport.Frame{DeviceID: "EST01", Tag: transport.TagCont, Value: 3})
	time.Sleep(20 * time.Millisecond)

	pending, err := rig.store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending increment after a +3 delta, got %d", pending)
	}
}

func TestEngine_MetaReachedTransitionsToDraining(t *testing.T) {
	order := openOrder()
	order.QuantityPending = 3
	rig := newTestRig(t, []mesclient.Order{order})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})

	rig.engine.SubmitFrame(transport.Frame{DeviceID: "EST01", Tag: transport.TagCont, Value: 3})
	time.Sleep(20 * time.Millisecond)

	snap := rig.engine.Snapshot(ctx)
	if snap.Phase != PhaseDraining {
		t.Fatalf("expected DRAINING once counter reached quantityPending, got %v", snap.Phase)
	}
}

func TestEngine_CloseOrder_RejectsWrongPIN(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdCloseOrder, PIN: "0000"})
	if res.OK || res.Err != ErrWrongPIN {
		t.Fatalf("expected ErrWrongPIN for an incorrect PIN, got ok=%v err=%v", res.OK, res.Err)
	}
	if res.Phase != PhaseProducing {
		t.Fatalf("expected to remain PRODUCING after a rejected close, got %v", res.Phase)
	}
}

func TestEngine_CloseOrder_AcceptsCorrectPIN(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	rig.engine.Dispatch(ctx, Command{Kind: CmdValidateUPC, UPC: "0123456789012"})

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdCloseOrder, PIN: "4321"})
	if !res.OK {
		t.Fatalf("expected the correct supervisor PIN to be accepted, got err=%v", res.Err)
	}
	if res.Phase != PhaseDraining {
		t.Fatalf("expected DRAINING after CloseOrder, got %v", res.Phase)
	}
}

func TestEngine_ChangePriority_RequiresStationSelected(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	res := rig.engine.Dispatch(ctx, Command{Kind: CmdChangePriority, OrderCode: "ORD-1", Priority: 2})
	if res.OK {
		t.Fatal("expected ChangePriority to fail before a station is selected")
	}
}

func TestEngine_ChangePriority_CallsMESWithoutTouchingPhase(t *testing.T) {
	rig := newTestRig(t, []mesclient.Order{openOrder()})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	res := rig.engine.Dispatch(ctx, Command{Kind: CmdChangePriority, OrderCode: "ORD-1", Priority: 2})
	if !res.OK {
		t.Fatalf("ChangePriority: %v", res.Err)
	}
	if res.Phase != PhaseIdle {
		t.Fatalf("expected ChangePriority to leave phase untouched, got %v", res.Phase)
	}
}

func TestEngine_SelectOrder_RejectsClosedOrder(t *testing.T) {
	closedOrder := openOrder()
	closedOrder.Closed = true
	rig := newTestRig(t, []mesclient.Order{closedOrder})
	ctx := context.Background()

	rig.engine.Dispatch(ctx, Command{Kind: CmdSelectStation, StationID: 1, DeviceID: "EST01"})
	res := rig.engine.Dispatch(ctx, Command{Kind: CmdSelectOrder, OrderCode: "ORD-1"})
	if res.OK {
		t.Fatal("expected a closed order to be rejected")
	}
}
