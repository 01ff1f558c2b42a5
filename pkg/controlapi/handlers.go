package controlapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/engine"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
)

// handlers holds the collaborators every route needs. Every mutating method
// on it does nothing but build an engine.Command and Dispatch it — the
// Orchestrator's single goroutine is still the only thing that ever
// touches Session or device state.
type handlers struct {
	engine    *engine.Engine
	store     *buffer.Store
	bus       *events.Bus
	startedAt time.Time
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

// statusView is the /v1/status payload: the production Session plus the
// device and buffer state an operator terminal needs to render.
type statusView struct {
	Phase             string `json:"phase"`
	StationID         int    `json:"stationId,omitempty"`
	OrderCode         string `json:"orderCode,omitempty"`
	ProductCode       string `json:"productCode,omitempty"`
	QuantityTarget    int    `json:"quantityTarget,omitempty"`
	QuantityPending   int    `json:"quantityPending,omitempty"`
	DeviceID          string `json:"deviceId,omitempty"`
	CounterBaseline   int32  `json:"counterBaseline,omitempty"`
	AwaitingDecision  bool   `json:"awaitingStaleDecision"`
	ErrorReason       string `json:"errorReason,omitempty"`
	PendingIncrements int    `json:"pendingIncrements"`
	Subscribers       int    `json:"eventSubscribers"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot(r.Context())

	pending, err := h.store.PendingCount(r.Context())
	if err != nil {
		JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
		return
	}

	view := statusView{
		Phase:             string(snap.Phase),
		StationID:         snap.StationID,
		DeviceID:          snap.DeviceID,
		CounterBaseline:   snap.CounterBaseline,
		AwaitingDecision:  snap.AwaitingStaleDecision,
		ErrorReason:       snap.ErrorReason,
		PendingIncrements: pending,
		Subscribers:       h.bus.SubscriberCount(),
	}
	if snap.Order != nil {
		view.OrderCode = snap.Order.Code
		view.ProductCode = snap.Order.ProductCode
		view.QuantityTarget = snap.Order.QuantityTarget
		view.QuantityPending = snap.Order.QuantityPending
	}

	JSON(w, http.StatusOK, OKResponse(view))
}

type selectStationRequest struct {
	StationID int    `json:"stationId"`
	DeviceID  string `json:"deviceId"`
}

func (h *handlers) selectStation(w http.ResponseWriter, r *http.Request) {
	var req selectStationRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdSelectStation, StationID: req.StationID, DeviceID: req.DeviceID})
}

type selectOrderRequest struct {
	OrderCode string `json:"orderCode"`
}

func (h *handlers) selectOrder(w http.ResponseWriter, r *http.Request) {
	var req selectOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdSelectOrder, OrderCode: req.OrderCode})
}

type validateUPCRequest struct {
	UPC string `json:"upc"`
}

func (h *handlers) validateUPC(w http.ResponseWriter, r *http.Request) {
	var req validateUPCRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdValidateUPC, UPC: req.UPC})
}

type closeOrderRequest struct {
	PIN string `json:"pin"`
}

func (h *handlers) closeOrder(w http.ResponseWriter, r *http.Request) {
	var req closeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdCloseOrder, PIN: req.PIN})
}

func (h *handlers) changeOrder(w http.ResponseWriter, r *http.Request) {
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdChangeOrder})
}

type changePriorityRequest struct {
	OrderCode string `json:"orderCode"`
	Priority  int    `json:"priority"`
}

func (h *handlers) changePriority(w http.ResponseWriter, r *http.Request) {
	var req changePriorityRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdChangePriority, OrderCode: req.OrderCode, Priority: req.Priority})
}

type staleCounterDecisionRequest struct {
	Decision string `json:"decision"` // "keep" or "reset"
}

func (h *handlers) staleCounterDecision(w http.ResponseWriter, r *http.Request) {
	var req staleCounterDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}

	var kind engine.CommandKind
	switch req.Decision {
	case "keep":
		kind = engine.CmdKeepCounter
	case "reset":
		kind = engine.CmdRequireManualReset
	default:
		JSON(w, http.StatusBadRequest, ErrorResponse(`decision must be "keep" or "reset"`))
		return
	}
	h.dispatchAndReply(w, r, engine.Command{Kind: kind})
}

func (h *handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdSyncNow})
}

func (h *handlers) resetError(w http.ResponseWriter, r *http.Request) {
	h.dispatchAndReply(w, r, engine.Command{Kind: engine.CmdResetError})
}

// dispatchAndReply sends cmd to the Orchestrator and translates the result
// into the response envelope, mapping a phase mismatch to 409 Conflict and
// any other failure to 400 Bad Request.
func (h *handlers) dispatchAndReply(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	res := h.engine.Dispatch(r.Context(), cmd)
	if !res.OK {
		status := http.StatusBadRequest
		if res.Err == engine.ErrWrongPhase {
			status = http.StatusConflict
		}
		errMsg := "command rejected"
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		JSON(w, status, Response{Status: "error", Timestamp: time.Now().UTC(), Error: errMsg, Data: map[string]string{"phase": string(res.Phase)}})
		return
	}
	JSON(w, http.StatusOK, OKResponse(map[string]interface{}{"phase": res.Phase, "detail": res.Data}))
}
