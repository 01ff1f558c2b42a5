package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamEvents handles GET /v1/events: a Server-Sent Events stream of every
// Event published on the shared Bus for as long as the client stays
// connected. A slow or absent reader never affects publishers — see
// events.Bus's drop-oldest policy.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		JSON(w, http.StatusInternalServerError, ErrorResponse("streaming unsupported"))
		return
	}

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, payload)
			flusher.Flush()
		}
	}
}
