package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prabinpebam/wan22-runpod/internal/service"
)

type SSEHandler struct {
	eventBus  *service.EventBus
	queueSvc  QueueService
	healthSvc HealthService
}

func NewSSEHandler(eventBus *service.EventBus, queueSvc QueueService, healthSvc HealthService) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		queueSvc:  queueSvc,
		healthSvc: healthSvc,
	}
}

// sseWrite writes one SSE event with a JSON payload.
func sseWrite(w http.ResponseWriter, eventName string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandler) sendQueue(w http.ResponseWriter) {
	sseWrite(w, "queue", h.queueSvc.Jobs())
}

func (h *SSEHandler) sendHealth(w http.ResponseWriter) {
	sseWrite(w, "health", h.healthSvc.Report())
}

// Events streams queue and health snapshots. The client re-renders the
// whole queue from each event, so every queue change carries the full
// list rather than a delta.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// Current state first, so a reconnecting client catches up
		// without waiting for the next change.
		h.sendQueue(w)
		h.sendHealth(w)

		ch := h.eventBus.Subscribe()
		defer h.eventBus.Unsubscribe(ch)

		ctx := r.Context()
		keepAlive := time.NewTicker(15 * time.Second)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				switch event.Type {
				case service.EventQueue:
					h.sendQueue(w)
				case service.EventHealth:
					h.sendHealth(w)
				}
			}
		}
	}
}
