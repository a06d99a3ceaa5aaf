package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/streaming"
)

// StreamingHandler serves SSE and WebSocket endpoints for turn events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	buffer int
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, buffer int, logger *zap.Logger) *StreamingHandler {
	if buffer <= 0 {
		buffer = 256
	}
	return &StreamingHandler{mgr: mgr, buffer: buffer, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// handleSSE streams events for a turn via Server-Sent Events.
// GET /stream/sse?turn_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	turnID := r.URL.Query().Get("turn_id")
	if turnID == "" {
		http.Error(w, `{"error":"turn_id required"}`, http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastID := parseLastEventID(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replaying so no event falls between the two.
	ch := h.mgr.Subscribe(turnID, h.buffer)
	defer h.mgr.Unsubscribe(turnID, ch)

	fmt.Fprintf(w, ": connected to turn %s\n\n", turnID)
	flusher.Flush()

	terminal := false
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(r.Context(), turnID, lastID) {
			if skip(typeFilter, ev.Type) {
				continue
			}
			writeSSE(w, ev)
			if ev.IsTerminal(agents.Finish) {
				terminal = true
			}
		}
		flusher.Flush()
		if terminal {
			return
		}
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("turn_id", turnID))
			return
		case evt := <-ch:
			if skip(typeFilter, evt.Type) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
			if evt.IsTerminal(agents.Finish) {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}

func parseTypeFilter(s string) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

func skip(filter map[string]struct{}, typ string) bool {
	if len(filter) == 0 {
		return false
	}
	_, ok := filter[typ]
	return !ok
}

func parseLastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
