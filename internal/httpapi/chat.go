package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
	"github.com/kabuai/orchestrator/internal/supervisor"
)

// historyRetention keeps a finished or abandoned turn's replay ring around
// long enough for /stream/sse reconnects before the manager drops it.
const historyRetention = 5 * time.Minute

// ChatHandler runs one orchestration turn per request and streams its events
// back inline. State is stateless-boundary: the caller sends the session it
// holds and persists the one it gets back.
type ChatHandler struct {
	runner *supervisor.Runner
	mgr    *streaming.Manager
	buffer int
	logger *zap.Logger
}

func NewChatHandler(runner *supervisor.Runner, mgr *streaming.Manager, buffer int, logger *zap.Logger) *ChatHandler {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChatHandler{runner: runner, mgr: mgr, buffer: buffer, logger: logger}
}

func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat", h.handleChat)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// Session is the caller-held state from the previous turn; omitted on
	// the first turn of a conversation.
	Session *state.Session `json:"session,omitempty"`
}

// handleChat rehydrates the session, appends the user message, and drives a
// full turn. The response is an SSE stream of the turn's events, followed by
// a final session frame for the caller to persist. Closing the connection
// cancels the turn.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		http.Error(w, `{"error":"session_id and message required"}`, http.StatusBadRequest)
		return
	}

	sess := req.Session
	if sess == nil {
		sess = state.NewSession()
	}
	sess.Messages = append(sess.Messages, models.Human(req.Message))

	turnID := h.runner.NewTurnID()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Turn-Id", turnID)

	// Subscribe before starting the turn so the first event is never missed.
	// The replay ring is released on every exit path, including client
	// disconnect, after a grace period that keeps resume working.
	ch := h.mgr.Subscribe(turnID, h.buffer)
	defer h.mgr.Unsubscribe(turnID, ch)
	defer h.mgr.ReleaseAfter(turnID, historyRetention)

	fmt.Fprintf(w, ": turn %s\n\n", turnID)
	flusher.Flush()

	done := make(chan error, 1)
	go func() {
		done <- h.runner.RunTurn(r.Context(), req.SessionID, turnID, sess)
	}()

	finished := false
	for !finished {
		select {
		case evt := <-ch:
			writeSSE(w, evt)
			flusher.Flush()
			if evt.IsTerminal(agents.Finish) {
				finished = true
			}
		case err := <-done:
			if err != nil && !errors.Is(err, r.Context().Err()) {
				h.logger.Error("turn failed", zap.String("turn_id", turnID), zap.Error(err))
			}
			// Drain anything published before the runner returned.
			for {
				select {
				case evt := <-ch:
					writeSSE(w, evt)
					flusher.Flush()
				default:
					finished = true
				}
				if finished {
					break
				}
			}
		case <-r.Context().Done():
			h.logger.Info("chat client disconnected", zap.String("turn_id", turnID))
			<-done
			return
		}
	}

	// Final session frame so the stateless caller can persist the result.
	if snap, err := json.Marshal(sess.Snapshot()); err == nil {
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", snap)
		flusher.Flush()
	}
}
