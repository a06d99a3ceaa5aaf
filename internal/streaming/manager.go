package streaming

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/metrics"
)

// Manager is the event multiplexer: per-turn pub/sub with a bounded replay
// ring. Publishing never blocks the traversal; slow subscribers lose events
// rather than stalling generation.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	store  *HistoryStore // optional durable history for resume
	logger *zap.Logger
}

// NewManager returns a multiplexer with the given replay ring capacity.
// store may be nil.
func NewManager(capacity int, store *HistoryStore, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		store:       store,
		logger:      logger,
	}
}

// Subscribe registers a subscriber channel for a turn. The caller must
// drain the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(turnID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[turnID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[turnID] = subs
	}
	subs[ch] = struct{}{}
	metrics.ActiveSubscribers.Inc()
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(turnID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[turnID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
			metrics.ActiveSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(m.subscribers, turnID)
		}
	}
}

// Publish assigns the next sequence number, records the event in the replay
// ring (and durable store when configured), and fans it out non-blocking.
func (m *Manager) Publish(turnID string, evt Event) {
	m.mu.Lock()
	rg := m.history[turnID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[turnID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := make([]chan Event, 0, len(m.subscribers[turnID]))
	for ch := range m.subscribers[turnID] {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	if m.store != nil {
		if err := m.store.Append(context.Background(), turnID, evt); err != nil {
			m.logger.Warn("event history append failed",
				zap.String("turn_id", turnID), zap.Error(err))
		}
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// ReplaySince returns buffered events with Seq > since, falling back to the
// durable store when the ring has already wrapped past it.
func (m *Manager) ReplaySince(ctx context.Context, turnID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[turnID]
	var evs []Event
	var oldest uint64
	if rg != nil {
		evs = rg.since(since)
		if all := rg.since(0); len(all) > 0 {
			oldest = all[0].Seq
		}
	}
	m.mu.RUnlock()

	if m.store != nil && (rg == nil || (since+1 < oldest)) {
		stored, err := m.store.Replay(ctx, turnID, since)
		if err == nil && len(stored) >= len(evs) {
			return stored
		}
	}
	return evs
}

// Release drops the replay ring for a finished turn.
func (m *Manager) Release(turnID string) {
	m.mu.Lock()
	delete(m.history, turnID)
	m.mu.Unlock()
}

// ReleaseAfter drops the replay ring once the retention window passes, so
// reconnecting consumers can still resume a recently finished or abandoned
// turn. Every turn must be released on every exit path or the history map
// grows without bound.
func (m *Manager) ReleaseAfter(turnID string, retain time.Duration) {
	if retain <= 0 {
		m.Release(turnID)
		return
	}
	time.AfterFunc(retain, func() { m.Release(turnID) })
}
