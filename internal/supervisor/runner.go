package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
	"github.com/kabuai/orchestrator/internal/workers"
)

// maxSteps bounds one turn. Plans are short; anything past this is a loop.
const maxSteps = 16

// Runner executes whole turns: it alternates supervisor transitions with
// worker dispatches until the supervisor terminates, merging every delta
// into the session and publishing the event stream. Turns on the same
// session id are serialized.
type Runner struct {
	sup     *Supervisor
	workers map[string]workers.Worker
	stream  *streaming.Manager
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serializes turns for one session id. refs counts waiters so
// the registry entry can be pruned once the last turn releases it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewRunner wires the turn executor.
func NewRunner(sup *Supervisor, pool map[string]workers.Worker, stream *streaming.Manager, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sup:     sup,
		workers: pool,
		stream:  stream,
		logger:  logger,
		locks:   make(map[string]*sessionLock),
	}
}

// NewTurnID mints the stream identifier for one turn.
func (r *Runner) NewTurnID() string { return uuid.NewString() }

// lockSession acquires the per-session turn gate, creating the registry
// entry on first use.
func (r *Runner) lockSession(sessionID string) *sessionLock {
	r.mu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		r.locks[sessionID] = l
	}
	l.refs++
	r.mu.Unlock()
	l.mu.Lock()
	return l
}

// unlockSession releases the gate and prunes the registry entry once no
// turn holds or waits on it.
func (r *Runner) unlockSession(sessionID string, l *sessionLock) {
	l.mu.Unlock()
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, sessionID)
	}
	r.mu.Unlock()
}

// RunTurn drives one full traversal over the session. The session is
// mutated in place; the caller owns persistence of the result. The only
// error returned is context cancellation: every semantic failure is
// already absorbed into the session as a role-attributed message.
func (r *Runner) RunTurn(ctx context.Context, sessionID, turnID string, sess *state.Session) error {
	lock := r.lockSession(sessionID)
	defer r.unlockSession(sessionID, lock)

	metrics.TurnsStarted.Inc()
	start := time.Now()
	log := r.logger.With(zap.String("session_id", sessionID), zap.String("turn_id", turnID))
	log.Info("turn started", zap.Int("messages", len(sess.Messages)))

	emit := func(evt streaming.Event) {
		r.stream.Publish(turnID, evt)
	}

	status := "completed"
	defer func() {
		metrics.TurnsCompleted.WithLabelValues(status).Inc()
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			log.Warn("turn canceled", zap.Error(err))
			status = "canceled"
			return err
		}
		if i >= maxSteps {
			log.Error("turn exceeded step bound", zap.Int("steps", i))
			delta := r.sup.terminalError(errProcess)
			delta.Apply(sess)
			emit(streaming.Update(delta.Fields()))
			status = "overrun"
			return nil
		}

		delta, terminal := r.sup.Advance(ctx, sess, emit)
		delta.Apply(sess)
		emit(streaming.Update(delta.Fields()))
		if terminal {
			log.Info("turn finished", zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		transfer := sess.TakeTransfer()
		if err := transfer.Validate(); err != nil {
			log.Error("invalid control transfer", zap.Error(err))
			td := r.sup.terminalError(errProcess)
			td.Apply(sess)
			emit(streaming.Update(td.Fields()))
			status = "failed"
			return nil
		}
		worker, ok := r.workers[transfer.Target]
		if !ok {
			log.Error("no worker for role", zap.String("role", transfer.Target))
			td := r.sup.terminalError(errProcess)
			td.Apply(sess)
			emit(streaming.Update(td.Fields()))
			status = "failed"
			return nil
		}

		log.Debug("dispatching worker", zap.String("role", transfer.Target), zap.Int("step", sess.Step))
		wd := worker.Run(ctx, workers.Scope{Frame: transfer.Messages, Session: sess}, emit)
		wd.Apply(sess)
		emit(streaming.Update(wd.Fields()))
	}
}
