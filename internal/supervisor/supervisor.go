// File: internal/supervisor/supervisor.go
// Description: The supervisor is the registry of SUTs and the gatekeeper of
// the one-active-session-per-SUT invariant. Assignment flips status
// Idle→Running atomically under the registry lock; the lock is never held
// across a network call.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/agentclient"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/worker"
)

var (
	// ErrSutBusy means the SUT already has an active session. The caller's
	// problem; the scheduler never retries it.
	ErrSutBusy = errors.New("sut already has an active session")
	// ErrUnknownSut means the SUT id was never registered or was removed.
	ErrUnknownSut = errors.New("unknown sut")
	// ErrNoActiveSession means a stop was requested while nothing was running.
	ErrNoActiveSession = errors.New("no active session")
)

// SessionRunner drives one session to its terminal result. Satisfied by
// *worker.Worker; swappable in tests.
type SessionRunner interface {
	Run(ctx context.Context, session *schemas.Session) schemas.SessionResult
}

// RunnerFactory builds the runner for one assignment on one SUT.
// onDisconnect is the supervisor's hook for health-monitor disconnects.
type RunnerFactory func(sut *schemas.SUT, onDisconnect func()) SessionRunner

type entry struct {
	sut     *schemas.SUT
	cancel  context.CancelFunc // non-nil while a session is active
	session *schemas.Session   // most recent session, live or finished
}

// Supervisor tracks all registered SUTs and their active workers.
type Supervisor struct {
	cfg       config.Interface
	vision    schemas.VisionClient
	logger    *zap.Logger
	newRunner RunnerFactory

	mu   sync.Mutex
	suts map[string]*entry
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunnerFactory replaces worker construction, primarily for tests.
func WithRunnerFactory(fn RunnerFactory) Option {
	return func(s *Supervisor) { s.newRunner = fn }
}

// New creates a supervisor. The default runner factory builds a real agent
// client and worker for each assignment.
func New(cfg config.Interface, visionClient schemas.VisionClient, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		vision: visionClient,
		logger: logger.Named("supervisor"),
		suts:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newRunner == nil {
		s.newRunner = func(sut *schemas.SUT, onDisconnect func()) SessionRunner {
			agent := agentclient.New(sut, s.cfg.Agent(), s.logger)
			return worker.New(sut, agent, s.vision, s.cfg, s.logger, worker.WithOnDisconnect(onDisconnect))
		}
	}
	return s
}

// Register adds a SUT to the registry in the Idle state.
func (s *Supervisor) Register(sut *schemas.SUT) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.suts[sut.ID]; exists {
		return fmt.Errorf("sut %q is already registered", sut.ID)
	}
	sut.Status = schemas.SutIdle
	s.suts[sut.ID] = &entry{sut: sut}
	s.logger.Info("SUT registered", zap.String("sut", sut.ID), zap.String("address", sut.BaseURL()))
	return nil
}

// Remove deletes a SUT from the registry. Fails while a session is active.
func (s *Supervisor) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.suts[id]
	if !ok {
		return ErrUnknownSut
	}
	if e.cancel != nil {
		return fmt.Errorf("cannot remove %q: %w", id, ErrSutBusy)
	}
	delete(s.suts, id)
	s.logger.Info("SUT removed", zap.String("sut", id))
	return nil
}

// Assign starts a session for a game on the given SUT. The Idle→Running
// transition is atomic with respect to concurrent assign attempts: exactly
// one caller wins, the rest get ErrSutBusy.
func (s *Supervisor) Assign(ctx context.Context, id string, game *schemas.GameConfig) (*SessionHandle, error) {
	s.mu.Lock()
	e, ok := s.suts[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownSut
	}
	if e.sut.Status != schemas.SutIdle {
		status := e.sut.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("sut %q is %s: %w", id, status, ErrSutBusy)
	}
	e.sut.Status = schemas.SutRunning

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	session := schemas.NewSession(id, game)
	e.session = session
	runner := s.newRunner(e.sut, func() { s.markDisconnected(id) })
	s.mu.Unlock()

	handle := &SessionHandle{SutID: id, session: session, done: make(chan struct{})}

	go func() {
		defer cancel()
		result := runner.Run(runCtx, session)
		session.Finish(result) // no-op if the worker already finished it

		s.mu.Lock()
		e.cancel = nil
		// A disconnect recorded during the run survives session teardown.
		if e.sut.Status == schemas.SutRunning {
			e.sut.Status = schemas.SutIdle
		}
		s.mu.Unlock()

		close(handle.done)
	}()

	s.logger.Info("Session assigned",
		zap.String("sut", id),
		zap.String("game", game.Name),
		zap.String("session", session.ID),
	)
	return handle, nil
}

// Stop cancels the SUT's active session. Cancellation is cooperative: the
// worker observes it between polls, never mid-call.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.suts[id]
	if !ok {
		return ErrUnknownSut
	}
	if e.cancel == nil {
		return ErrNoActiveSession
	}
	s.logger.Info("Stopping session", zap.String("sut", id))
	e.cancel()
	return nil
}

// Status reports a SUT's lifecycle status and a snapshot of its most recent
// session, if any.
func (s *Supervisor) Status(id string) (schemas.SutStatus, *schemas.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.suts[id]
	if !ok {
		return "", nil, ErrUnknownSut
	}
	if e.session == nil {
		return e.sut.Status, nil, nil
	}
	snap := e.session.Snapshot()
	return e.sut.Status, &snap, nil
}

// SUTs lists the registered SUT ids.
func (s *Supervisor) SUTs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.suts))
	for id := range s.suts {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) markDisconnected(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.suts[id]; ok {
		e.sut.Status = schemas.SutDisconnected
		s.logger.Warn("SUT marked disconnected", zap.String("sut", id))
	}
}

// Reconnect returns a Disconnected or Error SUT to the Idle pool after the
// operator restores it.
func (s *Supervisor) Reconnect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.suts[id]
	if !ok {
		return ErrUnknownSut
	}
	if e.cancel != nil {
		return fmt.Errorf("cannot reconnect %q: %w", id, ErrSutBusy)
	}
	e.sut.Status = schemas.SutIdle
	return nil
}

// SessionHandle is the caller's view of an in-flight session.
type SessionHandle struct {
	SutID   string
	session *schemas.Session
	done    chan struct{}
}

// Done is closed when the session reaches a terminal result.
func (h *SessionHandle) Done() <-chan struct{} { return h.done }

// Snapshot returns the session's current state.
func (h *SessionHandle) Snapshot() schemas.SessionSnapshot { return h.session.Snapshot() }

// Wait blocks until the session finishes or the context is cancelled,
// returning the terminal result.
func (h *SessionHandle) Wait(ctx context.Context) (schemas.SessionResult, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
		return h.session.Result(), nil
	}
}
