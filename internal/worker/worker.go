// File: internal/worker/worker.go
// Description: A Worker owns one automation session end to end: launch the
// game through the agent, drive the engine matching the config's shape, watch
// agent health, and deliver the terminal result. One worker goroutine per
// active SUT; workers share no mutable automation state.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/agentclient"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/engine"
	"github.com/gamebench/benchctl/internal/screencache"
)

// launchCanceler is implemented by agent clients that can abandon an
// in-flight launch when the session is stopped during startup.
type launchCanceler interface {
	CancelLaunch(ctx context.Context) error
}

// Worker drives automation sessions for a single SUT.
type Worker struct {
	sut    *schemas.SUT
	agent  schemas.AgentClient
	vision schemas.VisionClient
	cfg    config.Interface
	logger *zap.Logger

	// onDisconnect tells the owner (the supervisor) that health monitoring
	// declared the SUT unreachable.
	onDisconnect func()

	// newEngine is swappable for tests.
	newEngine func(*schemas.Session, *screencache.Cache) schemas.Engine
}

// Option configures a Worker.
type Option func(*Worker)

// WithOnDisconnect registers the callback fired when the health monitor
// marks the SUT disconnected.
func WithOnDisconnect(fn func()) Option {
	return func(w *Worker) { w.onDisconnect = fn }
}

// WithEngineFactory replaces engine construction, primarily for tests.
func WithEngineFactory(fn func(*schemas.Session, *screencache.Cache) schemas.Engine) Option {
	return func(w *Worker) { w.newEngine = fn }
}

// New builds a worker bound to one SUT's agent and the shared vision service.
func New(
	sut *schemas.SUT,
	agent schemas.AgentClient,
	vision schemas.VisionClient,
	cfg config.Interface,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		sut:    sut,
		agent:  agent,
		vision: vision,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.String("sut", sut.ID)),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.newEngine == nil {
		w.newEngine = func(session *schemas.Session, cache *screencache.Cache) schemas.Engine {
			return engine.ForGame(session, w.agent, cache, w.cfg.Engine(), w.logger)
		}
	}
	return w
}

// Run drives the session to its terminal result. It always finishes the
// session; errors are folded into the session result so a single SUT's
// failure never propagates as a process-level fault.
func (w *Worker) Run(ctx context.Context, session *schemas.Session) schemas.SessionResult {
	game := session.Game
	logger := w.logger.With(zap.String("session", session.ID), zap.String("game", game.Name))
	logger.Info("Session starting")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var disconnected atomic.Bool
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		w.monitorHealth(sessionCtx, &disconnected, cancel, logger)
	}()

	result := w.runSession(sessionCtx, session, logger)

	cancel()
	monitorWG.Wait()

	if disconnected.Load() {
		// A dead agent overrides whatever the engine got up to.
		result = schemas.ResultFailed
	}
	session.Finish(result)

	if result != schemas.ResultSuccess && game.ProcessMarker != "" {
		w.killGameProcess(game, logger)
	}

	logger.Info("Session finished", zap.String("result", string(result)))
	return result
}

// runSession performs the launch sequence and drives the engine.
func (w *Worker) runSession(ctx context.Context, session *schemas.Session, logger *zap.Logger) schemas.SessionResult {
	game := session.Game

	if game.Path != "" {
		logger.Info("Launching game", zap.String("path", game.Path))
		pid, err := w.agent.LaunchProcess(ctx, game)
		if err != nil {
			if ctx.Err() != nil {
				w.cancelLaunch(logger)
				return schemas.ResultAborted
			}
			// Launch failures are fatal to the session; no retry.
			logger.Error("Game launch failed", zap.Error(err))
			return schemas.ResultFailed
		}
		logger.Info("Game launched", zap.Int("pid", pid))

		if game.StartupWait > 0 {
			logger.Info("Waiting for game to initialize", zap.Duration("wait", game.StartupWait))
			if err := sleepCtx(ctx, game.StartupWait); err != nil {
				w.cancelLaunch(logger)
				return schemas.ResultAborted
			}
		}

		if game.ProcessMarker != "" {
			status, err := w.agent.ProcessStatus(ctx, game.ProcessMarker)
			if err != nil {
				// Verification is best effort; the engine will surface a dead
				// game soon enough through its own polling.
				logger.Warn("Could not verify game process after startup", zap.Error(err))
			} else if !status.Running {
				logger.Error("Game process died during startup", zap.String("marker", game.ProcessMarker))
				return schemas.ResultFailed
			} else if !status.Foregrounded {
				logger.Warn("Game process is running but not foregrounded", zap.String("marker", game.ProcessMarker))
			}
		}
	} else {
		logger.Info("No game path configured, assuming game is already running")
	}

	cache := screencache.New(w.agent, w.vision, logger)
	eng := w.newEngine(session, cache)

	result, err := eng.Run(ctx)
	if err != nil {
		logger.Error("Engine terminated with error", zap.String("result", string(result)), zap.Error(err))
	}
	return result
}

// monitorHealth probes the agent on a fixed cadence. A bounded run of
// consecutive connection failures marks the SUT disconnected and cancels the
// session; any successful probe resets the count.
func (w *Worker) monitorHealth(ctx context.Context, disconnected *atomic.Bool, cancel context.CancelFunc, logger *zap.Logger) {
	interval := w.cfg.Agent().HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	threshold := w.cfg.Agent().HealthFailureThreshold

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.agent.HealthCheck(ctx)
		if err == nil {
			failures = 0
			continue
		}

		var connErr *agentclient.ConnectionError
		if !errors.As(err, &connErr) {
			// The agent answered, just unhappily. Not a disconnect.
			logger.Debug("Health check rejected", zap.Error(err))
			continue
		}

		failures++
		logger.Warn("Health check failed",
			zap.Int("consecutive", failures),
			zap.Int("threshold", threshold),
			zap.Error(err),
		)
		if failures >= threshold {
			logger.Error("SUT declared disconnected")
			disconnected.Store(true)
			if w.onDisconnect != nil {
				w.onDisconnect()
			}
			cancel()
			return
		}
	}
}

// killGameProcess cleans up the launched game after a failed or aborted
// session. Successful sessions leave the game running. Best effort, on a
// fresh context because the session's is already cancelled.
func (w *Worker) killGameProcess(game *schemas.GameConfig, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	action := schemas.Action{
		Type:   schemas.ActionCustom,
		Params: map[string]any{"command": "kill_process", "marker": game.ProcessMarker},
	}
	if err := w.agent.SendAction(ctx, action); err != nil {
		logger.Warn("Failed to kill game process", zap.String("marker", game.ProcessMarker), zap.Error(err))
		return
	}
	logger.Info("Killed game process", zap.String("marker", game.ProcessMarker))
}

// cancelLaunch tells the agent to abandon a launch in flight, if it can.
func (w *Worker) cancelLaunch(logger *zap.Logger) {
	canceler, ok := w.agent.(launchCanceler)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := canceler.CancelLaunch(ctx); err != nil {
		logger.Debug("Could not cancel in-flight launch", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
