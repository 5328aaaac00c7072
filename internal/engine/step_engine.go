// File: internal/engine/step_engine.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/screencache"
)

// StepEngine executes a linear ordered sequence of find-then-act steps.
// The cursor only ever advances forward, in ascending step ID order.
type StepEngine struct {
	session *schemas.Session
	agent   schemas.AgentClient
	cache   *screencache.Cache
	cfg     config.EngineConfig
	logger  *zap.Logger
}

// NewStepEngine builds the linear engine for one session.
func NewStepEngine(
	session *schemas.Session,
	agent schemas.AgentClient,
	cache *screencache.Cache,
	cfg config.EngineConfig,
	logger *zap.Logger,
) *StepEngine {
	return &StepEngine{
		session: session,
		agent:   agent,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("step_engine").With(zap.String("session", session.ID)),
	}
}

// Run drives every step to completion in order. It returns the session's
// terminal result; the caller records it on the session.
func (e *StepEngine) Run(ctx context.Context) (schemas.SessionResult, error) {
	deadline := e.session.StartedAt.Add(e.cfg.MaxSessionDuration)

	for _, step := range e.session.Game.Steps {
		e.session.Advance(stepCursor(step.ID))
		e.logger.Info("Entering step",
			zap.Int("step", step.ID),
			zap.String("description", step.Description),
		)

		result, err := e.runStep(ctx, step, deadline)
		if result != "" {
			return result, err
		}
	}

	e.logger.Info("All steps completed")
	return schemas.ResultSuccess, nil
}

// runStep drives one step through its retry policy. An empty result means the
// step succeeded and the engine should advance.
func (e *StepEngine) runStep(ctx context.Context, step schemas.Step, sessionDeadline time.Time) (schemas.SessionResult, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}

	attempts := step.Retry.MaxRetries + 1
	delays := newRetryBackoff(step.Retry, e.cfg.DefaultRetryInterval)
	cursor := stepCursor(step.ID)

	var lastObserveErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.session.AddRetry()
			e.logger.Info("Retrying step", zap.Int("step", step.ID), zap.Int("attempt", attempt+1))
			if err := sleep(ctx, delays.NextBackOff()); err != nil {
				return schemas.ResultAborted, nil
			}
			// Each re-attempt evaluates a fresh capture.
			e.cache.Invalidate()
		}

		element, found, observeErr := e.pollForMatch(ctx, step.Find, timeout, sessionDeadline)
		if ctx.Err() != nil {
			// Cancellation observed between polls; the pending action is not
			// executed.
			return schemas.ResultAborted, nil
		}
		lastObserveErr = observeErr

		if !found {
			e.session.Record(schemas.HistoryRecord{
				Cursor:  cursor,
				Outcome: schemas.OutcomeStepTimeout,
				Error:   errString(observeErr),
			})
			continue
		}

		if err := executeAction(ctx, e.agent, step.Action, element); err != nil {
			e.session.Record(schemas.HistoryRecord{
				Cursor:  cursor,
				Outcome: schemas.OutcomeActionFailed,
				Error:   err.Error(),
			})
			if !classifyActionError(err) {
				return schemas.ResultFailed, err
			}
			continue
		}

		e.session.Record(schemas.HistoryRecord{Cursor: cursor, Outcome: schemas.OutcomeMatched})
		// The action changed the screen; the next step starts from a fresh
		// capture.
		e.cache.Invalidate()
		return "", nil
	}

	if lastObserveErr != nil && isVisionError(lastObserveErr) {
		e.logger.Error("Detection failed past the step's retry policy",
			zap.Int("step", step.ID), zap.Error(lastObserveErr))
		e.session.Record(schemas.HistoryRecord{
			Cursor:  cursor,
			Outcome: schemas.OutcomeVisionError,
			Error:   lastObserveErr.Error(),
		})
		return schemas.ResultFailed, lastObserveErr
	}

	e.logger.Warn("Step retries exhausted", zap.Int("step", step.ID))
	return schemas.ResultTimeout, nil
}

// pollForMatch repeatedly captures and detects through the cache until the
// spec matches, the step window elapses, or the context is cancelled. Each
// poll cycle after the first refreshes the cache for a new frame; within one
// cycle every FindSpec evaluation shares the same observation.
func (e *StepEngine) pollForMatch(
	ctx context.Context,
	spec schemas.FindSpec,
	timeout time.Duration,
	sessionDeadline time.Time,
) (schemas.DetectedElement, bool, error) {
	deadline := time.Now().Add(timeout)
	if sessionDeadline.Before(deadline) {
		deadline = sessionDeadline
	}

	var lastErr error
	first := true
	for {
		if ctx.Err() != nil {
			return schemas.DetectedElement{}, false, ctx.Err()
		}
		if !first {
			e.cache.Invalidate()
		}
		first = false

		obs, err := e.cache.Observe(ctx)
		if err != nil {
			// Transient observation failures keep polling until the window
			// closes; persistent agent outages are the health monitor's call.
			lastErr = err
			e.logger.Debug("Observation failed, polling on", zap.Error(err))
		} else {
			lastErr = nil
			if el, ok := spec.FirstMatch(obs.Elements); ok {
				return el, true, nil
			}
		}

		if time.Now().After(deadline) {
			return schemas.DetectedElement{}, false, lastErr
		}
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return schemas.DetectedElement{}, false, err
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
