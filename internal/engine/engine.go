// File: internal/engine/engine.go
// Description: Shared scaffolding for the two automation engines. A session's
// engine is chosen by the shape of its game config: an ordered step sequence
// drives the linear StepEngine, a state graph drives the DecisionEngine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/agentclient"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/screencache"
	"github.com/gamebench/benchctl/internal/vision"
)

// ForGame selects the engine implementation for the session's game config.
func ForGame(
	session *schemas.Session,
	agent schemas.AgentClient,
	cache *screencache.Cache,
	cfg config.EngineConfig,
	logger *zap.Logger,
) schemas.Engine {
	if session.Game.StepBased() {
		return NewStepEngine(session, agent, cache, cfg, logger)
	}
	return NewDecisionEngine(session, agent, cache, cfg, logger)
}

// sleep waits for d or until the context is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stepCursor names a linear step position in session history.
func stepCursor(id int) string {
	return fmt.Sprintf("step-%d", id)
}

// isVisionError reports whether the detection service, rather than the
// agent, failed the observation.
func isVisionError(err error) bool {
	var svcErr *vision.ServiceError
	return errors.As(err, &svcErr)
}

// newRetryBackoff builds the delay sequence between step re-attempts.
// Fixed-interval is the documented default; a step opts into exponential
// growth explicitly.
func newRetryBackoff(policy schemas.RetryPolicy, defaultInterval time.Duration) backoff.BackOff {
	interval := policy.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	if policy.Exponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0 // attempt count bounds the retries, not elapsed time
		return b
	}
	return backoff.NewConstantBackOff(interval)
}

// executeAction runs one action after a successful find. Wait actions are
// handled locally; everything else goes to the agent, with click targets
// filled in from the matched element's center.
func executeAction(
	ctx context.Context,
	agent schemas.AgentClient,
	action schemas.Action,
	target schemas.DetectedElement,
) error {
	switch action.Type {
	case schemas.ActionWait:
		seconds, _ := action.Params["seconds"].(int)
		if seconds <= 0 {
			seconds = 1
		}
		return sleep(ctx, time.Duration(seconds)*time.Second)
	case schemas.ActionClick, schemas.ActionCustom:
		x, y := target.Center()
		return agent.SendAction(ctx, action.WithTarget(x, y))
	default:
		return agent.SendAction(ctx, action)
	}
}

// classifyActionError splits an action failure into retryable and fatal.
// Agent-acknowledged failures count against the retry policy; a transport
// failure is left to the worker's health monitoring to resolve.
func classifyActionError(err error) (retryable bool) {
	var execErr *agentclient.ActionExecutionError
	if errors.As(err, &execErr) {
		return true
	}
	var connErr *agentclient.ConnectionError
	return errors.As(err, &connErr)
}
