// File: internal/engine/decision_engine.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/screencache"
)

// DecisionEngine executes a graph of named states with condition-keyed
// transitions, for games whose startup flow is non-linear. Cycles between
// states are expected (repeated dismiss-dialog loops); the global session
// duration backstop prevents them from spinning forever.
type DecisionEngine struct {
	session *schemas.Session
	agent   schemas.AgentClient
	cache   *screencache.Cache
	cfg     config.EngineConfig
	logger  *zap.Logger
}

// NewDecisionEngine builds the state-machine engine for one session.
func NewDecisionEngine(
	session *schemas.Session,
	agent schemas.AgentClient,
	cache *screencache.Cache,
	cfg config.EngineConfig,
	logger *zap.Logger,
) *DecisionEngine {
	return &DecisionEngine{
		session: session,
		agent:   agent,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("decision_engine").With(zap.String("session", session.ID)),
	}
}

// Run walks the state graph from the initial state until a terminal state is
// reached, the global backstop elapses, or the session is cancelled. Every
// move the engine makes follows an edge the config declares.
func (e *DecisionEngine) Run(ctx context.Context) (schemas.SessionResult, error) {
	game := e.session.Game
	globalDeadline := e.session.StartedAt.Add(e.cfg.MaxSessionDuration)

	current := game.InitialState
	for {
		e.session.Advance(current)
		state := game.States[current]

		if current == game.TargetState || state.Terminal() {
			e.logger.Info("Reached terminal state", zap.String("state", current))
			return schemas.ResultSuccess, nil
		}

		next, result, err := e.runState(ctx, state, globalDeadline)
		if result != "" {
			return result, err
		}
		current = next
	}
}

// runState evaluates one state until a transition fires. An empty result
// means the engine should continue at the returned state id.
func (e *DecisionEngine) runState(ctx context.Context, state schemas.State, globalDeadline time.Time) (string, schemas.SessionResult, error) {
	timeout := state.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}
	stateDeadline := time.Now().Add(timeout)

	e.logger.Info("Entering state",
		zap.String("state", state.ID),
		zap.Int("finds", len(state.Finds)),
	)

	observed := false
	var lastErr error
	first := true
	for {
		if ctx.Err() != nil {
			return "", schemas.ResultAborted, nil
		}
		now := time.Now()
		if now.After(globalDeadline) {
			e.logger.Error("Global session duration exceeded", zap.String("state", state.ID))
			e.session.Record(schemas.HistoryRecord{
				Cursor:  state.ID,
				Outcome: schemas.OutcomeStepTimeout,
				Error:   "max session duration exceeded",
			})
			return "", schemas.ResultTimeout, nil
		}

		if !first {
			e.cache.Invalidate()
		}
		first = false

		obs, err := e.cache.Observe(ctx)
		if err != nil {
			lastErr = err
			e.logger.Debug("Observation failed, polling on", zap.Error(err))
		} else {
			observed = true
			// Every FindSpec of the state is evaluated each cycle; the first
			// match in declared priority order wins.
			for _, sf := range state.Finds {
				el, ok := sf.Find.FirstMatch(obs.Elements)
				if !ok {
					continue
				}
				if sf.Action != nil {
					if actErr := executeAction(ctx, e.agent, *sf.Action, el); actErr != nil {
						e.session.Record(schemas.HistoryRecord{
							Cursor:  state.ID,
							Outcome: schemas.OutcomeActionFailed,
							Error:   actErr.Error(),
						})
						if !classifyActionError(actErr) {
							return "", schemas.ResultFailed, actErr
						}
						// The screen may have half-changed; take a fresh look
						// before matching again.
						break
					}
				}
				e.logger.Info("Transition fired",
					zap.String("from", state.ID),
					zap.String("to", sf.Next),
					zap.String("matched", sf.Find.Text),
				)
				e.session.Record(schemas.HistoryRecord{
					Cursor:  state.ID,
					Outcome: schemas.OutcomeTransition,
					From:    state.ID,
					To:      sf.Next,
				})
				e.cache.Invalidate()
				return sf.Next, "", nil
			}
		}

		if time.Now().After(stateDeadline) {
			if !observed && lastErr != nil && isVisionError(lastErr) {
				// The whole window passed without one successful detection;
				// this is a vision outage, not a screen that never changed.
				e.session.Record(schemas.HistoryRecord{
					Cursor:  state.ID,
					Outcome: schemas.OutcomeVisionError,
					Error:   lastErr.Error(),
				})
				return "", schemas.ResultFailed, lastErr
			}
			if state.Default != "" {
				e.logger.Info("State timed out, taking default transition",
					zap.String("from", state.ID),
					zap.String("to", state.Default),
				)
				e.session.Record(schemas.HistoryRecord{
					Cursor:  state.ID,
					Outcome: schemas.OutcomeTransition,
					From:    state.ID,
					To:      state.Default,
					Error:   "state timeout",
				})
				e.cache.Invalidate()
				return state.Default, "", nil
			}
			e.logger.Warn("State timed out with no default transition", zap.String("state", state.ID))
			e.session.Record(schemas.HistoryRecord{
				Cursor:  state.ID,
				Outcome: schemas.OutcomeStepTimeout,
			})
			return "", schemas.ResultTimeout, nil
		}

		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return "", schemas.ResultAborted, nil
		}
	}
}
