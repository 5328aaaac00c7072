// internal/engine/mocks_test.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

// testEngineConfig keeps the polling loops tight so tests finish in
// milliseconds.
func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		PollInterval:         time.Millisecond,
		DefaultStepTimeout:   50 * time.Millisecond,
		DefaultRetryInterval: time.Millisecond,
		MaxSessionDuration:   5 * time.Second,
	}
}

// fakeAgent records every action sent and lets tests inject failures.
type fakeAgent struct {
	mu          sync.Mutex
	actions     []schemas.Action
	screenshots int
	actionFunc  func(schemas.Action) error
}

func (a *fakeAgent) Screenshot(context.Context) ([]byte, error) {
	a.mu.Lock()
	a.screenshots++
	a.mu.Unlock()
	return []byte("frame"), nil
}

func (a *fakeAgent) SendAction(_ context.Context, action schemas.Action) error {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	fn := a.actionFunc
	a.mu.Unlock()
	if fn != nil {
		return fn(action)
	}
	return nil
}

func (a *fakeAgent) LaunchProcess(context.Context, *schemas.GameConfig) (int, error) { return 1, nil }
func (a *fakeAgent) ProcessStatus(context.Context, string) (schemas.ProcessStatus, error) {
	return schemas.ProcessStatus{Running: true}, nil
}
func (a *fakeAgent) HealthCheck(context.Context) error { return nil }

func (a *fakeAgent) sentActions() []schemas.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.Action, len(a.actions))
	copy(out, a.actions)
	return out
}

func (a *fakeAgent) screenshotCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screenshots
}

// scriptedVision returns one scripted frame result per Detect call,
// repeating the final entry once the script runs out.
type scriptedVision struct {
	mu     sync.Mutex
	script []frameResult
	call   int
}

type frameResult struct {
	elements []schemas.DetectedElement
	err      error
}

func frame(texts ...string) frameResult {
	elements := make([]schemas.DetectedElement, len(texts))
	for i, text := range texts {
		elements[i] = schemas.DetectedElement{
			BBox:       [4]float64{0, float64(i) * 20, 100, float64(i)*20 + 20},
			Text:       text,
			Confidence: 0.95,
			Type:       "button",
		}
	}
	return frameResult{elements: elements}
}

func failure(err error) frameResult {
	return frameResult{err: err}
}

func (v *scriptedVision) Detect(context.Context, []byte) ([]schemas.DetectedElement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.call
	if idx >= len(v.script) {
		idx = len(v.script) - 1
	}
	v.call++
	if idx < 0 {
		return nil, nil
	}
	res := v.script[idx]
	return res.elements, res.err
}

func (v *scriptedVision) detectCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.call
}

// timedVision reports nothing until a wall-clock instant passes, then serves
// the match frame. Used where the script must outlast a whole attempt window
// regardless of poll pacing.
type timedVision struct {
	after time.Time
	match frameResult
}

func (v *timedVision) Detect(context.Context, []byte) ([]schemas.DetectedElement, error) {
	if time.Now().Before(v.after) {
		return nil, nil
	}
	return v.match.elements, v.match.err
}
