// internal/preview/preview_test.go
package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type screenshotAgent struct {
	mu       sync.Mutex
	calls    int
	failFunc func(call int) error
}

func (a *screenshotAgent) Screenshot(context.Context) ([]byte, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	fn := a.failFunc
	a.mu.Unlock()
	if fn != nil {
		if err := fn(call); err != nil {
			return nil, err
		}
	}
	return []byte("frame"), nil
}

func (a *screenshotAgent) SendAction(context.Context, schemas.Action) error { return nil }
func (a *screenshotAgent) LaunchProcess(context.Context, *schemas.GameConfig) (int, error) {
	return 0, nil
}
func (a *screenshotAgent) ProcessStatus(context.Context, string) (schemas.ProcessStatus, error) {
	return schemas.ProcessStatus{}, nil
}
func (a *screenshotAgent) HealthCheck(context.Context) error { return nil }

// -- Test Cases: Streaming --

func TestPoller_DeliversFrames(t *testing.T) {
	agent := &screenshotAgent{}
	frames := make(chan Frame, 16)
	poller := New("rig-01", agent, config.PreviewConfig{Interval: 2 * time.Millisecond},
		func(f Frame) { frames <- f }, zap.NewNop())

	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case f := <-frames:
		assert.Equal(t, "rig-01", f.SutID)
		assert.Equal(t, []byte("frame"), f.Image)
		assert.False(t, f.Captured.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no frame delivered within a second")
	}
}

// TestPoller_FailedCaptureSkipsCycle verifies preview stays best effort: a
// capture failure skips its cycle, the stream continues.
func TestPoller_FailedCaptureSkipsCycle(t *testing.T) {
	agent := &screenshotAgent{failFunc: func(call int) error {
		if call == 1 {
			return errors.New("agent hiccup")
		}
		return nil
	}}
	frames := make(chan Frame, 16)
	poller := New("rig-01", agent, config.PreviewConfig{Interval: 2 * time.Millisecond},
		func(f Frame) { frames <- f }, zap.NewNop())

	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case <-frames:
		// The second cycle delivered despite the first failing.
	case <-time.After(time.Second):
		t.Fatal("the stream died after one failed capture")
	}
}

// -- Test Cases: Lifecycle --

func TestPoller_StopWaitsForTheLoop(t *testing.T) {
	agent := &screenshotAgent{}
	var mu sync.Mutex
	delivered := 0
	poller := New("rig-01", agent, config.PreviewConfig{Interval: time.Millisecond},
		func(Frame) { mu.Lock(); delivered++; mu.Unlock() }, zap.NewNop())

	poller.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	poller.Stop()

	mu.Lock()
	after := delivered
	mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, delivered, "no frames arrive after Stop returns")
	mu.Unlock()

	// Stopping twice is harmless.
	poller.Stop()
}

func TestPoller_DoubleStartIsNoOp(t *testing.T) {
	agent := &screenshotAgent{}
	poller := New("rig-01", agent, config.PreviewConfig{Interval: time.Millisecond},
		func(Frame) {}, zap.NewNop())

	poller.Start(context.Background())
	poller.Start(context.Background()) // ignored while running
	poller.Stop()

	// After a full stop the poller can be started again.
	poller.Start(context.Background())
	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.calls > 0
	}, time.Second, time.Millisecond)
	poller.Stop()
}
