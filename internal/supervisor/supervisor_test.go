// internal/supervisor/supervisor_test.go
package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

// scriptedRunner fakes a worker: it blocks until released (or the context
// ends) and returns a fixed result.
type scriptedRunner struct {
	result  schemas.SessionResult
	release chan struct{} // nil means return immediately

	mu           sync.Mutex
	runs         int
	onDisconnect func()
}

func (r *scriptedRunner) Run(ctx context.Context, session *schemas.Session) schemas.SessionResult {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return schemas.ResultAborted
		}
	}
	return r.result
}

func (r *scriptedRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func newTestSupervisor(t *testing.T, runner *scriptedRunner) *Supervisor {
	t.Helper()
	factory := func(sut *schemas.SUT, onDisconnect func()) SessionRunner {
		runner.mu.Lock()
		runner.onDisconnect = onDisconnect
		runner.mu.Unlock()
		return runner
	}
	return New(config.Default(), nil, zap.NewNop(), WithRunnerFactory(factory))
}

func testSut(id string) *schemas.SUT {
	return &schemas.SUT{ID: id, Name: id, Address: "127.0.0.1", Port: 9000}
}

func testGame() *schemas.GameConfig {
	return &schemas.GameConfig{Name: "test-game", Steps: []schemas.Step{{ID: 1}}}
}

// -- Test Cases: Registration --

func TestSupervisor_RegisterAndRemove(t *testing.T) {
	sup := newTestSupervisor(t, &scriptedRunner{result: schemas.ResultSuccess})

	require.NoError(t, sup.Register(testSut("rig-01")))
	assert.Error(t, sup.Register(testSut("rig-01")), "duplicate registration is rejected")
	assert.Equal(t, []string{"rig-01"}, sup.SUTs())

	status, snap, err := sup.Status("rig-01")
	require.NoError(t, err)
	assert.Equal(t, schemas.SutIdle, status)
	assert.Nil(t, snap, "no session has run yet")

	require.NoError(t, sup.Remove("rig-01"))
	assert.ErrorIs(t, sup.Remove("rig-01"), ErrUnknownSut)
}

func TestSupervisor_AssignUnknownSut(t *testing.T) {
	sup := newTestSupervisor(t, &scriptedRunner{result: schemas.ResultSuccess})

	_, err := sup.Assign(context.Background(), "ghost", testGame())
	assert.ErrorIs(t, err, ErrUnknownSut)
}

// -- Test Cases: Assignment Gating --

func TestSupervisor_AssignRunsSessionToCompletion(t *testing.T) {
	runner := &scriptedRunner{result: schemas.ResultSuccess}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultSuccess, result)
	assert.Equal(t, 1, runner.runCount())

	// The SUT returns to the idle pool and can be assigned again.
	status, snap, err := sup.Status("rig-01")
	require.NoError(t, err)
	assert.Equal(t, schemas.SutIdle, status)
	require.NotNil(t, snap, "the finished session remains queryable")
	assert.Equal(t, schemas.ResultSuccess, snap.Result)

	handle2, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)
	_, err = handle2.Wait(context.Background())
	require.NoError(t, err)
}

// TestSupervisor_ConcurrentAssignExactlyOneWins races many assigns at one
// idle SUT: exactly one must win, the rest get ErrSutBusy.
func TestSupervisor_ConcurrentAssignExactlyOneWins(t *testing.T) {
	release := make(chan struct{})
	runner := &scriptedRunner{result: schemas.ResultSuccess, release: release}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	var busy int
	handles := make([]*SessionHandle, 0, 1)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := sup.Assign(context.Background(), "rig-01", testGame())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				handles = append(handles, handle)
				return
			}
			if errors.Is(err, ErrSutBusy) {
				busy++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one assignment may win the idle slot")
	assert.Equal(t, attempts-1, busy, "every loser sees ErrSutBusy")
	assert.Equal(t, 1, runner.runCount())

	close(release)
	require.Len(t, handles, 1)
	_, err := handles[0].Wait(context.Background())
	require.NoError(t, err)
}

func TestSupervisor_RemoveBusySutFails(t *testing.T) {
	release := make(chan struct{})
	runner := &scriptedRunner{result: schemas.ResultSuccess, release: release}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	err = sup.Remove("rig-01")
	assert.ErrorIs(t, err, ErrSutBusy)

	close(release)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sup.Remove("rig-01"), "removal succeeds once the session ends")
}

// -- Test Cases: Stop --

func TestSupervisor_StopCancelsActiveSession(t *testing.T) {
	runner := &scriptedRunner{result: schemas.ResultSuccess, release: make(chan struct{})}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	require.NoError(t, sup.Stop("rig-01"))

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultAborted, result, "a stopped session aborts cooperatively")

	assert.ErrorIs(t, sup.Stop("rig-01"), ErrNoActiveSession)
}

func TestSupervisor_StopUnknownSut(t *testing.T) {
	sup := newTestSupervisor(t, &scriptedRunner{result: schemas.ResultSuccess})
	assert.ErrorIs(t, sup.Stop("ghost"), ErrUnknownSut)
}

// -- Test Cases: Disconnect Handling --

func TestSupervisor_DisconnectSurvivesSessionTeardown(t *testing.T) {
	runner := &scriptedRunner{result: schemas.ResultFailed, release: make(chan struct{})}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	// The health monitor declares the SUT dead mid-session.
	runner.mu.Lock()
	onDisconnect := runner.onDisconnect
	runner.mu.Unlock()
	require.NotNil(t, onDisconnect)
	onDisconnect()
	close(runner.release)

	_, err = handle.Wait(context.Background())
	require.NoError(t, err)

	status, _, err := sup.Status("rig-01")
	require.NoError(t, err)
	assert.Equal(t, schemas.SutDisconnected, status,
		"the disconnected status must not be reset to idle by session teardown")

	// No new work lands on a disconnected SUT.
	_, err = sup.Assign(context.Background(), "rig-01", testGame())
	assert.ErrorIs(t, err, ErrSutBusy)

	// An operator reconnect returns it to the pool.
	require.NoError(t, sup.Reconnect("rig-01"))
	status, _, err = sup.Status("rig-01")
	require.NoError(t, err)
	assert.Equal(t, schemas.SutIdle, status)
}

// -- Test Cases: Session Handle --

func TestSessionHandle_WaitHonorsContext(t *testing.T) {
	runner := &scriptedRunner{result: schemas.ResultSuccess, release: make(chan struct{})}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(runner.release)
	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultSuccess, result)
}

func TestSessionHandle_SnapshotWhileLive(t *testing.T) {
	runner := &scriptedRunner{result: schemas.ResultSuccess, release: make(chan struct{})}
	sup := newTestSupervisor(t, runner)
	require.NoError(t, sup.Register(testSut("rig-01")))

	handle, err := sup.Assign(context.Background(), "rig-01", testGame())
	require.NoError(t, err)

	snap := handle.Snapshot()
	assert.Equal(t, "rig-01", snap.SutID)
	assert.Equal(t, "test-game", snap.Game)
	assert.Empty(t, snap.Result, "the session is still live")

	close(runner.release)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)
}
