// api/schemas/session_test.go
package schemas

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Cases: Session Lifecycle --

func TestNewSession_Identity(t *testing.T) {
	game := &GameConfig{Name: "cyberrun"}
	s := NewSession("rig-01", game)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "rig-01", s.SutID)
	assert.Same(t, game, s.Game)
	assert.False(t, s.StartedAt.IsZero())
	assert.Empty(t, s.Result(), "a fresh session has no terminal result")
}

func TestSession_Finish_FirstResultWins(t *testing.T) {
	s := NewSession("rig-01", &GameConfig{Name: "g"})

	s.Finish(ResultTimeout)
	s.Finish(ResultSuccess)

	assert.Equal(t, ResultTimeout, s.Result(),
		"a later Finish must not overwrite the first terminal result")
}

func TestSession_RecordAndSnapshot(t *testing.T) {
	s := NewSession("rig-01", &GameConfig{Name: "g"})
	s.Advance("step-1")
	s.AddRetry()
	s.Record(HistoryRecord{Cursor: "step-1", Outcome: OutcomeMatched})
	s.Record(HistoryRecord{Cursor: "step-2", Outcome: OutcomeStepTimeout, Error: "window elapsed"})

	snap := s.Snapshot()
	assert.Equal(t, "step-1", snap.Cursor)
	assert.Equal(t, 1, snap.Retries)
	require.Len(t, snap.History, 2)
	assert.Equal(t, OutcomeMatched, snap.History[0].Outcome)
	assert.Equal(t, OutcomeStepTimeout, snap.History[1].Outcome)
	assert.False(t, snap.History[0].Timestamp.IsZero(), "records are stamped on append")

	// The snapshot is a copy; appending more history must not show up in it.
	s.Record(HistoryRecord{Cursor: "step-2", Outcome: OutcomeMatched})
	assert.Len(t, snap.History, 2)
}

// TestSession_ConcurrentReaders exercises snapshot reads racing the worker's
// writes; run with -race.
func TestSession_ConcurrentReaders(t *testing.T) {
	s := NewSession("rig-01", &GameConfig{Name: "g"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Advance("step-1")
			s.Record(HistoryRecord{Cursor: "step-1", Outcome: OutcomeMatched})
			s.AddRetry()
		}
		s.Finish(ResultSuccess)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Snapshot()
			_ = s.Cursor()
			_ = s.Result()
		}
	}()
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, ResultSuccess, snap.Result)
	assert.Len(t, snap.History, 200)
}

// -- Test Cases: State Graph Helpers --

func TestState_Terminal(t *testing.T) {
	assert.True(t, State{ID: "done"}.Terminal())
	assert.False(t, State{ID: "menu", Default: "menu"}.Terminal(),
		"a self-looping default still counts as an outgoing edge")
	assert.False(t, State{ID: "menu", Finds: []StateFind{{Next: "done"}}}.Terminal())
}

func TestState_Edges(t *testing.T) {
	s := State{
		ID: "menu",
		Finds: []StateFind{
			{Next: "loading"},
			{Next: "settings"},
		},
		Default: "menu",
	}
	assert.Equal(t, []string{"loading", "settings", "menu"}, s.Edges())
}

func TestGameConfig_StepBased(t *testing.T) {
	assert.True(t, (&GameConfig{Steps: []Step{{ID: 1}}}).StepBased())
	assert.False(t, (&GameConfig{States: map[string]State{"a": {ID: "a"}}}).StepBased())
}

// -- Test Cases: Campaign Accounting --

func TestCampaign_TotalRuns(t *testing.T) {
	c := &Campaign{Entries: []*CampaignEntry{
		{Game: &GameConfig{Name: "a"}, RunCount: 3},
		{Game: &GameConfig{Name: "b"}, RunCount: 2},
	}}
	assert.Equal(t, 5, c.TotalRuns())
}

func TestSUT_BaseURL(t *testing.T) {
	sut := &SUT{Address: "10.0.0.5", Port: 8192}
	assert.Equal(t, "http://10.0.0.5:8192", sut.BaseURL())
}
