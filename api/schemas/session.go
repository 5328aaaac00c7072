package schemas

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionResult is the terminal outcome of an automation session.
type SessionResult string

const (
	ResultSuccess SessionResult = "SUCCESS"
	ResultFailed  SessionResult = "FAILED"
	ResultTimeout SessionResult = "TIMEOUT"
	ResultAborted SessionResult = "ABORTED"
)

// Outcome classifies a single history record.
type Outcome string

const (
	OutcomeMatched      Outcome = "MATCHED"       // find succeeded, action executed
	OutcomeStepTimeout  Outcome = "STEP_TIMEOUT"  // find attempt exhausted its window
	OutcomeActionFailed Outcome = "ACTION_FAILED" // agent rejected the action
	OutcomeTransition   Outcome = "TRANSITION"    // decision engine moved along an edge
	OutcomeVisionError  Outcome = "VISION_ERROR"  // detection call failed past retry policy
)

// HistoryRecord is one entry in a session's ordered execution log.
type HistoryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Cursor    string    `json:"cursor"` // step id or state id at the time of the record
	Outcome   Outcome   `json:"outcome"`
	From      string    `json:"from,omitempty"` // transition edge, decision engine only
	To        string    `json:"to,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Session tracks one automation run on one SUT from launch to terminal
// result. The owning worker's goroutine is the only writer; concurrent status
// queries read through Snapshot.
type Session struct {
	ID        string
	SutID     string
	Game      *GameConfig
	StartedAt time.Time

	mu      sync.Mutex
	cursor  string
	retries int
	history []HistoryRecord
	result  SessionResult
}

// NewSession creates a session bound to a SUT and game.
func NewSession(sutID string, game *GameConfig) *Session {
	return &Session{
		ID:        uuid.NewString(),
		SutID:     sutID,
		Game:      game,
		StartedAt: time.Now(),
	}
}

// Record appends one history entry, stamping it if the caller left the
// timestamp zero.
func (s *Session) Record(rec HistoryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.history = append(s.history, rec)
	s.mu.Unlock()
}

// Advance moves the cursor. Engines only ever call this forward (linear) or
// along a declared edge (decision engine).
func (s *Session) Advance(cursor string) {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
}

// Cursor returns the current step/state pointer.
func (s *Session) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// AddRetry bumps the cumulative retry counter.
func (s *Session) AddRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// Finish records the terminal result. The first terminal result wins;
// subsequent calls are ignored.
func (s *Session) Finish(result SessionResult) {
	s.mu.Lock()
	if s.result == "" {
		s.result = result
	}
	s.mu.Unlock()
}

// Result returns the terminal result, or empty while the session is live.
func (s *Session) Result() SessionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SessionSnapshot is a point-in-time, copy-safe view of a session.
type SessionSnapshot struct {
	ID        string          `json:"id"`
	SutID     string          `json:"sut_id"`
	Game      string          `json:"game"`
	StartedAt time.Time       `json:"started_at"`
	Cursor    string          `json:"cursor"`
	Retries   int             `json:"retries"`
	History   []HistoryRecord `json:"history"`
	Result    SessionResult   `json:"result,omitempty"`
}

// Snapshot copies the session state for external observers.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]HistoryRecord, len(s.history))
	copy(history, s.history)
	game := ""
	if s.Game != nil {
		game = s.Game.Name
	}
	return SessionSnapshot{
		ID:        s.ID,
		SutID:     s.SutID,
		Game:      game,
		StartedAt: s.StartedAt,
		Cursor:    s.cursor,
		Retries:   s.retries,
		History:   history,
		Result:    s.result,
	}
}
