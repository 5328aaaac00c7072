package schemas

import "time"

// RetryPolicy bounds re-attempts of a failed step. The default curve is a
// fixed interval between attempts; Exponential opts a step into exponentially
// growing delays instead. MaxRetries of zero means one attempt, no retry.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Exponential bool          `json:"exponential" yaml:"exponential"`
}

// Step is one find-then-act unit of a linear automation flow. Steps execute
// strictly in ascending ID order.
type Step struct {
	ID          int           `json:"id"`
	Description string        `json:"description"`
	Find        FindSpec      `json:"find"`
	Action      Action        `json:"action"`
	Timeout     time.Duration `json:"timeout"`
	Retry       RetryPolicy   `json:"retry"`
}

// StateFind couples one FindSpec with the action and transition it triggers.
// A state's StateFinds are evaluated in declared priority order.
type StateFind struct {
	Find   FindSpec `json:"find"`
	Action *Action  `json:"action,omitempty"`
	Next   string   `json:"next"`
}

// State is a node in a decision-engine graph. A state with no finds and no
// default transition is terminal; reaching it ends the session successfully.
type State struct {
	ID      string        `json:"id"`
	Finds   []StateFind   `json:"finds,omitempty"`
	Default string        `json:"default,omitempty"` // timeout transition target, may self-loop
	Timeout time.Duration `json:"timeout"`
}

// Terminal reports whether the state declares no outgoing transitions.
func (s State) Terminal() bool {
	return len(s.Finds) == 0 && s.Default == ""
}

// Edges returns every transition target the state declares.
func (s State) Edges() []string {
	edges := make([]string, 0, len(s.Finds)+1)
	for _, sf := range s.Finds {
		edges = append(edges, sf.Next)
	}
	if s.Default != "" {
		edges = append(edges, s.Default)
	}
	return edges
}

// GameConfig is the immutable description of one game's startup/benchmark
// flow: metadata plus either an ordered step sequence or a state graph.
type GameConfig struct {
	Name              string        `json:"name"`
	Path              string        `json:"path"`           // executable path or store app ID on the SUT
	ProcessMarker     string        `json:"process_marker"` // process name the agent tracks after launch
	StartupWait       time.Duration `json:"startup_wait"`
	BenchmarkDuration time.Duration `json:"benchmark_duration"`
	SteamUsername     string        `json:"steam_username,omitempty"`
	SteamPassword     string        `json:"-"`

	// Exactly one of the two shapes is populated.
	Steps        []Step           `json:"steps,omitempty"` // ascending by ID
	States       map[string]State `json:"states,omitempty"`
	InitialState string           `json:"initial_state,omitempty"`
	TargetState  string           `json:"target_state,omitempty"`
}

// StepBased reports whether the config drives the linear step engine rather
// than the decision engine.
func (g *GameConfig) StepBased() bool {
	return len(g.Steps) > 0
}
