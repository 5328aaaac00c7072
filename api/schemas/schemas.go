package schemas

import "fmt"

// SutStatus describes the lifecycle state of a registered SUT.
type SutStatus string

const (
	SutIdle         SutStatus = "IDLE"
	SutRunning      SutStatus = "RUNNING"
	SutError        SutStatus = "ERROR"
	SutDisconnected SutStatus = "DISCONNECTED"
)

// SUT identifies one remote gaming machine running the agent process.
type SUT struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Port    int       `json:"port"`
	Status  SutStatus `json:"status"`
}

// BaseURL returns the root URL of the agent listening on this SUT.
func (s *SUT) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Address, s.Port)
}

// MatchMode controls how a FindSpec's expected text is compared against
// detected element text.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

// Region is a rectangular screen area in pixels. A FindSpec with a Region only
// matches elements whose center falls inside it.
type Region struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Contains reports whether the point (x, y) lies inside the region.
func (r Region) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// ActionType enumerates the input actions the agent can execute.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionKey    ActionType = "key"
	ActionWait   ActionType = "wait"
	ActionCustom ActionType = "custom"
)

// Action is a single input command sent to the agent after a successful find.
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// WithTarget returns a copy of the action with the click target coordinates
// filled in from a matched element. The original action is not modified.
func (a Action) WithTarget(x, y float64) Action {
	params := make(map[string]any, len(a.Params)+2)
	for k, v := range a.Params {
		params[k] = v
	}
	params["x"] = x
	params["y"] = y
	return Action{Type: a.Type, Params: params}
}

// DetectedElement is a single UI element reported by the vision service for
// one screenshot. Transient; never persisted.
type DetectedElement struct {
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Type       string     `json:"type"`
}

// Center returns the midpoint of the element's bounding box.
func (e DetectedElement) Center() (x, y float64) {
	return (e.BBox[0] + e.BBox[2]) / 2, (e.BBox[1] + e.BBox[3]) / 2
}

// ProcessStatus is the agent's report on a launched game process.
type ProcessStatus struct {
	Running      bool `json:"running"`
	Foregrounded bool `json:"foregrounded"`
}

// Resolution is the SUT's screen size as reported by the agent.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
