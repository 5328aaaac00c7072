// File: api/schemas/interfaces.go
// Description: Cross-package capability interfaces. Components accept these
// and return concrete types, keeping the composition root in charge of wiring.
package schemas

import "context"

// AgentClient is the typed request/response surface of the controller↔agent
// protocol. One client exists per SUT and is owned exclusively by that SUT's
// worker; no call mutates state shared across sessions.
type AgentClient interface {
	// Screenshot captures the SUT's screen as encoded image bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// SendAction executes one input action on the SUT.
	SendAction(ctx context.Context, action Action) error
	// LaunchProcess starts the game described by the config and returns its pid.
	LaunchProcess(ctx context.Context, game *GameConfig) (int, error)
	// ProcessStatus reports whether the marked process is running and foregrounded.
	ProcessStatus(ctx context.Context, marker string) (ProcessStatus, error)
	// HealthCheck verifies the agent is reachable and responsive.
	HealthCheck(ctx context.Context) error
}

// VisionClient reduces every detection backend to a single capability:
// image in, detected elements out. An empty result is success, not an error.
type VisionClient interface {
	Detect(ctx context.Context, image []byte) ([]DetectedElement, error)
}

// Engine drives one session's interaction loop to a terminal result.
// Implementations: the linear step engine and the decision (state machine)
// engine, selected by the game config's shape.
type Engine interface {
	Run(ctx context.Context) (SessionResult, error)
}
