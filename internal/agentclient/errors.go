package agentclient

import "fmt"

// ConnectionError means the agent was unreachable or the call timed out at
// the transport level. Distinct from AgentError, where the agent answered but
// rejected the request.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("agent connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AgentError is a non-2xx response from a reachable agent, carrying the
// agent's reported reason. Never retried at the call level.
type AgentError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent rejected %s (status %d): %s", e.Op, e.StatusCode, e.Reason)
}

// ActionExecutionError means the agent acknowledged an action request but
// reported that execution failed. Counted as a step failure, subject to the
// step's retry policy.
type ActionExecutionError struct {
	Action string
	Reason string
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q failed on agent: %s", e.Action, e.Reason)
}

// ProcessLaunchError is fatal to the session; launches are never retried.
type ProcessLaunchError struct {
	Path   string
	Reason string
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("failed to launch %q: %s", e.Path, e.Reason)
}
