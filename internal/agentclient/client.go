// File: internal/agentclient/client.go
// Description: Typed HTTP client for the controller↔agent protocol. One
// instance per SUT, owned by that SUT's worker; connections are never shared
// across sessions.
package agentclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the agent process on one SUT.
type Client struct {
	baseURL    string
	cfg        config.AgentConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for the given SUT. The http.Client carries no global
// timeout; every call is bounded by a per-call context deadline instead.
func New(sut *schemas.SUT, cfg config.AgentConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    sut.BaseURL(),
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.Named("agent").With(zap.String("sut", sut.ID)),
	}
}

// Screenshot fetches the SUT's current screen as encoded image bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ScreenshotTimeout)
	defer cancel()

	body, err := c.get(ctx, "screenshot", "/screenshot")
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Screenshot retrieved", zap.Int("bytes", len(body)))
	return body, nil
}

type actionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SendAction executes one input action on the SUT. A 2xx response with
// ok=false is an ActionExecutionError: the agent reached the input layer but
// the action itself failed.
func (c *Client) SendAction(ctx context.Context, action schemas.Action) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := c.post(ctx, "action", "/action", action)
	if err != nil {
		return err
	}

	var resp actionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &AgentError{Op: "action", StatusCode: http.StatusOK, Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	if !resp.OK {
		return &ActionExecutionError{Action: string(action.Type), Reason: resp.Error}
	}
	c.logger.Debug("Action executed", zap.String("type", string(action.Type)))
	return nil
}

type launchRequest struct {
	Path        string `json:"path"`
	Args        string `json:"args,omitempty"`
	Marker      string `json:"marker,omitempty"`
	StartupWait int    `json:"startup_wait,omitempty"`
}

type launchResponse struct {
	PID   int    `json:"pid"`
	Error string `json:"error,omitempty"`
}

// LaunchProcess starts the game on the SUT and returns the agent-reported
// pid. Any failure surfaces as a ProcessLaunchError; launches are fatal to
// the session and never retried.
func (c *Client) LaunchProcess(ctx context.Context, game *schemas.GameConfig) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LaunchTimeout)
	defer cancel()

	req := launchRequest{
		Path:        game.Path,
		Marker:      game.ProcessMarker,
		StartupWait: int(game.StartupWait / time.Second),
	}
	body, err := c.post(ctx, "process/launch", "/process/launch", req)
	if err != nil {
		return 0, &ProcessLaunchError{Path: game.Path, Reason: err.Error()}
	}

	var resp launchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &ProcessLaunchError{Path: game.Path, Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	if resp.Error != "" {
		return 0, &ProcessLaunchError{Path: game.Path, Reason: resp.Error}
	}
	c.logger.Info("Game process launched", zap.String("path", game.Path), zap.Int("pid", resp.PID))
	return resp.PID, nil
}

// ProcessStatus reports whether the marked process is running and in the
// foreground on the SUT.
func (c *Client) ProcessStatus(ctx context.Context, marker string) (schemas.ProcessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := c.get(ctx, "process/status", "/process/status?marker="+url.QueryEscape(marker))
	if err != nil {
		return schemas.ProcessStatus{}, err
	}
	var status schemas.ProcessStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return schemas.ProcessStatus{}, &AgentError{Op: "process/status", StatusCode: http.StatusOK, Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	return status, nil
}

// HealthCheck verifies the agent answers at all. Callers decide how many
// consecutive failures amount to a disconnect.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	_, err := c.get(ctx, "health", "/health")
	return err
}

type statusResponse struct {
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
}

// Resolution asks the agent for the SUT's screen size, defaulting to
// 1920x1080 when the agent does not report one.
func (c *Client) Resolution(ctx context.Context) (schemas.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := c.get(ctx, "status", "/status")
	if err != nil {
		return schemas.Resolution{}, err
	}
	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil || status.ScreenWidth == 0 || status.ScreenHeight == 0 {
		c.logger.Warn("Agent did not report a resolution, defaulting to 1920x1080")
		return schemas.Resolution{Width: 1920, Height: 1080}, nil
	}
	return schemas.Resolution{Width: status.ScreenWidth, Height: status.ScreenHeight}, nil
}

// CancelLaunch asks the agent to abandon an in-flight launch. Best effort;
// used when a session is stopped during game startup.
func (c *Client) CancelLaunch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.post(ctx, "process/cancel", "/process/cancel", struct{}{})
	return err
}

// -- transport helpers --

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	return c.do(op, req)
}

func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure or context deadline: the agent never answered.
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := extractReason(body)
		c.logger.Warn("Agent returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason),
		)
		return nil, &AgentError{Op: op, StatusCode: resp.StatusCode, Reason: reason}
	}
	return body, nil
}

// extractReason pulls the agent's error message out of a failure body,
// falling back to the raw body text.
func extractReason(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
