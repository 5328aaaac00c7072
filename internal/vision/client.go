// File: internal/vision/client.go
// Description: Uniform client for the external UI-detection service. The
// concrete model behind the endpoint (OmniParser, an LM Studio vision model)
// is irrelevant to callers; every backend reduces to Detect(image) → elements.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServiceError wraps any failure of the detection call. It sits in the hot
// loop of every decision cycle, so callers retry it per their step/state
// retry policy rather than blocking here.
type ServiceError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision service (%s) returned status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vision service (%s) call failed: %v", e.Backend, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// New selects the backend named in the configuration. All backends share the
// same HTTP detector; only the detect path differs.
func New(cfg config.VisionConfig, logger *zap.Logger) (schemas.VisionClient, error) {
	detectPath := ""
	switch cfg.Backend {
	case "omniparser":
		detectPath = "/parse"
	case "lmstudio":
		detectPath = "/detect"
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}

	return &httpDetector{
		backend:       cfg.Backend,
		endpoint:      cfg.Endpoint + detectPath,
		minConfidence: cfg.MinConfidence,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger.Named("vision").With(zap.String("backend", cfg.Backend)),
	}, nil
}

type httpDetector struct {
	backend       string
	endpoint      string
	minConfidence float64
	httpClient    *http.Client
	logger        *zap.Logger
}

type detectRequest struct {
	Image string `json:"image"` // base64-encoded screenshot
}

type detectResponse struct {
	Elements []schemas.DetectedElement `json:"elements"`
}

// Detect submits one screenshot and returns the detected elements. An empty
// element list is a successful result, not an error: a blank loading screen
// legitimately contains nothing to find.
func (d *httpDetector) Detect(ctx context.Context, image []byte) ([]schemas.DetectedElement, error) {
	payload, err := json.Marshal(detectRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{
			Backend:    d.backend,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(body)),
		}
	}

	var parsed detectResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ServiceError{Backend: d.backend, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	elements := parsed.Elements
	if d.minConfidence > 0 {
		filtered := elements[:0]
		for _, el := range elements {
			if el.Confidence >= d.minConfidence {
				filtered = append(filtered, el)
			}
		}
		elements = filtered
	}

	d.logger.Debug("Detection complete", zap.Int("elements", len(elements)))
	return elements, nil
}
