// internal/vision/client_test.go
package vision

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/internal/config"
)

func newBackend(t *testing.T, backend string, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func visionConfig(backend, endpoint string) config.VisionConfig {
	return config.VisionConfig{
		Backend:  backend,
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
	}
}

// -- Test Cases: Backend Selection --

func TestNew_BackendRouting(t *testing.T) {
	testCases := []struct {
		backend  string
		wantPath string
	}{
		{backend: "omniparser", wantPath: "/parse"},
		{backend: "lmstudio", wantPath: "/detect"},
	}

	for _, tc := range testCases {
		t.Run(tc.backend, func(t *testing.T) {
			var gotPath string
			server := newBackend(t, tc.backend, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(`{"elements": []}`))
			})

			client, err := New(visionConfig(tc.backend, server.URL), zap.NewNop())
			require.NoError(t, err)

			_, err = client.Detect(context.Background(), []byte("img"))
			require.NoError(t, err)
			assert.Equal(t, tc.wantPath, gotPath)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(visionConfig("tesseract", "http://localhost:1"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract")
}

// -- Test Cases: Detection --

func TestDetect_DecodesElements(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {
		var req detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, base64.StdEncoding.EncodeToString(image), req.Image,
			"the screenshot travels base64-encoded")
		_, _ = w.Write([]byte(`{"elements": [
			{"bbox": [10, 20, 110, 60], "text": "PLAY", "confidence": 0.97, "type": "button"},
			{"bbox": [0, 0, 50, 20], "text": "Settings", "confidence": 0.88, "type": "button"}
		]}`))
	})

	client, err := New(visionConfig("omniparser", server.URL), zap.NewNop())
	require.NoError(t, err)

	elements, err := client.Detect(context.Background(), image)
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "PLAY", elements[0].Text)
	assert.Equal(t, [4]float64{10, 20, 110, 60}, elements[0].BBox)
}

// TestDetect_EmptyResultIsSuccess verifies a blank screen is a clean empty
// slice, never an error.
func TestDetect_EmptyResultIsSuccess(t *testing.T) {
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"elements": []}`))
	})

	client, err := New(visionConfig("omniparser", server.URL), zap.NewNop())
	require.NoError(t, err)

	elements, err := client.Detect(context.Background(), []byte("blank"))
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestDetect_MinConfidenceFilter(t *testing.T) {
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"elements": [
			{"bbox": [0, 0, 10, 10], "text": "ghost", "confidence": 0.2, "type": "text"},
			{"bbox": [0, 0, 10, 10], "text": "solid", "confidence": 0.9, "type": "button"}
		]}`))
	})

	cfg := visionConfig("omniparser", server.URL)
	cfg.MinConfidence = 0.5
	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	elements, err := client.Detect(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "solid", elements[0].Text)
}

// -- Test Cases: Service Failures --

func TestDetect_HTTPErrorIsServiceError(t *testing.T) {
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
	})

	client, err := New(visionConfig("omniparser", server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Detect(context.Background(), []byte("img"))
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "omniparser", svcErr.Backend)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
	assert.Contains(t, svcErr.Error(), "model loading")
}

func TestDetect_UnreachableServiceIsServiceError(t *testing.T) {
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {})
	endpoint := server.URL
	server.Close()

	client, err := New(visionConfig("omniparser", endpoint), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Detect(context.Background(), []byte("img"))
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Zero(t, svcErr.StatusCode, "transport failures carry no status code")
}

func TestDetect_GarbageResponseIsServiceError(t *testing.T) {
	server := newBackend(t, "omniparser", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	client, err := New(visionConfig("omniparser", server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Detect(context.Background(), []byte("img"))
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
}
