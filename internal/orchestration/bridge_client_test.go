package orchestration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citybrain/modal-bridge/internal/models"
)

func TestNewBridgeClient(t *testing.T) {
	client := NewBridgeClient()

	assert.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.tracer)
	assert.NotNil(t, client.breaker)
	assert.NotEmpty(t, client.baseURL)
}

func TestBridgeClient_Invoke(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedError  string
		check          func(t *testing.T, resp *BridgeResponse)
	}{
		{
			name: "normalized_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/modal", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req map[string]string
				err := json.NewDecoder(r.Body).Decode(&req)
				assert.NoError(t, err)
				assert.Equal(t, "traffic on 5th Ave", req["query"])

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"analysis_text": "Closing 5th Ave increases cross-town load.",
					"model_used":    "Llama-3",
				})
			},
			check: func(t *testing.T, resp *BridgeResponse) {
				assert.Equal(t, "Closing 5th Ave increases cross-town load.", resp.AnalysisText)
				assert.Equal(t, "Llama-3", resp.ModelUsed)
			},
		},
		{
			name: "passthrough_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status":     "passthrough",
					"raw_output": "Loading...\n{\"x\":1}",
				})
			},
			check: func(t *testing.T, resp *BridgeResponse) {
				assert.Equal(t, "passthrough", resp.Status)
				assert.Equal(t, "Loading...\n{\"x\":1}", resp.RawOutput)
				assert.NotEmpty(t, resp.Body)
			},
		},
		{
			name: "server_error_with_reason",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"error":"modal run exited with status 1"}`))
			},
			expectedError: "bridge returned status 502: modal run exited with status 1",
		},
		{
			name: "server_error_plain_body",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			expectedError: "bridge returned status 500",
		},
		{
			name: "unmodeled_json_body_retained",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"llm_analysis":{"full_analysis":"X"}}`))
			},
			check: func(t *testing.T, resp *BridgeResponse) {
				assert.Empty(t, resp.AnalysisText)
				assert.JSONEq(t, `{"llm_analysis":{"full_analysis":"X"}}`, string(resp.Body))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := NewBridgeClient()
			client.SetBaseURL(server.URL)

			resp, err := client.Invoke(context.Background(), "traffic on 5th Ave")

			if tt.expectedError != "" {
				require.Error(t, err)
				var terr *models.TransportError
				require.ErrorAs(t, err, &terr)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
				tt.check(t, resp)
			}
		})
	}
}

func TestBridgeClient_InvokeUnreachable(t *testing.T) {
	client := NewBridgeClient()
	client.SetBaseURL("http://127.0.0.1:1")

	_, err := client.Invoke(context.Background(), "q")
	var terr *models.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "bridge unreachable")
}

func TestBridgeClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/modal/status", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(BridgeStatus{
			Status:       "success",
			Message:      "Modal app city-brain-urban-planning is deployed",
			ModalVersion: "modal client version: 0.62.0",
			AppDeployed:  true,
		})
	}))
	defer server.Close()

	client := NewBridgeClient()
	client.SetBaseURL(server.URL)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", status.Status)
	assert.True(t, status.AppDeployed)
	assert.Contains(t, status.ModalVersion, "0.62.0")
}

func TestBridgeClient_IsHealthy(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedHealth bool
	}{
		{
			name: "healthy_bridge",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"status": "healthy"}`))
			},
			expectedHealth: true,
		},
		{
			name: "unhealthy_bridge",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			expectedHealth: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := NewBridgeClient()
			client.SetBaseURL(server.URL)

			assert.Equal(t, tt.expectedHealth, client.IsHealthy(context.Background()))
		})
	}
}

func TestBridgeClient_CircuitBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Service unavailable"))
	}))
	defer server.Close()

	client := NewBridgeClient()
	client.SetBaseURL(server.URL)

	for i := 0; i < 10; i++ {
		_, err := client.Invoke(context.Background(), "q")
		require.Error(t, err)

		var terr *models.TransportError
		require.ErrorAs(t, err, &terr, "breaker failures still surface as transport errors")

		if i > 5 && strings.Contains(err.Error(), "circuit breaker is open") {
			return
		}
	}
	t.Fatal("circuit breaker never opened")
}

func TestBridgeClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"analysis_text":"A"}`))
	}))
	defer server.Close()

	client := NewBridgeClient()
	client.SetBaseURL(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Invoke(ctx, "q")
	require.Error(t, err)
	var terr *models.TransportError
	assert.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "context deadline exceeded")
}
