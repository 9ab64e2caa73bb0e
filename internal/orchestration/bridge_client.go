package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/citybrain/modal-bridge/internal/models"
)

// Bridge is the boundary the session submits queries across. Invoke blocks
// until the bridge answers; there is no partial or streaming delivery.
type Bridge interface {
	Invoke(ctx context.Context, query string) (*BridgeResponse, error)
}

// BridgeClientInterface defines the full bridge client surface, including
// the optional status probes the chat CLI uses.
type BridgeClientInterface interface {
	Bridge
	Status(ctx context.Context) (*BridgeStatus, error)
	IsHealthy(ctx context.Context) bool
}

// BridgeResponse is the boundary's answer to one query. The bridge may have
// already normalized the Modal output (AnalysisText set), or it may forward
// raw passthrough text for client-side recovery (RawOutput set). Body keeps
// the undecoded response so the client can re-run extraction even when the
// bridge spoke a shape this struct does not model.
type BridgeResponse struct {
	AnalysisText string          `json:"analysis_text,omitempty"`
	ModelUsed    string          `json:"model_used,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
	Status       string          `json:"status,omitempty"`
	RawOutput    string          `json:"raw_output,omitempty"`
	Message      string          `json:"message,omitempty"`

	Body []byte `json:"-"`
}

// BridgeStatus is the bridge's view of the Modal deployment.
type BridgeStatus struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ModalVersion string `json:"modal_version,omitempty"`
	AppDeployed  bool   `json:"app_deployed"`
}

// BridgeClient talks to the bridge server over HTTP.
type BridgeClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewBridgeClient creates a bridge client configured from the environment.
func NewBridgeClient() *BridgeClient {
	baseURL := os.Getenv("BRIDGE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:5001"
		log.Printf("WARN: BRIDGE_URL not set, defaulting to %s", baseURL)
	}

	settings := gobreaker.Settings{
		Name:        "modal-bridge",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &BridgeClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Modal runs are slow; leave headroom over the bridge's own
			// invocation timeout.
			Timeout: 330 * time.Second,
		},
		tracer:  otel.Tracer("bridge-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes.
func (c *BridgeClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Invoke submits one query to the bridge and waits for its answer. Every
// failure mode - unreachable bridge, non-success status, open circuit
// breaker - comes back as a *models.TransportError.
func (c *BridgeClient) Invoke(ctx context.Context, query string) (*BridgeResponse, error) {
	ctx, span := c.tracer.Start(ctx, "bridge.invoke")
	defer span.End()

	span.SetAttributes(attribute.Int("query.length", len(query)))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.invokeInternal(ctx, query)
	})
	if err != nil {
		span.RecordError(err)
		var terr *models.TransportError
		if errors.As(err, &terr) {
			return nil, terr
		}
		return nil, &models.TransportError{Reason: err.Error()}
	}

	return result.(*BridgeResponse), nil
}

func (c *BridgeClient) invokeInternal(ctx context.Context, query string) (*BridgeResponse, error) {
	jsonData, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/modal", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.TransportError{Reason: fmt.Sprintf("bridge unreachable: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Reason: fmt.Sprintf("failed to read bridge response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("bridge returned status %d", resp.StatusCode)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			reason = fmt.Sprintf("%s: %s", reason, apiErr.Error)
		}
		return nil, &models.TransportError{Reason: reason}
	}

	bridgeResp := &BridgeResponse{Body: body}
	// Tolerate a bridge that speaks a shape we do not model; the session
	// re-runs extraction on Body in that case.
	if err := json.Unmarshal(body, bridgeResp); err != nil {
		log.Printf("WARN: bridge response is not a recognized JSON shape: %v", err)
	}
	return bridgeResp, nil
}

// Status queries the bridge's Modal deployment probe.
func (c *BridgeClient) Status(ctx context.Context) (*BridgeStatus, error) {
	ctx, span := c.tracer.Start(ctx, "bridge.status")
	defer span.End()

	url := fmt.Sprintf("%s/api/modal/status", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, &models.TransportError{Reason: fmt.Sprintf("bridge unreachable: %v", err)}
	}
	defer resp.Body.Close()

	var status BridgeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// IsHealthy checks the bridge's liveness endpoint.
func (c *BridgeClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "bridge.health_check")
	defer span.End()

	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))
	return healthy
}
