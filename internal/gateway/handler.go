package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/citybrain/modal-bridge/internal/history"
	"github.com/citybrain/modal-bridge/internal/metrics"
	"github.com/citybrain/modal-bridge/internal/models"
	"github.com/citybrain/modal-bridge/internal/payload"
)

// ModalInvoker is the slice of the invoker the gateway needs.
type ModalInvoker interface {
	Invoke(ctx context.Context, query string) (*models.RawOutput, error)
	Version(ctx context.Context) (string, error)
	AppDeployed(ctx context.Context) (bool, string, error)
	AppName() string
}

// Handler handles HTTP requests for the bridge gateway.
type Handler struct {
	invoker ModalInvoker
	metrics *metrics.RequestMetrics
	history *history.Store
}

// NewHandler creates a new gateway handler. The history store may be nil.
func NewHandler(inv ModalInvoker, rm *metrics.RequestMetrics, store *history.Store) *Handler {
	return &Handler{
		invoker: inv,
		metrics: rm,
		history: store,
	}
}

// ScenarioRequest represents a scenario query request.
type ScenarioRequest struct {
	Query string `json:"query" binding:"required"`
}

// ScenarioResponse is the canonical payload returned when the Modal output
// normalized server-side.
type ScenarioResponse struct {
	AnalysisText string      `json:"analysis_text"`
	ModelUsed    string      `json:"model_used"`
	RawResponse  interface{} `json:"raw_response,omitempty"`
}

// PassthroughResponse forwards the raw Modal output when server-side
// recovery failed; the client re-runs the same extraction on it.
type PassthroughResponse struct {
	Status    string `json:"status"`
	RawOutput string `json:"raw_output"`
	Message   string `json:"message"`
}

// scenarioOutcome is the result of one pipeline run, shared by the HTTP
// handler and the in-process bridge adapter.
type scenarioOutcome struct {
	result       *models.CanonicalResult
	rawOutput    string
	message      string
	transportErr *models.TransportError
}

// runScenario executes the full boundary-side pipeline for one query:
// invoke the Modal CLI, then apply the shared extractor and normalizer.
// Metrics and the optional history store are updated here so every caller
// records outcomes the same way.
func (h *Handler) runScenario(ctx context.Context, query string) scenarioOutcome {
	h.metrics.RecordQueryReceived(ctx)
	start := time.Now()

	raw, err := h.invoker.Invoke(ctx, query)
	if err != nil {
		duration := time.Since(start)
		var terr *models.TransportError
		if !errors.As(err, &terr) {
			terr = &models.TransportError{Reason: err.Error()}
		}
		log.Printf(`{"level":"error","message":"Modal invocation failed","error":%q}`, terr.Reason)
		h.metrics.RecordTransportFailure(ctx, duration)
		h.recordExchange(ctx, history.Exchange{
			Query:    query,
			Outcome:  "transport_failed",
			Duration: duration,
		})
		return scenarioOutcome{transportErr: terr}
	}
	duration := time.Since(start)

	value, xerr := payload.Extract(raw.Text)
	if xerr != nil {
		log.Printf(`{"level":"warn","message":"Modal output not parseable, forwarding passthrough","output_length":%d}`, len(raw.Text))
		h.metrics.RecordQueryPassthrough(ctx, "extraction_failed", duration)
		h.recordExchange(ctx, history.Exchange{
			Query:    query,
			Outcome:  "passthrough",
			Duration: duration,
		})
		return scenarioOutcome{
			rawOutput: raw.Text,
			message:   "Modal function executed but its output was not valid JSON",
		}
	}

	result, nerr := payload.Normalize(value)
	if nerr != nil {
		log.Printf(`{"level":"warn","message":"Modal payload in unrecognized shape, forwarding passthrough"}`)
		h.metrics.RecordQueryPassthrough(ctx, "normalization_failed", duration)
		h.recordExchange(ctx, history.Exchange{
			Query:    query,
			Outcome:  "passthrough",
			Duration: duration,
		})
		return scenarioOutcome{
			rawOutput: raw.Text,
			message:   "Modal function returned JSON in an unrecognized shape",
		}
	}

	h.metrics.RecordQueryParsed(ctx, result.ModelUsed, duration)
	h.recordExchange(ctx, history.Exchange{
		Query:          query,
		Outcome:        "parsed",
		ModelUsed:      result.ModelUsed,
		AnalysisLength: len(result.AnalysisText),
		Duration:       duration,
	})
	return scenarioOutcome{result: &result}
}

func (h *Handler) recordExchange(ctx context.Context, ex history.Exchange) {
	if err := h.history.RecordExchange(ctx, ex); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to record exchange","error":%q}`, err.Error())
	}
}

// Scenario godoc
// @Summary Run an urban-planning scenario query
// @Description Invokes the deployed Modal function with the query and returns either a normalized analysis or raw passthrough output
// @Tags modal
// @Accept json
// @Produce json
// @Param request body ScenarioRequest true "Scenario query"
// @Success 200 {object} ScenarioResponse
// @Failure 400 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /modal [post]
func (h *Handler) Scenario(c *gin.Context) {
	var req ScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}

	out := h.runScenario(c.Request.Context(), query)
	switch {
	case out.transportErr != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": out.transportErr.Reason})
	case out.result != nil:
		c.JSON(http.StatusOK, ScenarioResponse{
			AnalysisText: out.result.AnalysisText,
			ModelUsed:    out.result.ModelUsed,
			RawResponse:  out.result.RawResponse,
		})
	default:
		c.JSON(http.StatusOK, PassthroughResponse{
			Status:    "passthrough",
			RawOutput: out.rawOutput,
			Message:   out.message,
		})
	}
}

// Status godoc
// @Summary Check the Modal deployment
// @Description Probes the Modal CLI and reports whether the City Brain app is deployed
// @Tags modal
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /modal/status [get]
func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	version, err := h.invoker.Version(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Modal CLI not available",
		})
		return
	}

	deployed, listing, err := h.invoker.AppDeployed(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to list Modal apps",
		})
		return
	}

	if !deployed {
		c.JSON(http.StatusOK, gin.H{
			"status":         "warning",
			"message":        "Modal app " + h.invoker.AppName() + " not found",
			"modal_version":  version,
			"app_deployed":   false,
			"available_apps": listing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"message":       "Modal app " + h.invoker.AppName() + " is deployed",
		"modal_version": version,
		"app_deployed":  true,
	})
}

// History godoc
// @Summary List recent exchanges
// @Description Returns recently recorded query/response exchanges (diagnostics only)
// @Tags history
// @Produce json
// @Param limit query int false "Maximum number of exchanges"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /history [get]
func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not enabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.history.RecentExchanges(c.Request.Context(), limit)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to read history","error":%q}`, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exchanges": records})
}
