package models

import (
	"errors"
	"strings"
)

// UnknownModel is the sentinel model identifier used when the upstream
// payload does not name the model that produced the analysis.
const UnknownModel = "Unknown Model"

// RawOutput is the full combined stdout/stderr text captured from one Modal
// CLI run, plus its exit code. It only lives for the duration of a request.
type RawOutput struct {
	Text     string
	ExitCode int
}

// CanonicalResult is the single normalized answer shape consumed by
// rendering, regardless of which upstream payload shape produced it.
// RawResponse keeps the extracted JSON for diagnostics and is never shown
// to the end user directly.
type CanonicalResult struct {
	AnalysisText string      `json:"analysis_text"`
	ModelUsed    string      `json:"model_used"`
	RawResponse  interface{} `json:"raw_response,omitempty"`
}

// NewCanonicalResult builds a CanonicalResult. Construction fails rather
// than producing a result with empty analysis text.
func NewCanonicalResult(analysisText, modelUsed string, raw interface{}) (CanonicalResult, error) {
	if strings.TrimSpace(analysisText) == "" {
		return CanonicalResult{}, errors.New("analysis text must not be empty")
	}
	if modelUsed == "" {
		modelUsed = UnknownModel
	}
	return CanonicalResult{
		AnalysisText: analysisText,
		ModelUsed:    modelUsed,
		RawResponse:  raw,
	}, nil
}
