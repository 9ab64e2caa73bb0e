package payload

import (
	"strings"

	"github.com/citybrain/modal-bridge/internal/models"
)

// Normalize maps an extracted JSON value onto the canonical result shape.
// Two payload shapes are accepted, first match wins:
//
//	llm_analysis.analysis.full_analysis  (+ sibling model_used)
//	llm_analysis.full_analysis           (+ sibling model_used)
//
// The second shape appears when an intermediate layer re-serializes its own
// output and drops the inner wrapper; the caller never knows which occurred.
// Keys are accepted in both snake_case (what the Modal pipeline emits) and
// camelCase (what a re-serializing layer emits).
//
// A value that is structured but matches neither shape fails with
// *models.NormalizationError, distinct from unparseable text.
func Normalize(value interface{}) (models.CanonicalResult, error) {
	if wrapper, ok := childMap(value, "llm_analysis", "llmAnalysis"); ok {
		if analysis, ok := childMap(wrapper, "analysis"); ok {
			if text, ok := nonBlankString(analysis, "full_analysis", "fullAnalysis"); ok {
				model, _ := nonBlankString(analysis, "model_used", "modelUsed")
				return models.NewCanonicalResult(text, model, value)
			}
		}
		if text, ok := nonBlankString(wrapper, "full_analysis", "fullAnalysis"); ok {
			model, _ := nonBlankString(wrapper, "model_used", "modelUsed")
			return models.NewCanonicalResult(text, model, value)
		}
	}
	return models.CanonicalResult{}, &models.NormalizationError{Raw: value}
}

// childMap descends one level into a mapping, trying each key spelling.
func childMap(value interface{}, keys ...string) (map[string]interface{}, bool) {
	parent, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	for _, key := range keys {
		if child, ok := parent[key].(map[string]interface{}); ok {
			return child, true
		}
	}
	return nil, false
}

func nonBlankString(parent map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := parent[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}
