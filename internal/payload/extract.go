// Package payload converts the Modal CLI's mixed diagnostic/JSON output into
// the canonical analysis result consumed by rendering. The same functions run
// on both sides of the bridge boundary, so recovery behaves identically
// whether the bridge or the chat client performs it.
package payload

import (
	"encoding/json"
	"strings"

	"github.com/citybrain/modal-bridge/internal/models"
)

// Extract recovers a JSON value from text that interleaves human-readable
// progress lines with a single JSON payload. Ordered attempts, first success
// wins:
//
//  1. parse the entire text
//  2. locate the first '{' (later braces are never considered)
//  3. parse from that brace to the end
//  4. trim lines off the bottom one at a time and re-parse
//
// The bottom-trim heuristic assumes the payload precedes any trailing
// diagnostics. If Modal ever prints diagnostics after a truncated payload
// instead, extraction fails into the fallback path; this is a best-effort
// recovery, not a guaranteed parser.
//
// Failure is returned as a *models.ExtractionError, never a panic.
func Extract(text string) (interface{}, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &models.ExtractionError{Reason: "empty output"}
	}

	if value, ok := tryParse(trimmed); ok {
		return value, nil
	}

	start := strings.IndexByte(trimmed, '{')
	if start < 0 {
		return nil, &models.ExtractionError{Reason: "no JSON object found in output"}
	}

	candidate := trimmed[start:]
	if value, ok := tryParse(candidate); ok {
		return value, nil
	}

	lines := strings.Split(candidate, "\n")
	for end := len(lines) - 1; end >= 1; end-- {
		if value, ok := tryParse(strings.Join(lines[:end], "\n")); ok {
			return value, nil
		}
	}

	return nil, &models.ExtractionError{Reason: "no parseable JSON in output"}
}

func tryParse(text string) (interface{}, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, false
	}
	return value, true
}
