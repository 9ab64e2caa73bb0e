package models

import "fmt"

// ExtractionError reports that no valid JSON value could be recovered from
// the raw Modal output. Recovered locally via the fallback responder; never
// shown to the user as a parser failure.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// NormalizationError reports that a JSON value was recovered but none of the
// recognized analysis shapes matched. The raw value is retained for
// diagnostics only.
type NormalizationError struct {
	Raw interface{}
}

func (e *NormalizationError) Error() string {
	return "normalization failed: no recognized analysis shape"
}

// TransportError reports that the boundary call itself failed: bridge
// unreachable, non-success status, Modal CLI missing, or timeout. Distinct
// from a parse failure so the user can tell infrastructure problems apart
// from "it answered but couldn't be parsed".
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Reason)
}

// ValidationError rejects a submission before any I/O happens: empty query,
// or a request attempted while another one is in flight.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}
