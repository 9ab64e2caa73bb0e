package models

import (
	"time"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ChatMessage is one entry in a chat transcript. The transcript is
// append-only and ordered by Timestamp; messages are never mutated or
// reordered after creation. Assistant messages carry either a normalized
// Result or plain Text (apology or fallback), never both.
type ChatMessage struct {
	ID        string           `json:"id"`
	Sender    Sender           `json:"sender"`
	Text      string           `json:"text,omitempty"`
	Result    *CanonicalResult `json:"result,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// DisplayText returns the text a renderer should show for this message.
func (m ChatMessage) DisplayText() string {
	if m.Result != nil {
		return m.Result.AnalysisText
	}
	return m.Text
}

// RequestState tracks the single-request-in-flight lifecycle of a chat
// session. Exactly one request may be in flight; a new query cannot be
// submitted while AwaitingResponse.
type RequestState int

const (
	StateIdle RequestState = iota
	StateAwaitingResponse
	StateRendering
)

func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateRendering:
		return "rendering"
	default:
		return "unknown"
	}
}
