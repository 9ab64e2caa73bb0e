// Package orchestration drives one request/response cycle of the City Brain
// chat: submit a query across the bridge boundary, recover a canonical
// result from whatever came back, and append exactly one assistant message.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citybrain/modal-bridge/internal/models"
	"github.com/citybrain/modal-bridge/internal/payload"
)

// StateObserver is notified of request state transitions. Observers are
// cosmetic (loading animations and the like); the pipeline never depends on
// them.
type StateObserver interface {
	OnStateChange(from, to models.RequestState)
}

// StateObserverFunc adapts a function to the StateObserver interface.
type StateObserverFunc func(from, to models.RequestState)

func (f StateObserverFunc) OnStateChange(from, to models.RequestState) { f(from, to) }

// Session owns one chat conversation: the append-only message transcript and
// the request state machine. A session belongs to a single caller goroutine;
// concurrent submissions are rejected by state, not queued, so no locking is
// involved.
type Session struct {
	bridge    Bridge
	state     models.RequestState
	messages  []models.ChatMessage
	observers []StateObserver
	now       func() time.Time
}

// NewSession creates an idle session over the given bridge.
func NewSession(bridge Bridge) *Session {
	return &Session{
		bridge: bridge,
		state:  models.StateIdle,
		now:    time.Now,
	}
}

// AddObserver registers a state transition observer.
func (s *Session) AddObserver(observer StateObserver) {
	if observer != nil {
		s.observers = append(s.observers, observer)
	}
}

// State returns the current request state.
func (s *Session) State() models.RequestState {
	return s.state
}

// Messages returns a copy of the transcript in order.
func (s *Session) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Submit runs one query to completion and returns the assistant message that
// was appended. A blank query or a submission while a request is in flight
// is rejected with *models.ValidationError before any I/O; nothing is
// appended in that case. Every accepted submission appends the user message,
// then exactly one assistant message, and leaves the session idle again.
// There are no automatic retries and no cancellation of an in-flight
// request.
func (s *Session) Submit(ctx context.Context, query string) (models.ChatMessage, error) {
	if s.state != models.StateIdle {
		return models.ChatMessage{}, &models.ValidationError{Reason: "a request is already in flight"}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return models.ChatMessage{}, &models.ValidationError{Reason: "query must not be empty"}
	}

	s.setState(models.StateAwaitingResponse)
	s.append(models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderUser,
		Text:      query,
		Timestamp: s.now(),
	})

	resp, err := s.bridge.Invoke(ctx, query)
	assistant := s.buildAssistantMessage(query, resp, err)

	s.setState(models.StateRendering)
	s.append(assistant)
	s.setState(models.StateIdle)

	return assistant, nil
}

// buildAssistantMessage turns the bridge's answer (or failure) into the one
// assistant message for this cycle. Transport failures get an apology naming
// the reason; everything else goes through the shared extractor/normalizer,
// with the deterministic fallback as the last resort.
func (s *Session) buildAssistantMessage(query string, resp *BridgeResponse, err error) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderAssistant,
		Timestamp: s.now(),
	}

	if err != nil {
		var terr *models.TransportError
		if !errors.As(err, &terr) {
			terr = &models.TransportError{Reason: err.Error()}
		}
		msg.Text = transportApology(terr)
		return msg
	}

	if result, ok := canonical(resp); ok {
		msg.Result = &result
		return msg
	}

	if result, ok := recoverClientSide(resp); ok {
		msg.Result = &result
		return msg
	}

	msg.Text = payload.FallbackResponse(query)
	return msg
}

// canonical accepts a bridge answer the boundary already normalized.
func canonical(resp *BridgeResponse) (models.CanonicalResult, bool) {
	if resp == nil || strings.TrimSpace(resp.AnalysisText) == "" {
		return models.CanonicalResult{}, false
	}

	var raw interface{}
	if len(resp.RawResponse) > 0 {
		// Best effort; the result stands on AnalysisText alone.
		_ = json.Unmarshal(resp.RawResponse, &raw)
	}

	result, err := models.NewCanonicalResult(resp.AnalysisText, resp.ModelUsed, raw)
	if err != nil {
		return models.CanonicalResult{}, false
	}
	return result, true
}

// recoverClientSide re-applies the shared extractor and normalizer to
// whatever text the bridge forwarded. The bridge may or may not have already
// attempted this; running the identical functions here makes the outcome the
// same either way.
func recoverClientSide(resp *BridgeResponse) (models.CanonicalResult, bool) {
	if resp == nil {
		return models.CanonicalResult{}, false
	}

	for _, text := range []string{resp.RawOutput, string(resp.Body)} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		value, err := payload.Extract(text)
		if err != nil {
			continue
		}
		result, err := payload.Normalize(value)
		if err != nil {
			continue
		}
		return result, true
	}
	return models.CanonicalResult{}, false
}

func transportApology(terr *models.TransportError) string {
	return fmt.Sprintf("Sorry - I couldn't reach the City Brain analysis backend because of a connection or deployment problem: %s. Check that the bridge server is running and the Modal app is deployed, then resubmit your question.", terr.Reason)
}

func (s *Session) setState(to models.RequestState) {
	from := s.state
	s.state = to
	for _, observer := range s.observers {
		observer.OnStateChange(from, to)
	}
}

func (s *Session) append(msg models.ChatMessage) {
	s.messages = append(s.messages, msg)
}
