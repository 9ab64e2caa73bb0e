package orchestration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citybrain/modal-bridge/internal/models"
	"github.com/citybrain/modal-bridge/internal/payload"
)

// fakeBridge returns a scripted response or error and counts invocations.
type fakeBridge struct {
	resp    *BridgeResponse
	err     error
	invoked int
}

func (f *fakeBridge) Invoke(ctx context.Context, query string) (*BridgeResponse, error) {
	f.invoked++
	return f.resp, f.err
}

func TestSubmit_PreNormalizedResponse(t *testing.T) {
	bridge := &fakeBridge{
		resp: &BridgeResponse{
			AnalysisText: "Closing 5th Ave increases cross-town load.",
			ModelUsed:    "Llama-3",
			RawResponse:  json.RawMessage(`{"llm_analysis":{}}`),
		},
	}
	session := NewSession(bridge)

	msg, err := session.Submit(context.Background(), "traffic on 5th Ave")
	require.NoError(t, err)

	require.NotNil(t, msg.Result)
	assert.Equal(t, "Closing 5th Ave increases cross-town load.", msg.Result.AnalysisText)
	assert.Equal(t, "Llama-3", msg.Result.ModelUsed)
	assert.Equal(t, models.SenderAssistant, msg.Sender)
	assert.Equal(t, models.StateIdle, session.State())
}

func TestSubmit_PassthroughRecoveredClientSide(t *testing.T) {
	raw := "Loading model...\n{\"llm_analysis\":{\"analysis\":{\"full_analysis\":\"Closing 5th Ave increases cross-town load.\",\"model_used\":\"Llama-3\"}}}\nDone."
	bridge := &fakeBridge{
		resp: &BridgeResponse{
			Status:    "passthrough",
			RawOutput: raw,
		},
	}
	session := NewSession(bridge)

	msg, err := session.Submit(context.Background(), "traffic on 5th Ave")
	require.NoError(t, err)

	require.NotNil(t, msg.Result)
	assert.Equal(t, "Closing 5th Ave increases cross-town load.", msg.Result.AnalysisText)
	assert.Equal(t, "Llama-3", msg.Result.ModelUsed)
}

func TestSubmit_UnmodeledBridgeShapeRecoveredFromBody(t *testing.T) {
	// An older bridge that forwards the Modal payload verbatim instead of
	// the passthrough envelope.
	body := []byte(`{"llm_analysis":{"full_analysis":"X","model_used":"M"},"status":"success"}`)
	bridge := &fakeBridge{resp: &BridgeResponse{Body: body, Status: "success"}}
	session := NewSession(bridge)

	msg, err := session.Submit(context.Background(), "q")
	require.NoError(t, err)

	require.NotNil(t, msg.Result)
	assert.Equal(t, "X", msg.Result.AnalysisText)
	assert.Equal(t, "M", msg.Result.ModelUsed)
}

func TestSubmit_TransportErrorGetsApology(t *testing.T) {
	bridge := &fakeBridge{err: &models.TransportError{Reason: "connection refused"}}
	session := NewSession(bridge)

	msg, err := session.Submit(context.Background(), "traffic on 5th Ave")
	require.NoError(t, err)

	assert.Nil(t, msg.Result)
	assert.Contains(t, msg.Text, "connection or deployment problem")
	assert.Contains(t, msg.Text, "connection refused")
	assert.NotEqual(t, payload.FallbackResponse("traffic on 5th Ave"), msg.Text,
		"transport apology must be distinguishable from the fallback text")
}

func TestSubmit_UnparseableOutputFallsBack(t *testing.T) {
	bridge := &fakeBridge{
		resp: &BridgeResponse{
			Status:    "passthrough",
			RawOutput: "Loading model...\nDone.\nNothing else.",
			Body:      []byte(`{"status":"passthrough","raw_output":"Loading model...\nDone.\nNothing else."}`),
		},
	}
	session := NewSession(bridge)

	msg, err := session.Submit(context.Background(), "traffic on 5th Ave")
	require.NoError(t, err)

	assert.Nil(t, msg.Result)
	assert.Equal(t, payload.FallbackResponse("traffic on 5th Ave"), msg.Text)
}

func TestSubmit_ValidationRejections(t *testing.T) {
	t.Run("empty_query", func(t *testing.T) {
		bridge := &fakeBridge{}
		session := NewSession(bridge)

		_, err := session.Submit(context.Background(), "   \n\t ")
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)

		assert.Empty(t, session.Messages(), "rejected submit must not append messages")
		assert.Zero(t, bridge.invoked, "rejected submit must not reach the bridge")
		assert.Equal(t, models.StateIdle, session.State())
	})

	t.Run("submit_while_in_flight", func(t *testing.T) {
		session := NewSession(&fakeBridge{resp: &BridgeResponse{AnalysisText: "A"}})

		// Re-enter Submit from inside the in-flight request via an observer.
		var reentrantErr error
		session.AddObserver(StateObserverFunc(func(from, to models.RequestState) {
			if to == models.StateAwaitingResponse {
				_, reentrantErr = session.Submit(context.Background(), "second query")
			}
		}))

		_, err := session.Submit(context.Background(), "first query")
		require.NoError(t, err)

		var verr *models.ValidationError
		require.ErrorAs(t, reentrantErr, &verr)
		assert.Len(t, session.Messages(), 2, "message count unchanged by the rejected submit")
	})
}

func TestSubmit_TranscriptOrderingAndStates(t *testing.T) {
	session := NewSession(&fakeBridge{resp: &BridgeResponse{AnalysisText: "A", ModelUsed: "M"}})

	var transitions []models.RequestState
	session.AddObserver(StateObserverFunc(func(from, to models.RequestState) {
		transitions = append(transitions, to)
	}))

	_, err := session.Submit(context.Background(), "first")
	require.NoError(t, err)
	_, err = session.Submit(context.Background(), "second")
	require.NoError(t, err)

	messages := session.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, models.SenderUser, messages[0].Sender)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, models.SenderAssistant, messages[1].Sender)
	assert.Equal(t, models.SenderUser, messages[2].Sender)
	assert.Equal(t, "second", messages[2].Text)
	assert.Equal(t, models.SenderAssistant, messages[3].Sender)

	assert.Equal(t, []models.RequestState{
		models.StateAwaitingResponse, models.StateRendering, models.StateIdle,
		models.StateAwaitingResponse, models.StateRendering, models.StateIdle,
	}, transitions)
}

func TestSubmit_QueryTrimmedBeforeSend(t *testing.T) {
	bridge := &fakeBridge{resp: &BridgeResponse{AnalysisText: "A"}}
	session := NewSession(bridge)

	_, err := session.Submit(context.Background(), "  what about bike lanes?  ")
	require.NoError(t, err)

	messages := session.Messages()
	assert.Equal(t, "what about bike lanes?", messages[0].Text)
}
