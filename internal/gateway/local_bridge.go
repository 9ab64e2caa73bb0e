package gateway

import (
	"context"
	"encoding/json"

	"github.com/citybrain/modal-bridge/internal/orchestration"
)

// localBridge adapts the gateway's own pipeline to the orchestration.Bridge
// interface, so the websocket chat endpoint drives sessions in-process
// instead of taking a loopback HTTP hop. The session still applies its
// client-side recovery to what comes back, same as over the wire.
type localBridge struct {
	handler *Handler
}

// LocalBridge returns an in-process bridge over this handler's pipeline.
func (h *Handler) LocalBridge() orchestration.Bridge {
	return &localBridge{handler: h}
}

func (b *localBridge) Invoke(ctx context.Context, query string) (*orchestration.BridgeResponse, error) {
	out := b.handler.runScenario(ctx, query)

	if out.transportErr != nil {
		return nil, out.transportErr
	}

	if out.result != nil {
		var raw json.RawMessage
		if out.result.RawResponse != nil {
			raw, _ = json.Marshal(out.result.RawResponse)
		}
		return &orchestration.BridgeResponse{
			AnalysisText: out.result.AnalysisText,
			ModelUsed:    out.result.ModelUsed,
			RawResponse:  raw,
		}, nil
	}

	return &orchestration.BridgeResponse{
		Status:    "passthrough",
		RawOutput: out.rawOutput,
		Message:   out.message,
	}, nil
}
