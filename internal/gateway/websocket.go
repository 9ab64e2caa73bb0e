package gateway

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/citybrain/modal-bridge/internal/models"
	"github.com/citybrain/modal-bridge/internal/orchestration"
)

var wsTracer = otel.Tracer("chat-websocket")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge serves an open demo API; same policy here.
		return true
	},
}

// ChatEvent is one message pushed to the browser over the chat socket.
// "state" events mirror the session's request state transitions and exist
// only to drive loading indicators; "message" events carry a transcript
// entry; "rejected" reports a validation rejection without appending
// anything.
type ChatEvent struct {
	Type    string              `json:"type"`
	From    string              `json:"from,omitempty"`
	To      string              `json:"to,omitempty"`
	Message *models.ChatMessage `json:"message,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

// chatRequest is what the browser sends: one query per message.
type chatRequest struct {
	Query string `json:"query"`
}

// ChatSocket handles GET /api/ws/chat. Each connection owns one chat
// session driven entirely from this goroutine; queries are processed one at
// a time, run to completion.
func (h *Handler) ChatSocket(c *gin.Context) {
	ctx, span := wsTracer.Start(c.Request.Context(), "chat_websocket.session")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade chat connection: %v", err)
		return
	}
	defer conn.Close()

	session := orchestration.NewSession(h.LocalBridge())
	session.AddObserver(orchestration.StateObserverFunc(func(from, to models.RequestState) {
		// Submit runs on this goroutine, so writes never interleave.
		if err := conn.WriteJSON(ChatEvent{Type: "state", From: from.String(), To: to.String()}); err != nil {
			log.Printf("Chat state write error: %v", err)
		}
	}))

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Chat connection closed")
			} else {
				log.Printf("Chat connection read error: %v", err)
			}
			return
		}

		msg, err := session.Submit(ctx, req.Query)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				if werr := conn.WriteJSON(ChatEvent{Type: "rejected", Reason: verr.Reason}); werr != nil {
					log.Printf("Chat write error: %v", werr)
					return
				}
				continue
			}
			span.RecordError(err)
			log.Printf("Chat submit error: %v", err)
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "submit failed"))
			return
		}

		if err := conn.WriteJSON(ChatEvent{Type: "message", Message: &msg}); err != nil {
			log.Printf("Chat write error: %v", err)
			return
		}
	}
}
