package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// WSHandler keeps one socket open for the duration of an attempt so clients
// can save and submit without re-handshaking near the deadline.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type wsError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// ServeWS upgrades the request and runs the attempt message loop: the client
// receives the current attempt view on connect, then sends save/submit/read
// messages and receives typed responses.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	userID := r.URL.Query().Get("userId")
	if attemptID == "" || userID == "" {
		http.Error(w, "missing attemptId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	defer func() {
		close(send)
		<-writerDone
	}()

	view, err := h.service.ReadAttempt(r.Context(), attemptID, userID)
	if err != nil {
		trySend(send, writerDone, errorMessage(err))
		return
	}
	if !trySend(send, writerDone, outboundMessage[*app.AttemptView]{Type: "attempt", Payload: view}) {
		return
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		var out any
		switch inbound.Type {
		case "save":
			var payload answersPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				out = errorMessage(domain.InvalidInput("invalid save payload: %v", err))
				break
			}
			result, err := h.service.SaveProgress(r.Context(), attemptID, userID, payload.Answers)
			if err != nil {
				out = errorMessage(err)
				break
			}
			out = outboundMessage[*app.SaveResult]{Type: "saved", Payload: result}
		case "submit":
			var payload answersPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					out = errorMessage(domain.InvalidInput("invalid submit payload: %v", err))
					break
				}
			}
			result, err := h.service.Finalize(r.Context(), attemptID, userID, payload.Answers, app.TriggerUser)
			if err != nil {
				out = errorMessage(err)
				break
			}
			out = outboundMessage[*app.FinalizeResult]{Type: "result", Payload: result}
		case "read":
			view, err := h.service.ReadAttempt(r.Context(), attemptID, userID)
			if err != nil {
				out = errorMessage(err)
				break
			}
			out = outboundMessage[*app.AttemptView]{Type: "attempt", Payload: view}
		default:
			out = errorMessage(domain.InvalidInput("unsupported message type %q", inbound.Type))
		}
		if !trySend(send, writerDone, out) {
			return
		}
	}
}

// trySend enqueues an outbound message unless the writer goroutine has exited
// after a write error; a reader that keeps producing must not block on a
// channel nobody drains.
func trySend(send chan<- any, writerDone <-chan struct{}, msg any) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errorMessage(err error) outboundMessage[wsError] {
	return outboundMessage[wsError]{
		Type:    "error",
		Payload: wsError{Kind: domain.KindOf(err), Message: publicMessage(err)},
	}
}
