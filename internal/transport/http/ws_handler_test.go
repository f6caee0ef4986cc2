package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/infra/memory"
)

func TestWebSocketSaveSubmitFlow(t *testing.T) {
	store := memory.NewAttemptStore()
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewAttemptService(store, repo, memory.NewStatsRecorder())
	server := httptest.NewServer(NewRouter(NewHandler(service), NewWSHandler(service)))
	defer server.Close()

	started, err := service.StartAttempt(context.Background(), "quiz-1", "u1")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws/attempts?attemptId=" + started.AttemptID + "&userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial attempt snapshot arrives first.
	msgType, payload := readNext(conn, t, "attempt")
	if payload["id"] != started.AttemptID {
		t.Fatalf("snapshot for wrong attempt: %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{
		"type": "save",
		"payload": map[string]any{
			"answers": []map[string]any{
				{"qid": "q1", "userAnswer": 1},
			},
		},
	}); err != nil {
		t.Fatalf("write save: %v", err)
	}
	msgType, payload = readNext(conn, t, "saved")
	if payload["answerCount"] != float64(1) {
		t.Fatalf("save ack = %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	msgType, payload = readNext(conn, t, "result")
	if msgType != "result" {
		t.Fatalf("expected result, got %s", msgType)
	}
	if payload["score"] != float64(1) || payload["autoSubmitted"] != false {
		t.Fatalf("result payload = %v", payload)
	}

	// A second submit over the same socket reports the conflict as an error message.
	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write resubmit: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["kind"] != "conflict" {
		t.Fatalf("expected conflict error, got %v", payload)
	}
}

func TestWebSocketRejectsMissingParams(t *testing.T) {
	store := memory.NewAttemptStore()
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewAttemptService(store, repo, memory.NewStatsRecorder())
	server := httptest.NewServer(NewRouter(NewHandler(service), NewWSHandler(service)))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws/attempts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrySendDoesNotBlockAfterWriterExit(t *testing.T) {
	send := make(chan any, 2)
	writerDone := make(chan struct{})

	if !trySend(send, writerDone, "a") || !trySend(send, writerDone, "b") {
		t.Fatalf("sends with a live writer must succeed")
	}

	// Writer gone, buffer full: the send must bail out instead of blocking.
	close(writerDone)
	done := make(chan bool, 1)
	go func() { done <- trySend(send, writerDone, "c") }()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("send after writer exit must report failure")
		}
	case <-time.After(time.Second):
		t.Fatalf("send blocked on a channel nobody drains")
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}
