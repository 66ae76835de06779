package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/infra/memory"
)

func newWSServer(t *testing.T) (*httptest.Server, *memory.Hub, domain.Exam) {
	t.Helper()
	store := memory.NewStore()
	exam, err := store.SeedExam(domain.Exam{AccessCode: "WS01", QuestionTimeLimit: 30}, []domain.Question{
		{
			Order: 1, Text: "What is 2 + 2?", Type: domain.QuestionSingle,
			Options: []domain.Option{
				{ID: 1, Order: 1, Text: "3"},
				{ID: 2, Order: 2, Text: "4"},
				{ID: 3, Order: 3, Text: "5"},
			},
			CorrectOptionID: 2,
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	hub := memory.NewHub()
	service := app.NewExamService(store.Stores(), memory.NewTokenStore(), hub, zerolog.Nop())
	wsHandler := NewWSHandler(service, hub, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, hub, exam
}

func dialWS(t *testing.T, server *httptest.Server, examID int64) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?examId=" + strconv.FormatInt(examID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSessionFlow(t *testing.T) {
	server, _, exam := newWSServer(t)

	instructor := dialWS(t, server, exam.ID)
	student := dialWS(t, server, exam.ID)

	// Student joins before the exam starts.
	writeMsg(t, student, "join", map[string]any{"accessCode": "WS01", "name": "Alice"})
	_, joined := readNext(student, t, "joined")
	studentInfo, ok := joined["student"].(map[string]any)
	if !ok {
		t.Fatalf("expected a student in the joined payload, got %v", joined)
	}
	sessionID, _ := studentInfo["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected a session id, got %v", studentInfo)
	}
	if joined["liveQuestion"] != nil {
		t.Fatalf("no question is live yet, got %v", joined["liveQuestion"])
	}

	// Instructor starts the exam and pushes the first question.
	writeMsg(t, instructor, "start", nil)
	_, started := readNext(instructor, t, "started")
	token, _ := started["token"].(string)
	if token == "" {
		t.Fatalf("expected an instructor token, got %v", started)
	}
	// The instructor connection also receives its own examStarted broadcast.
	readNext(instructor, t, "examStarted")
	readNext(student, t, "examStarted")

	writeMsg(t, instructor, "push", map[string]any{"token": token, "index": 0})

	// The student sees the broadcast question.
	typ, question := readNext(student, t, "questionStarted")
	if typ != "questionStarted" {
		t.Fatalf("expected questionStarted, got %s", typ)
	}
	questionID, ok := question["questionId"].(float64)
	if !ok {
		t.Fatalf("expected a question id, got %v", question)
	}

	// Answer it and collect the result plus the stats fan-out.
	writeMsg(t, student, "answer", map[string]any{
		"questionId": questionID,
		"sessionId":  sessionID,
		"selection":  []int64{2},
	})
	resultSeen := false
	cumulativeSeen := false
	for i := 0; i < 4 && !(resultSeen && cumulativeSeen); i++ {
		switch typ, payload := readNext(student, t, ""); typ {
		case "answerResult":
			resultSeen = true
			if score, _ := payload["totalScore"].(float64); score != 1 {
				t.Fatalf("expected total score 1, got %v", payload)
			}
		case "cumulativeUpdated":
			cumulativeSeen = true
		}
	}
	if !resultSeen || !cumulativeSeen {
		t.Fatalf("expected answerResult and cumulativeUpdated, got result=%v cumulative=%v", resultSeen, cumulativeSeen)
	}

	// Instructor ends the exam; both sides see the final broadcasts.
	writeMsg(t, instructor, "end", map[string]any{"token": token})
	endSeen := false
	boardSeen := false
	for i := 0; i < 6 && !(endSeen && boardSeen); i++ {
		switch typ, _ := readNext(student, t, ""); typ {
		case "examEnded":
			endSeen = true
		case "leaderboardUpdated":
			boardSeen = true
		}
	}
	if !endSeen || !boardSeen {
		t.Fatalf("expected examEnded and leaderboardUpdated, got end=%v board=%v", endSeen, boardSeen)
	}
}

func TestWebSocketRejectsBadExamID(t *testing.T) {
	server, _, _ := newWSServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(u, nil); err == nil {
		t.Fatalf("expected the upgrade to fail without examId")
	} else if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestWebSocketErrorMessages(t *testing.T) {
	server, _, exam := newWSServer(t)
	conn := dialWS(t, server, exam.ID)

	writeMsg(t, conn, "join", map[string]any{"accessCode": "WRONG", "name": "Alice"})
	_, payload := readNext(conn, t, "error")
	if payload["message"] == "" {
		t.Fatalf("expected an error message, got %v", payload)
	}

	writeMsg(t, conn, "bogus", nil)
	readNext(conn, t, "error")
}

// A broadcast arriving while the client disconnects must never reach a closed
// send channel: the handler has to drain its topic forwarders before closing.
func TestWebSocketDisconnectDuringBroadcasts(t *testing.T) {
	server, hub, exam := newWSServer(t)
	topic := domain.LeaderboardTopic(exam.ID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = hub.Publish(context.Background(), topic,
					domain.NewEvent(domain.EventLeaderboardUpdated, nil, time.Now()))
			}
		}
	}()

	for i := 0; i < 25; i++ {
		u := "ws" + server.URL[len("http"):] + "/ws?examId=" + strconv.FormatInt(exam.ID, 10)
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}
	time.Sleep(50 * time.Millisecond)

	close(stop)
	wg.Wait()
}

func writeMsg(t *testing.T, conn *websocket.Conn, msgType string, payload map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readNext returns the next message. With a non-empty expect it skips
// unrelated broadcasts (direct replies and topic events race on the wire)
// until the wanted type arrives.
func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if expect == "" || msg.Type == expect {
			return msg.Type, msg.Payload
		}
	}
	t.Fatalf("no %s message arrived", expect)
	return "", nil
}
