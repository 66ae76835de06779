package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/infra/memory"
)

// WSHandler wires websocket connections into the exam engine: inbound
// commands (join, answer, instructor lifecycle) and outbound topic events.
type WSHandler struct {
	service  *app.ExamService
	hub      *memory.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ExamService, hub *memory.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		log:     log,
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

type errorPayload struct {
	Message string `json:"message"`
}

type joinPayload struct {
	AccessCode string `json:"accessCode"`
	Name       string `json:"name"`
}

type joinedPayload struct {
	Student      domain.Student                 `json:"student"`
	LiveQuestion *domain.QuestionStartedPayload `json:"liveQuestion,omitempty"`
}

type answerPayload struct {
	QuestionID int64   `json:"questionId"`
	SessionID  string  `json:"sessionId"`
	Selection  []int64 `json:"selection"`
}

type instructorPayload struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

type startedPayload struct {
	Token string      `json:"token"`
	Exam  domain.Exam `json:"exam"`
}

type watchQuestionPayload struct {
	QuestionID int64 `json:"questionId"`
}

// ServeWS upgrades the connection and runs the message loop for one client.
// All topic subscriptions for the exam are forwarded over a single writer
// goroutine so the gorilla connection never sees concurrent writes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(r.URL.Query().Get("examId"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid examId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var forwarders sync.WaitGroup

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	forward := func(topic string) func() {
		events, cancel := h.hub.Subscribe(topic)
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			for {
				select {
				case event, ok := <-events:
					if !ok {
						return
					}
					select {
					case send <- outboundMessage[any]{Type: event.Type, Payload: event.Payload}:
					case <-closeSignals:
						return
					}
				case <-closeSignals:
					return
				}
			}
		}()
		return cancel
	}

	cancels := []func(){
		forward(domain.ExamStatusTopic(examID)),
		forward(domain.ExamQuestionTopic(examID)),
		forward(domain.ExamStudentsTopic(examID)),
		forward(domain.CumulativeStatsTopic(examID)),
		forward(domain.LeaderboardTopic(examID)),
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), examID, inbound, send, func(questionID int64) {
			cancels = append(cancels, forward(domain.QuestionStatsTopic(examID, questionID)))
		})
	}

	// Every forwarder must be gone before send closes, or a racing hub
	// publish could land on a closed channel.
	close(closeSignals)
	for _, cancel := range cancels {
		cancel()
	}
	forwarders.Wait()
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, examID int64, inbound inboundMessage, send chan<- outboundMessage[any], watch func(questionID int64)) {
	fail := func(err error) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}

	switch inbound.Type {
	case "join":
		var payload joinPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Name == "" {
			fail(domain.ErrInvalidSelection)
			return
		}
		student, live, err := h.service.Join(ctx, payload.AccessCode, payload.Name)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Student: student, LiveQuestion: live}}

	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidSelection)
			return
		}
		result, err := h.service.SubmitAnswer(ctx, examID, payload.QuestionID, payload.SessionID, payload.Selection)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "answerResult", Payload: result}

	case "start":
		token, exam, err := h.service.Start(ctx, examID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "started", Payload: startedPayload{Token: token, Exam: exam}}

	case "push":
		var payload instructorPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrInvalidIndex)
			return
		}
		exam, err := h.service.PushQuestion(ctx, examID, payload.Token, payload.Index)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "pushed", Payload: exam}

	case "end":
		var payload instructorPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrSessionNotFound)
			return
		}
		exam, err := h.service.End(ctx, examID, payload.Token)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "ended", Payload: exam}

	case "reset":
		if err := h.service.ResetSession(ctx, examID); err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "resetDone", Payload: struct{}{}}

	case "watchQuestion":
		var payload watchQuestionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(domain.ErrQuestionNotFound)
			return
		}
		watch(payload.QuestionID)

	default:
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}
