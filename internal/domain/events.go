package domain

import (
	"fmt"
	"time"
)

// Event types published by the session engine.
const (
	EventExamStarted       = "examStarted"
	EventExamEnded         = "examEnded"
	EventQuestionStarted   = "questionStarted"
	EventStudentJoined     = "studentJoined"
	EventStatisticsUpdated = "statisticsUpdated"
	EventCumulativeUpdated = "cumulativeUpdated"
	EventLeaderboardUpdated = "leaderboardUpdated"
)

// Event is the envelope all broadcast payloads travel in.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent wraps a payload in an envelope stamped with the given instant.
func NewEvent(eventType string, payload any, at time.Time) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: at}
}

// ExamStatusPayload announces a lifecycle transition.
type ExamStatusPayload struct {
	ExamID    int64      `json:"examId"`
	Status    ExamStatus `json:"status"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// QuestionStartedPayload is the live-question push. It carries an absolute
// UTC expiry so clients with skewed clocks can still render the countdown.
// Correct answers are never included.
type QuestionStartedPayload struct {
	QuestionID    int64        `json:"questionId"`
	QuestionIndex int          `json:"questionIndex"`
	QuestionText  string       `json:"questionText"`
	QuestionType  QuestionType `json:"questionType"`
	Options       []Option     `json:"options"`
	TimeLimit     int          `json:"timeLimit"`
	ExpiresAt     time.Time    `json:"expiresAt"`
}

// StudentJoinedPayload announces a new participant to instructor dashboards.
type StudentJoinedPayload struct {
	StudentID  int64  `json:"studentId"`
	Name       string `json:"name"`
	TotalScore int    `json:"totalScore"`
}

// Topic helpers. Topics are scoped per exam, and per exam+question for
// question-level statistics.

func ExamStatusTopic(examID int64) string {
	return fmt.Sprintf("exam:%d:status", examID)
}

func ExamQuestionTopic(examID int64) string {
	return fmt.Sprintf("exam:%d:question", examID)
}

func ExamStudentsTopic(examID int64) string {
	return fmt.Sprintf("exam:%d:students", examID)
}

func QuestionStatsTopic(examID, questionID int64) string {
	return fmt.Sprintf("exam:%d:stats:question:%d", examID, questionID)
}

func CumulativeStatsTopic(examID int64) string {
	return fmt.Sprintf("exam:%d:stats:cumulative", examID)
}

func LeaderboardTopic(examID int64) string {
	return fmt.Sprintf("exam:%d:leaderboard", examID)
}
