package app

import (
	"context"
	"time"

	"exam-session-engine/internal/domain"
)

// ExamRepository owns exam lifecycle state. The transition operations are
// atomic at the storage layer: two racing instructor commands cannot both
// succeed for the same transition.
type ExamRepository interface {
	FindByID(ctx context.Context, examID int64) (domain.Exam, error)
	FindByAccessCode(ctx context.Context, code string) (domain.Exam, error)

	// Start moves CREATED -> STARTED and stamps the start time. Returns
	// domain.ErrAlreadyStarted if the exam has already left CREATED.
	Start(ctx context.Context, examID int64, now time.Time) (domain.Exam, error)
	// MarkPushed records that a question went live: requires STARTED and a
	// strictly increasing index, sets both index pointers and the window
	// start in one atomic write. Returns domain.ErrAlreadyPushed when the
	// index does not advance.
	MarkPushed(ctx context.Context, examID int64, index int, now time.Time) (domain.Exam, error)
	// End moves STARTED -> ENDED and stamps the end time.
	End(ctx context.Context, examID int64, now time.Time) (domain.Exam, error)
	// ClearLiveQuestion rewinds the question pointers and window start
	// without touching status. Session-reset escape hatch only.
	ClearLiveQuestion(ctx context.Context, examID int64) error
}

// QuestionRepository reads the ordered, immutable question catalog.
type QuestionRepository interface {
	ListByExam(ctx context.Context, examID int64) ([]domain.Question, error)
	FindByID(ctx context.Context, questionID int64) (domain.Question, error)
	CountByExam(ctx context.Context, examID int64) (int64, error)
}

// StudentRepository stores participants. AddScore is an atomic increment at
// the storage layer, never read-modify-write.
type StudentRepository interface {
	Create(ctx context.Context, student *domain.Student) error
	FindBySessionID(ctx context.Context, sessionID string) (domain.Student, error)
	AddScore(ctx context.Context, studentID int64, delta int) (int, error)
	CountByExam(ctx context.Context, examID int64) (int64, error)
	// ScoreHistogram maps totalScore -> number of students with that score.
	ScoreHistogram(ctx context.Context, examID int64) (map[int]int64, error)
	// RankedByExam returns every student joined with the total time they
	// spent answering, unsorted; ranking happens in the aggregator.
	RankedByExam(ctx context.Context, examID int64) ([]domain.RankRow, error)
}

// AnswerRepository persists submissions. Insert is a unique-constraint-backed
// check-and-insert on (studentID, questionID); a duplicate pair fails with
// domain.ErrAnswerAlreadyExists and leaves no partial state.
type AnswerRepository interface {
	Insert(ctx context.Context, answer *domain.Answer) error
	// Exists reports whether the (studentID, questionID) pair already has an
	// answer. Advisory only: Insert stays the authority under races.
	Exists(ctx context.Context, studentID, questionID int64) (bool, error)
	CountByQuestion(ctx context.Context, questionID int64) (int64, error)
	CountCorrectByQuestion(ctx context.Context, questionID int64) (int64, error)
	// OptionCounts maps optionID -> times selected for one question.
	// MULTI selections contribute one count per selected option.
	OptionCounts(ctx context.Context, questionID int64) (map[int64]int64, error)
	ListByStudent(ctx context.Context, studentID int64) ([]domain.Answer, error)
}

// TokenStore holds the live instructor token per exam. Implementations must
// be safe under concurrent reads and occasional writes.
type TokenStore interface {
	Put(ctx context.Context, examID int64, token string) error
	Get(ctx context.Context, examID int64) (string, bool, error)
	Delete(ctx context.Context, examID int64) error
}

// Broadcaster fans engine events out to current subscribers of a topic.
// Delivery is fire-and-forget; a failed publish never rolls back the
// authoritative write that preceded it.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
}

// Stores bundles the durable-store facets the engine consumes.
type Stores struct {
	Exams     ExamRepository
	Questions QuestionRepository
	Students  StudentRepository
	Answers   AnswerRepository
}
