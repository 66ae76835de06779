package domain

import "time"

// ExamStatus is the lifecycle state of an exam. It only moves forward.
type ExamStatus string

const (
	ExamCreated ExamStatus = "CREATED"
	ExamStarted ExamStatus = "STARTED"
	ExamEnded   ExamStatus = "ENDED"
)

// NoQuestion marks an exam that has not pushed any question yet.
const NoQuestion = -1

// Exam is one live quiz session. Lifecycle fields are owned by the session
// engine and mutated only through the store's transition operations.
type Exam struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	Status            ExamStatus `json:"status"`
	AccessCode        string     `json:"accessCode"`
	QuestionTimeLimit int        `json:"questionTimeLimit"` // seconds per question
	LeaderboardLimit  int        `json:"leaderboardLimit"`

	// CurrentQuestionIndex is the question selected by the instructor;
	// LastPushedIndex is the highest index actually broadcast to students
	// (NoQuestion until the first push).
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	LastPushedIndex      int        `json:"lastPushedIndex"`
	QuestionStartedAt    *time.Time `json:"questionStartedAt,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// QuestionType distinguishes how a selection is validated and scored.
type QuestionType string

const (
	QuestionSingle    QuestionType = "SINGLE"
	QuestionTrueFalse QuestionType = "TRUE_FALSE"
	QuestionMulti     QuestionType = "MULTI"
)

// Option is a possible answer for a question.
type Option struct {
	ID    int64  `json:"id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// Question is an MCQ question. Immutable once its exam leaves CREATED.
// CorrectOptionIDs is set for MULTI questions, CorrectOptionID otherwise;
// neither is ever included in broadcast payloads.
type Question struct {
	ID               int64        `json:"id"`
	ExamID           int64        `json:"examId"`
	Order            int          `json:"order"` // 1-based, unique per exam
	Text             string       `json:"text"`
	Type             QuestionType `json:"type"`
	Options          []Option     `json:"options"`
	CorrectOptionID  int64        `json:"correctOptionId,omitempty"`
	CorrectOptionIDs []int64      `json:"correctOptionIds,omitempty"`
}

// Student is a participant in one exam. TotalScore only ever grows, and only
// through the answer intake's atomic increment.
type Student struct {
	ID         int64     `json:"id"`
	ExamID     int64     `json:"examId"`
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	TotalScore int       `json:"totalScore"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Answer records one student's submission for one question. At most one
// answer exists per (student, question) pair; the store enforces that.
type Answer struct {
	ID                int64     `json:"id"`
	StudentID         int64     `json:"studentId"`
	QuestionID        int64     `json:"questionId"`
	SelectedOptionIDs []int64   `json:"selectedOptionIds"`
	IsCorrect         bool      `json:"isCorrect"`
	AnsweredAt        time.Time `json:"answeredAt"`
	TimeTakenMs       int64     `json:"timeTakenMs"` // since the question window opened
}

// AnswerResult is what a student gets back for an accepted submission.
type AnswerResult struct {
	Answer     Answer `json:"answer"`
	TotalScore int    `json:"totalScore"`
}

// OptionStat is one row of a question's option distribution.
type OptionStat struct {
	OptionID   int64   `json:"optionId"`
	Text       string  `json:"text"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"` // 0-100, two decimals
	Correct    bool    `json:"correct"`
}

// QuestionStats is the per-question distribution snapshot.
type QuestionStats struct {
	QuestionID   int64        `json:"questionId"`
	QuestionText string       `json:"questionText"`
	TotalAnswers int64        `json:"totalAnswers"`
	Options      []OptionStat `json:"options"`
	CorrectRate  float64      `json:"correctRate"` // fraction, four decimals
	Timestamp    time.Time    `json:"timestamp"`
}

// ScoreBucket is one bar of the cumulative score histogram.
type ScoreBucket struct {
	Score      int     `json:"score"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CumulativeStats is the exam-wide score distribution snapshot.
type CumulativeStats struct {
	ExamID         int64         `json:"examId"`
	TotalStudents  int64         `json:"totalStudents"`
	TotalQuestions int64         `json:"totalQuestions"`
	Distribution   []ScoreBucket `json:"scoreDistribution"`
	AverageScore   float64       `json:"averageScore"`
	Timestamp      time.Time     `json:"timestamp"`
}

// LeaderboardEntry is one ranked row. Rank is a dense 1-based sequence.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	StudentID   int64   `json:"studentId"`
	Name        string  `json:"name"`
	TotalScore  int     `json:"totalScore"`
	CorrectRate float64 `json:"correctRate"`
	TimeTakenMs int64   `json:"timeTakenMs"`
}

// Leaderboard is the ranked scoreboard for one exam.
type Leaderboard struct {
	ExamID         int64              `json:"examId"`
	TotalStudents  int64              `json:"totalStudents"`
	TotalQuestions int64              `json:"totalQuestions"`
	Entries        []LeaderboardEntry `json:"entries"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// RankRow is the raw material for a leaderboard entry: a student plus the
// total time they spent answering (the tie-break signal).
type RankRow struct {
	Student     Student
	TimeTakenMs int64
}
