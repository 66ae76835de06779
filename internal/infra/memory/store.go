package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-session-engine/internal/domain"
)

type answerKey struct {
	studentID  int64
	questionID int64
}

// Store is an in-memory implementation of every durable-store facet the
// engine consumes. One mutex guards all state, which makes the lifecycle
// transitions, the (student, question) check-and-insert and the score
// increment atomic the same way the SQL store's constraints do.
type Store struct {
	mu sync.RWMutex

	exams  map[int64]*domain.Exam
	byCode map[string]int64

	questions   map[int64][]domain.Question // examID -> ordered questions
	questionIDs map[int64]domain.Question

	students  map[int64]*domain.Student
	bySession map[string]int64

	answers   map[answerKey]*domain.Answer
	byStudent map[int64][]*domain.Answer

	nextExamID     int64
	nextQuestionID int64
	nextStudentID  int64
	nextAnswerID   int64
}

func NewStore() *Store {
	return &Store{
		exams:       make(map[int64]*domain.Exam),
		byCode:      make(map[string]int64),
		questions:   make(map[int64][]domain.Question),
		questionIDs: make(map[int64]domain.Question),
		students:    make(map[int64]*domain.Student),
		bySession:   make(map[string]int64),
		answers:     make(map[answerKey]*domain.Answer),
		byStudent:   make(map[int64][]*domain.Answer),
	}
}

// SeedExam loads one exam and its question catalog, assigning ids where
// they are zero. Access codes stay unique across all seeded exams.
func (s *Store) SeedExam(exam domain.Exam, questions []domain.Question) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[exam.AccessCode]; taken {
		return domain.Exam{}, domain.ErrAccessCodeTaken
	}
	if exam.ID == 0 {
		s.nextExamID++
		exam.ID = s.nextExamID
	}
	if exam.Status == "" {
		exam.Status = domain.ExamCreated
	}
	exam.LastPushedIndex = domain.NoQuestion
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now()
	}

	stored := make([]domain.Question, len(questions))
	copy(stored, questions)
	sort.Slice(stored, func(i, j int) bool { return stored[i].Order < stored[j].Order })
	for i := range stored {
		if stored[i].ID == 0 {
			s.nextQuestionID++
			stored[i].ID = s.nextQuestionID
		}
		stored[i].ExamID = exam.ID
		s.questionIDs[stored[i].ID] = stored[i]
	}

	s.exams[exam.ID] = &exam
	s.byCode[exam.AccessCode] = exam.ID
	s.questions[exam.ID] = stored
	return exam, nil
}

// --- app.ExamRepository ---

func (s *Store) FindByID(_ context.Context, examID int64) (domain.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return *exam, nil
}

func (s *Store) FindByAccessCode(_ context.Context, code string) (domain.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	examID, ok := s.byCode[code]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return *s.exams[examID], nil
}

func (s *Store) Start(_ context.Context, examID int64, now time.Time) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if exam.Status != domain.ExamCreated {
		return domain.Exam{}, domain.ErrAlreadyStarted
	}
	exam.Status = domain.ExamStarted
	startedAt := now
	exam.StartedAt = &startedAt
	return *exam, nil
}

func (s *Store) MarkPushed(_ context.Context, examID int64, index int, now time.Time) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if exam.Status != domain.ExamStarted {
		return domain.Exam{}, domain.ErrExamNotStarted
	}
	if index <= exam.LastPushedIndex {
		return domain.Exam{}, domain.ErrAlreadyPushed
	}
	exam.CurrentQuestionIndex = index
	exam.LastPushedIndex = index
	startedAt := now
	exam.QuestionStartedAt = &startedAt
	return *exam, nil
}

func (s *Store) End(_ context.Context, examID int64, now time.Time) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if exam.Status != domain.ExamStarted {
		return domain.Exam{}, domain.ErrExamNotStarted
	}
	exam.Status = domain.ExamEnded
	endedAt := now
	exam.EndedAt = &endedAt
	return *exam, nil
}

func (s *Store) ClearLiveQuestion(_ context.Context, examID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.ErrExamNotFound
	}
	exam.CurrentQuestionIndex = domain.NoQuestion
	exam.LastPushedIndex = domain.NoQuestion
	exam.QuestionStartedAt = nil
	return nil
}

// --- app.QuestionRepository ---

func (s *Store) ListByExam(_ context.Context, examID int64) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.exams[examID]; !ok {
		return nil, domain.ErrExamNotFound
	}
	questions := s.questions[examID]
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	return out, nil
}

func (s *Store) FindQuestion(_ context.Context, questionID int64) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	question, ok := s.questionIDs[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return question, nil
}

func (s *Store) CountByExam(_ context.Context, examID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.questions[examID])), nil
}

// --- app.StudentRepository ---

func (s *Store) Create(_ context.Context, student *domain.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[student.ExamID]; !ok {
		return domain.ErrExamNotFound
	}
	s.nextStudentID++
	student.ID = s.nextStudentID
	copied := *student
	s.students[copied.ID] = &copied
	s.bySession[copied.SessionID] = copied.ID
	return nil
}

func (s *Store) FindBySessionID(_ context.Context, sessionID string) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	studentID, ok := s.bySession[sessionID]
	if !ok {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	return *s.students[studentID], nil
}

func (s *Store) AddScore(_ context.Context, studentID int64, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student, ok := s.students[studentID]
	if !ok {
		return 0, domain.ErrStudentNotFound
	}
	student.TotalScore += delta
	return student.TotalScore, nil
}

func (s *Store) CountStudents(_ context.Context, examID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, student := range s.students {
		if student.ExamID == examID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ScoreHistogram(_ context.Context, examID int64) (map[int]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	histogram := make(map[int]int64)
	for _, student := range s.students {
		if student.ExamID == examID {
			histogram[student.TotalScore]++
		}
	}
	return histogram, nil
}

func (s *Store) RankedByExam(_ context.Context, examID int64) ([]domain.RankRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]domain.RankRow, 0)
	for _, student := range s.students {
		if student.ExamID != examID {
			continue
		}
		var totalTime int64
		for _, answer := range s.byStudent[student.ID] {
			totalTime += answer.TimeTakenMs
		}
		rows = append(rows, domain.RankRow{Student: *student, TimeTakenMs: totalTime})
	}
	return rows, nil
}

// --- app.AnswerRepository ---

func (s *Store) Insert(_ context.Context, answer *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{studentID: answer.StudentID, questionID: answer.QuestionID}
	if _, exists := s.answers[key]; exists {
		return domain.ErrAnswerAlreadyExists
	}
	s.nextAnswerID++
	answer.ID = s.nextAnswerID
	copied := *answer
	s.answers[key] = &copied
	s.byStudent[copied.StudentID] = append(s.byStudent[copied.StudentID], &copied)
	return nil
}

func (s *Store) Exists(_ context.Context, studentID, questionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.answers[answerKey{studentID: studentID, questionID: questionID}]
	return exists, nil
}

func (s *Store) CountByQuestion(_ context.Context, questionID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for key := range s.answers {
		if key.questionID == questionID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountCorrectByQuestion(_ context.Context, questionID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for key, answer := range s.answers {
		if key.questionID == questionID && answer.IsCorrect {
			count++
		}
	}
	return count, nil
}

func (s *Store) OptionCounts(_ context.Context, questionID int64) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int64)
	for key, answer := range s.answers {
		if key.questionID != questionID {
			continue
		}
		for _, optionID := range answer.SelectedOptionIDs {
			counts[optionID]++
		}
	}
	return counts, nil
}

func (s *Store) ListByStudent(_ context.Context, studentID int64) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answers := s.byStudent[studentID]
	out := make([]domain.Answer, 0, len(answers))
	for _, answer := range answers {
		out = append(out, *answer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnsweredAt.Before(out[j].AnsweredAt) })
	return out, nil
}
