package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"exam-session-engine/internal/domain"
)

// Join registers a student on an exam by access code and hands back a
// catch-up snapshot of the live question when one is currently open, so a
// late joiner can answer immediately.
func (s *ExamService) Join(ctx context.Context, accessCode, name string) (domain.Student, *domain.QuestionStartedPayload, error) {
	exam, err := s.stores.Exams.FindByAccessCode(ctx, accessCode)
	if err != nil {
		return domain.Student{}, nil, err
	}

	now := s.now()
	student := domain.Student{
		ExamID:    exam.ID,
		SessionID: uuid.NewString(),
		Name:      name,
		JoinedAt:  now,
	}
	if err := s.stores.Students.Create(ctx, &student); err != nil {
		return domain.Student{}, nil, err
	}

	s.publish(ctx, domain.ExamStudentsTopic(exam.ID), domain.NewEvent(domain.EventStudentJoined, domain.StudentJoinedPayload{
		StudentID:  student.ID,
		Name:       student.Name,
		TotalScore: student.TotalScore,
	}, now))

	snapshot, err := s.liveQuestionSnapshot(ctx, exam, now)
	if err != nil {
		// Joining succeeded; a missing snapshot only costs the catch-up push.
		s.log.Error().Err(err).Int64("examId", exam.ID).Msg("live question snapshot failed")
		return student, nil, nil
	}
	return student, snapshot, nil
}

// SubmitAnswer validates, dedups and scores one answer, then triggers the
// statistics fan-out. This is the only path that mutates a student's score.
func (s *ExamService) SubmitAnswer(ctx context.Context, examID, questionID int64, sessionID string, selection []int64) (domain.AnswerResult, error) {
	student, err := s.stores.Students.FindBySessionID(ctx, sessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	questions, err := s.stores.Questions.ListByExam(ctx, examID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	var question *domain.Question
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	exam, err := s.stores.Exams.FindByID(ctx, examID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if exam.Status != domain.ExamStarted {
		return domain.AnswerResult{}, domain.ErrExamNotStarted
	}

	// Dedupe before the window check: a student who already answered this
	// question gets ErrAnswerAlreadyExists even once the window has moved on.
	exists, err := s.stores.Answers.Exists(ctx, student.ID, questionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if exists {
		return domain.AnswerResult{}, domain.ErrAnswerAlreadyExists
	}

	// Window check against the server clock: the live question only, inside
	// [questionStartedAt, questionStartedAt+timeLimit].
	now := s.now()
	if exam.LastPushedIndex == domain.NoQuestion || exam.QuestionStartedAt == nil ||
		questions[exam.LastPushedIndex].ID != questionID {
		return domain.AnswerResult{}, domain.ErrWrongQuestion
	}
	deadline := exam.QuestionStartedAt.Add(time.Duration(exam.QuestionTimeLimit) * time.Second)
	if now.After(deadline) {
		return domain.AnswerResult{}, domain.ErrTimeExpired
	}

	if err := validateSelection(*question, selection); err != nil {
		return domain.AnswerResult{}, err
	}
	correct := selectionIsCorrect(*question, selection)

	answer := domain.Answer{
		StudentID:         student.ID,
		QuestionID:        questionID,
		SelectedOptionIDs: append([]int64(nil), selection...),
		IsCorrect:         correct,
		AnsweredAt:        now,
		TimeTakenMs:       now.Sub(*exam.QuestionStartedAt).Milliseconds(),
	}
	// Atomic check-and-insert: two racing submissions for the same
	// (student, question) pair cannot both pass.
	if err := s.stores.Answers.Insert(ctx, &answer); err != nil {
		return domain.AnswerResult{}, err
	}

	total := student.TotalScore
	if correct {
		total, err = s.stores.Students.AddScore(ctx, student.ID, 1)
		if err != nil {
			// The answer is durably recorded; surface the increment failure.
			return domain.AnswerResult{}, err
		}
	}

	s.publishQuestionStats(ctx, examID, questionID)
	s.publishCumulativeStats(ctx, examID)

	return domain.AnswerResult{Answer: answer, TotalScore: total}, nil
}

// StudentAnswers returns one student's full answer history.
func (s *ExamService) StudentAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	student, err := s.stores.Students.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.stores.Answers.ListByStudent(ctx, student.ID)
}

// liveQuestionSnapshot rebuilds the QuestionStarted payload for the question
// currently in its window, or nil when none is open.
func (s *ExamService) liveQuestionSnapshot(ctx context.Context, exam domain.Exam, now time.Time) (*domain.QuestionStartedPayload, error) {
	if exam.Status != domain.ExamStarted || exam.LastPushedIndex == domain.NoQuestion || exam.QuestionStartedAt == nil {
		return nil, nil
	}
	deadline := exam.QuestionStartedAt.Add(time.Duration(exam.QuestionTimeLimit) * time.Second)
	if now.After(deadline) {
		return nil, nil
	}

	questions, err := s.stores.Questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, err
	}
	if exam.LastPushedIndex >= len(questions) {
		return nil, nil
	}
	question := questions[exam.LastPushedIndex]
	return &domain.QuestionStartedPayload{
		QuestionID:    question.ID,
		QuestionIndex: exam.LastPushedIndex,
		QuestionText:  question.Text,
		QuestionType:  question.Type,
		Options:       question.Options,
		TimeLimit:     exam.QuestionTimeLimit,
		ExpiresAt:     deadline.UTC(),
	}, nil
}

// validateSelection rejects empty or malformed selections before scoring.
func validateSelection(q domain.Question, selection []int64) error {
	if len(selection) == 0 {
		return domain.ErrInvalidSelection
	}
	if q.Type != domain.QuestionMulti && len(selection) != 1 {
		return domain.ErrInvalidSelection
	}
	seen := make(map[int64]struct{}, len(selection))
	for _, id := range selection {
		if _, dup := seen[id]; dup {
			return domain.ErrInvalidSelection
		}
		seen[id] = struct{}{}
		if !questionHasOption(q, id) {
			return domain.ErrOptionNotFound
		}
	}
	return nil
}

// selectionIsCorrect scores all-or-nothing: single option equality for
// SINGLE/TRUE_FALSE, set equality for MULTI. No partial credit.
func selectionIsCorrect(q domain.Question, selection []int64) bool {
	if q.Type == domain.QuestionMulti {
		if len(selection) != len(q.CorrectOptionIDs) {
			return false
		}
		correct := make(map[int64]struct{}, len(q.CorrectOptionIDs))
		for _, id := range q.CorrectOptionIDs {
			correct[id] = struct{}{}
		}
		for _, id := range selection {
			if _, ok := correct[id]; !ok {
				return false
			}
		}
		return true
	}
	return len(selection) == 1 && selection[0] == q.CorrectOptionID
}

func questionHasOption(q domain.Question, optionID int64) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}
