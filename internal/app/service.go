package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"exam-session-engine/internal/domain"
)

// ExamService wires the session state machine, instructor authority, answer
// intake and statistics pipeline into the engine's use cases. All lifecycle
// writes go through the ExamRepository's atomic transitions; all broadcasts
// are best-effort and decoupled from the authoritative write.
type ExamService struct {
	stores      Stores
	authority   *Authority
	stats       *StatsAggregator
	broadcaster Broadcaster
	log         zerolog.Logger
	now         func() time.Time
	schedule    func(d time.Duration, fn func())
}

// Option customizes an ExamService, mainly for deterministic tests.
type Option func(*ExamService)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *ExamService) {
		s.now = now
		s.stats.now = now
	}
}

// WithScheduler replaces the window-expiry timer.
func WithScheduler(schedule func(d time.Duration, fn func())) Option {
	return func(s *ExamService) { s.schedule = schedule }
}

func NewExamService(stores Stores, tokens TokenStore, broadcaster Broadcaster, log zerolog.Logger, opts ...Option) *ExamService {
	s := &ExamService{
		stores:      stores,
		authority:   NewAuthority(tokens, log),
		stats:       NewStatsAggregator(stores.Questions, stores.Students, stores.Answers),
		broadcaster: broadcaster,
		log:         log,
		now:         time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the exam: CREATED -> STARTED, and mints the instructor
// token that gates every further mutation of this exam.
func (s *ExamService) Start(ctx context.Context, examID int64) (string, domain.Exam, error) {
	now := s.now()
	exam, err := s.stores.Exams.Start(ctx, examID, now)
	if err != nil {
		return "", domain.Exam{}, err
	}

	token, err := s.authority.Issue(ctx, examID)
	if err != nil {
		return "", domain.Exam{}, err
	}

	s.publish(ctx, domain.ExamStatusTopic(examID), domain.NewEvent(domain.EventExamStarted, domain.ExamStatusPayload{
		ExamID:    exam.ID,
		Status:    exam.Status,
		StartedAt: exam.StartedAt,
	}, now))

	s.log.Info().Int64("examId", examID).Msg("exam started")
	return token, exam, nil
}

// PushQuestion makes the question at index live and opens its answer window.
// Accepted indices are strictly increasing; re-push and out-of-order push
// fail with ErrAlreadyPushed. The broadcast payload carries the question and
// an absolute UTC expiry, never the correct answer.
func (s *ExamService) PushQuestion(ctx context.Context, examID int64, token string, index int) (domain.Exam, error) {
	exam, err := s.stores.Exams.FindByID(ctx, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	if exam.Status != domain.ExamStarted {
		return domain.Exam{}, domain.ErrExamNotStarted
	}
	if !s.authority.Validate(ctx, exam, token) {
		return domain.Exam{}, domain.ErrSessionNotFound
	}

	questions, err := s.stores.Questions.ListByExam(ctx, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	if index < 0 || index >= len(questions) {
		return domain.Exam{}, domain.ErrInvalidIndex
	}

	now := s.now()
	exam, err = s.stores.Exams.MarkPushed(ctx, examID, index, now)
	if err != nil {
		return domain.Exam{}, err
	}

	question := questions[index]
	expiresAt := now.Add(time.Duration(exam.QuestionTimeLimit) * time.Second).UTC()
	s.publish(ctx, domain.ExamQuestionTopic(examID), domain.NewEvent(domain.EventQuestionStarted, domain.QuestionStartedPayload{
		QuestionID:    question.ID,
		QuestionIndex: index,
		QuestionText:  question.Text,
		QuestionType:  question.Type,
		Options:       question.Options,
		TimeLimit:     exam.QuestionTimeLimit,
		ExpiresAt:     expiresAt,
	}, now))

	// Push stats once the window closes so dashboards settle even if no
	// further answers arrive. Firing late or twice is harmless.
	questionID := question.ID
	s.schedule(time.Duration(exam.QuestionTimeLimit)*time.Second, func() {
		s.publishQuestionStats(context.Background(), examID, questionID)
	})

	s.log.Info().Int64("examId", examID).Int("index", index).Msg("question pushed")
	return exam, nil
}

// End closes the exam, revokes the instructor token and broadcasts the
// final leaderboard.
func (s *ExamService) End(ctx context.Context, examID int64, token string) (domain.Exam, error) {
	exam, err := s.stores.Exams.FindByID(ctx, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	if exam.Status != domain.ExamStarted {
		return domain.Exam{}, domain.ErrExamNotStarted
	}
	if !s.authority.Validate(ctx, exam, token) {
		return domain.Exam{}, domain.ErrSessionNotFound
	}

	now := s.now()
	exam, err = s.stores.Exams.End(ctx, examID, now)
	if err != nil {
		return domain.Exam{}, err
	}

	if err := s.authority.Revoke(ctx, examID); err != nil {
		s.log.Error().Err(err).Int64("examId", examID).Msg("token revoke failed")
	}

	s.publish(ctx, domain.ExamStatusTopic(examID), domain.NewEvent(domain.EventExamEnded, domain.ExamStatusPayload{
		ExamID:  exam.ID,
		Status:  exam.Status,
		EndedAt: exam.EndedAt,
	}, now))
	s.publishLeaderboard(ctx, examID, exam.LeaderboardLimit)

	s.log.Info().Int64("examId", examID).Msg("exam ended")
	return exam, nil
}

// ResetSession is the administrative escape hatch for a crashed instructor
// client: it drops the instructor token and, if the exam is running, rewinds
// the live-question pointers. Recorded answers and scores are kept.
func (s *ExamService) ResetSession(ctx context.Context, examID int64) error {
	exam, err := s.stores.Exams.FindByID(ctx, examID)
	if err != nil {
		return err
	}
	if err := s.authority.Revoke(ctx, examID); err != nil {
		return err
	}
	if exam.Status == domain.ExamStarted {
		if err := s.stores.Exams.ClearLiveQuestion(ctx, examID); err != nil {
			return err
		}
	}
	s.log.Info().Int64("examId", examID).Msg("session reset")
	return nil
}

// ExamByID returns the current exam snapshot.
func (s *ExamService) ExamByID(ctx context.Context, examID int64) (domain.Exam, error) {
	return s.stores.Exams.FindByID(ctx, examID)
}

// ExamByAccessCode resolves the join code students use.
func (s *ExamService) ExamByAccessCode(ctx context.Context, code string) (domain.Exam, error) {
	return s.stores.Exams.FindByAccessCode(ctx, code)
}

// QuestionStats recomputes the distribution snapshot for one question.
func (s *ExamService) QuestionStats(ctx context.Context, questionID int64) (domain.QuestionStats, error) {
	return s.stats.QuestionStats(ctx, questionID)
}

// CumulativeStats recomputes the exam-wide score histogram.
func (s *ExamService) CumulativeStats(ctx context.Context, examID int64) (domain.CumulativeStats, error) {
	return s.stats.CumulativeStats(ctx, examID)
}

// Leaderboard ranks the exam's students.
func (s *ExamService) Leaderboard(ctx context.Context, examID int64, limit int) (domain.Leaderboard, error) {
	return s.stats.Leaderboard(ctx, examID, limit)
}

// publish delivers an event and only logs failures: broadcast must never
// undo or mask a state mutation that already happened.
func (s *ExamService) publish(ctx context.Context, topic string, event domain.Event) {
	if err := s.broadcaster.Publish(ctx, topic, event); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Str("event", event.Type).Msg("publish failed")
	}
}

func (s *ExamService) publishQuestionStats(ctx context.Context, examID, questionID int64) {
	stats, err := s.stats.QuestionStats(ctx, questionID)
	if err != nil {
		s.log.Error().Err(err).Int64("questionId", questionID).Msg("question stats recompute failed")
		return
	}
	s.publish(ctx, domain.QuestionStatsTopic(examID, questionID),
		domain.NewEvent(domain.EventStatisticsUpdated, stats, s.now()))
}

func (s *ExamService) publishCumulativeStats(ctx context.Context, examID int64) {
	stats, err := s.stats.CumulativeStats(ctx, examID)
	if err != nil {
		s.log.Error().Err(err).Int64("examId", examID).Msg("cumulative stats recompute failed")
		return
	}
	s.publish(ctx, domain.CumulativeStatsTopic(examID),
		domain.NewEvent(domain.EventCumulativeUpdated, stats, s.now()))
}

func (s *ExamService) publishLeaderboard(ctx context.Context, examID int64, limit int) {
	leaderboard, err := s.stats.Leaderboard(ctx, examID, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("examId", examID).Msg("leaderboard recompute failed")
		return
	}
	s.publish(ctx, domain.LeaderboardTopic(examID),
		domain.NewEvent(domain.EventLeaderboardUpdated, leaderboard, s.now()))
}
