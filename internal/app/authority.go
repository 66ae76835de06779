package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exam-session-engine/internal/domain"
)

// Authority issues, validates and revokes the privileged instructor token
// bound to one exam. It is the single piece of intentional mutable session
// state in the engine; the backing TokenStore is injected so it can be
// swapped for redis when the engine runs behind more than one connection.
type Authority struct {
	tokens TokenStore
	log    zerolog.Logger
}

func NewAuthority(tokens TokenStore, log zerolog.Logger) *Authority {
	return &Authority{tokens: tokens, log: log}
}

// Issue mints a fresh token for the exam, replacing any prior one.
func (a *Authority) Issue(ctx context.Context, examID int64) (string, error) {
	token := uuid.NewString()
	if err := a.tokens.Put(ctx, examID, token); err != nil {
		return "", err
	}
	a.log.Info().Int64("examId", examID).Msg("instructor session issued")
	return token, nil
}

// Validate decides whether a provided token may mutate the exam.
//
// Exams in CREATED or ENDED have no live session to protect, so validation
// passes unconditionally. For STARTED exams the provided token must match
// the stored one, with one recovery exception: if no token is stored (the
// process restarted) and no question has gone live yet, a non-empty provided
// token is adopted as the new session. Once a question has been broadcast,
// re-binding is refused so a second instructor cannot hijack the session.
func (a *Authority) Validate(ctx context.Context, exam domain.Exam, provided string) bool {
	if exam.Status == domain.ExamCreated || exam.Status == domain.ExamEnded {
		return true
	}
	if exam.Status != domain.ExamStarted {
		return false
	}

	stored, ok, err := a.tokens.Get(ctx, exam.ID)
	if err != nil {
		a.log.Error().Err(err).Int64("examId", exam.ID).Msg("token lookup failed")
		return false
	}
	if !ok {
		if exam.QuestionStartedAt == nil && provided != "" {
			if err := a.tokens.Put(ctx, exam.ID, provided); err != nil {
				a.log.Error().Err(err).Int64("examId", exam.ID).Msg("token adoption failed")
				return false
			}
			a.log.Info().Int64("examId", exam.ID).Msg("instructor session recovered")
			return true
		}
		a.log.Warn().Int64("examId", exam.ID).Msg("no instructor session and cannot recover")
		return false
	}
	if stored != provided {
		a.log.Warn().Int64("examId", exam.ID).Msg("instructor token mismatch")
		return false
	}
	return true
}

// Revoke removes the stored token. Idempotent.
func (a *Authority) Revoke(ctx context.Context, examID int64) error {
	return a.tokens.Delete(ctx, examID)
}
