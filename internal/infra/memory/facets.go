package memory

import (
	"context"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
)

// Stores exposes the store as the engine's repository facets.
func (s *Store) Stores() app.Stores {
	return app.Stores{
		Exams:     s,
		Questions: questionRepo{s},
		Students:  studentRepo{s},
		Answers:   s,
	}
}

// questionRepo disambiguates the question-side method names from the
// student-side ones sharing the underlying store.
type questionRepo struct{ *Store }

func (r questionRepo) FindByID(ctx context.Context, questionID int64) (domain.Question, error) {
	return r.Store.FindQuestion(ctx, questionID)
}

type studentRepo struct{ *Store }

func (r studentRepo) CountByExam(ctx context.Context, examID int64) (int64, error) {
	return r.Store.CountStudents(ctx, examID)
}
