package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exam-session-engine/internal/domain"
)

// countingSource records how often the backing store is hit.
type countingSource struct {
	lists     int64
	finds     int64
	questions []domain.Question
}

func (s *countingSource) ListByExam(_ context.Context, examID int64) ([]domain.Question, error) {
	atomic.AddInt64(&s.lists, 1)
	if examID != 1 {
		return nil, domain.ErrExamNotFound
	}
	return s.questions, nil
}

func (s *countingSource) FindByID(_ context.Context, questionID int64) (domain.Question, error) {
	atomic.AddInt64(&s.finds, 1)
	for _, q := range s.questions {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (s *countingSource) CountByExam(_ context.Context, examID int64) (int64, error) {
	if examID != 1 {
		return 0, domain.ErrExamNotFound
	}
	return int64(len(s.questions)), nil
}

func newCountingSource() *countingSource {
	return &countingSource{questions: []domain.Question{
		{ID: 10, ExamID: 1, Order: 1, Text: "q1", Type: domain.QuestionSingle, CorrectOptionID: 1},
		{ID: 20, ExamID: 1, Order: 2, Text: "q2", Type: domain.QuestionSingle, CorrectOptionID: 2},
	}}
}

func TestCatalogCacheServesFromCache(t *testing.T) {
	source := newCountingSource()
	cache := NewCatalogCache(source, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		questions, err := cache.ListByExam(ctx, 1)
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if len(questions) != 2 {
			t.Fatalf("expected 2 questions, got %d", len(questions))
		}
	}
	if got := atomic.LoadInt64(&source.lists); got != 1 {
		t.Fatalf("expected a single source hit, got %d", got)
	}

	// FindByID resolves through the loaded index without another source hit.
	question, err := cache.FindByID(ctx, 20)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if question.Text != "q2" {
		t.Fatalf("unexpected question %+v", question)
	}
	if got := atomic.LoadInt64(&source.finds); got != 0 {
		t.Fatalf("expected no direct find, got %d", got)
	}

	count, err := cache.CountByExam(ctx, 1)
	if err != nil || count != 2 {
		t.Fatalf("count: %d, %v", count, err)
	}
}

func TestCatalogCacheExpiry(t *testing.T) {
	source := newCountingSource()
	cache := NewCatalogCache(source, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := cache.ListByExam(ctx, 1); err != nil {
		t.Fatalf("list: %v", err)
	}
	// Jitter stretches the TTL by at most 10%, so two TTLs is safely past it.
	now = now.Add(2 * time.Minute)
	if _, err := cache.ListByExam(ctx, 1); err != nil {
		t.Fatalf("list after expiry: %v", err)
	}
	if got := atomic.LoadInt64(&source.lists); got != 2 {
		t.Fatalf("expected a reload after expiry, got %d source hits", got)
	}
}

func TestCatalogCacheCollapsesConcurrentLoads(t *testing.T) {
	source := newCountingSource()
	cache := NewCatalogCache(source, time.Minute)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.ListByExam(ctx, 1); err != nil {
				t.Errorf("list: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt64(&source.lists); got != 1 {
		t.Fatalf("expected the loads to collapse into one, got %d", got)
	}
}

func TestCatalogCacheErrorsAreNotCached(t *testing.T) {
	source := newCountingSource()
	cache := NewCatalogCache(source, time.Minute)
	ctx := context.Background()

	if _, err := cache.ListByExam(ctx, 404); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
	if _, err := cache.ListByExam(ctx, 404); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound again, got %v", err)
	}
	if got := atomic.LoadInt64(&source.lists); got != 2 {
		t.Fatalf("errors must not populate the cache, got %d source hits", got)
	}
}
