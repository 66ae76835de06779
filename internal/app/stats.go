package app

import (
	"context"
	"math"
	"sort"
	"time"

	"exam-session-engine/internal/domain"
)

// defaultLeaderboardLimit is used when the exam does not configure one.
const defaultLeaderboardLimit = 20

// StatsAggregator recomputes statistics and the leaderboard from durable
// answer/student state. It holds no state of its own, so it is safe to call
// concurrently and repeatedly; a duplicate recompute is harmless.
type StatsAggregator struct {
	questions QuestionRepository
	students  StudentRepository
	answers   AnswerRepository
	now       func() time.Time
}

func NewStatsAggregator(questions QuestionRepository, students StudentRepository, answers AnswerRepository) *StatsAggregator {
	return &StatsAggregator{questions: questions, students: students, answers: answers, now: time.Now}
}

// QuestionStats builds the option distribution and correctness rate for one
// question. Percentages carry two decimals, the correct rate is a fraction
// rounded to four.
func (s *StatsAggregator) QuestionStats(ctx context.Context, questionID int64) (domain.QuestionStats, error) {
	question, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		return domain.QuestionStats{}, err
	}

	total, err := s.answers.CountByQuestion(ctx, questionID)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	counts, err := s.answers.OptionCounts(ctx, questionID)
	if err != nil {
		return domain.QuestionStats{}, err
	}

	options := make([]domain.OptionStat, 0, len(question.Options))
	for _, opt := range question.Options {
		count := counts[opt.ID]
		pct := 0.0
		if total > 0 {
			pct = float64(count) * 100.0 / float64(total)
		}
		options = append(options, domain.OptionStat{
			OptionID:   opt.ID,
			Text:       opt.Text,
			Count:      count,
			Percentage: round2(pct),
			Correct:    optionIsCorrect(question, opt.ID),
		})
	}

	correct, err := s.answers.CountCorrectByQuestion(ctx, questionID)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	rate := 0.0
	if total > 0 {
		rate = float64(correct) / float64(total)
	}

	return domain.QuestionStats{
		QuestionID:   questionID,
		QuestionText: question.Text,
		TotalAnswers: total,
		Options:      options,
		CorrectRate:  round4(rate),
		Timestamp:    s.now(),
	}, nil
}

// CumulativeStats builds the exam-wide score histogram and mean score.
func (s *StatsAggregator) CumulativeStats(ctx context.Context, examID int64) (domain.CumulativeStats, error) {
	histogram, err := s.students.ScoreHistogram(ctx, examID)
	if err != nil {
		return domain.CumulativeStats{}, err
	}
	totalStudents, err := s.students.CountByExam(ctx, examID)
	if err != nil {
		return domain.CumulativeStats{}, err
	}
	totalQuestions, err := s.questions.CountByExam(ctx, examID)
	if err != nil {
		return domain.CumulativeStats{}, err
	}

	scores := make([]int, 0, len(histogram))
	for score := range histogram {
		scores = append(scores, score)
	}
	sort.Ints(scores)

	var weighted float64
	buckets := make([]domain.ScoreBucket, 0, len(scores))
	for _, score := range scores {
		count := histogram[score]
		pct := 0.0
		if totalStudents > 0 {
			pct = float64(count) * 100.0 / float64(totalStudents)
		}
		buckets = append(buckets, domain.ScoreBucket{
			Score:      score,
			Count:      count,
			Percentage: round2(pct),
		})
		weighted += float64(score) * float64(count)
	}

	mean := 0.0
	if totalStudents > 0 {
		mean = weighted / float64(totalStudents)
	}

	return domain.CumulativeStats{
		ExamID:         examID,
		TotalStudents:  totalStudents,
		TotalQuestions: totalQuestions,
		Distribution:   buckets,
		AverageScore:   round2(mean),
		Timestamp:      s.now(),
	}, nil
}

// Leaderboard ranks students by score descending, tie-broken by total time
// spent answering ascending, then by student id for a stable order. Ranks
// are dense and 1-based with no gaps, assigned after sorting.
func (s *StatsAggregator) Leaderboard(ctx context.Context, examID int64, limit int) (domain.Leaderboard, error) {
	rows, err := s.students.RankedByExam(ctx, examID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	totalQuestions, err := s.questions.CountByExam(ctx, examID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	totalStudents := int64(len(rows))

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Student.TotalScore != rows[j].Student.TotalScore {
			return rows[i].Student.TotalScore > rows[j].Student.TotalScore
		}
		if rows[i].TimeTakenMs != rows[j].TimeTakenMs {
			return rows[i].TimeTakenMs < rows[j].TimeTakenMs
		}
		return rows[i].Student.ID < rows[j].Student.ID
	})

	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		rate := 0.0
		if totalQuestions > 0 {
			rate = float64(row.Student.TotalScore) / float64(totalQuestions)
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:        i + 1,
			StudentID:   row.Student.ID,
			Name:        row.Student.Name,
			TotalScore:  row.Student.TotalScore,
			CorrectRate: round4(rate),
			TimeTakenMs: row.TimeTakenMs,
		})
	}

	return domain.Leaderboard{
		ExamID:         examID,
		TotalStudents:  totalStudents,
		TotalQuestions: totalQuestions,
		Entries:        entries,
		UpdatedAt:      s.now(),
	}, nil
}

func optionIsCorrect(q domain.Question, optionID int64) bool {
	if q.Type == domain.QuestionMulti {
		for _, id := range q.CorrectOptionIDs {
			if id == optionID {
				return true
			}
		}
		return false
	}
	return q.CorrectOptionID == optionID
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
