package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
)

// Store is the durable pgx-backed implementation of the engine's
// repositories. The race-sensitive operations lean on the database:
// answer inserts on the (student_id, question_id) unique constraint,
// score bumps on an atomic UPDATE, and lifecycle transitions on
// conditional writes so two racing commands cannot both win.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Stores exposes the store as the engine's repository facets.
func (s *Store) Stores() app.Stores {
	return app.Stores{
		Exams:     s,
		Questions: pgQuestionRepo{s},
		Students:  pgStudentRepo{s},
		Answers:   s,
	}
}

const examColumns = `id, title, status, access_code, question_time_limit, leaderboard_limit,
	current_question_index, last_pushed_index, question_started_at, created_at, started_at, ended_at`

func scanExam(row pgx.Row) (domain.Exam, error) {
	var exam domain.Exam
	var lastPushed *int
	err := row.Scan(&exam.ID, &exam.Title, &exam.Status, &exam.AccessCode,
		&exam.QuestionTimeLimit, &exam.LeaderboardLimit, &exam.CurrentQuestionIndex,
		&lastPushed, &exam.QuestionStartedAt, &exam.CreatedAt, &exam.StartedAt, &exam.EndedAt)
	if err != nil {
		return domain.Exam{}, err
	}
	exam.LastPushedIndex = domain.NoQuestion
	if lastPushed != nil {
		exam.LastPushedIndex = *lastPushed
	}
	return exam, nil
}

// --- app.ExamRepository ---

func (s *Store) FindByID(ctx context.Context, examID int64) (domain.Exam, error) {
	exam, err := scanExam(s.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id=$1`, examID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("find exam: %w", err)
	}
	return exam, nil
}

func (s *Store) FindByAccessCode(ctx context.Context, code string) (domain.Exam, error) {
	exam, err := scanExam(s.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE access_code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("find exam by code: %w", err)
	}
	return exam, nil
}

func (s *Store) Start(ctx context.Context, examID int64, now time.Time) (domain.Exam, error) {
	exam, err := scanExam(s.pool.QueryRow(ctx,
		`UPDATE exams SET status=$2, started_at=$3
		 WHERE id=$1 AND status=$4
		 RETURNING `+examColumns,
		examID, domain.ExamStarted, now, domain.ExamCreated))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, s.transitionFailure(ctx, examID, domain.ErrAlreadyStarted)
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("start exam: %w", err)
	}
	return exam, nil
}

func (s *Store) MarkPushed(ctx context.Context, examID int64, index int, now time.Time) (domain.Exam, error) {
	exam, err := scanExam(s.pool.QueryRow(ctx,
		`UPDATE exams SET current_question_index=$2, last_pushed_index=$2, question_started_at=$3
		 WHERE id=$1 AND status=$4 AND (last_pushed_index IS NULL OR last_pushed_index < $2)
		 RETURNING `+examColumns,
		examID, index, now, domain.ExamStarted))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, s.pushFailure(ctx, examID)
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("mark pushed: %w", err)
	}
	return exam, nil
}

func (s *Store) End(ctx context.Context, examID int64, now time.Time) (domain.Exam, error) {
	exam, err := scanExam(s.pool.QueryRow(ctx,
		`UPDATE exams SET status=$2, ended_at=$3
		 WHERE id=$1 AND status=$4
		 RETURNING `+examColumns,
		examID, domain.ExamEnded, now, domain.ExamStarted))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, s.transitionFailure(ctx, examID, domain.ErrExamNotStarted)
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("end exam: %w", err)
	}
	return exam, nil
}

func (s *Store) ClearLiveQuestion(ctx context.Context, examID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exams SET current_question_index=$2, last_pushed_index=NULL, question_started_at=NULL
		 WHERE id=$1`, examID, domain.NoQuestion)
	if err != nil {
		return fmt.Errorf("clear live question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExamNotFound
	}
	return nil
}

// transitionFailure maps a zero-row conditional update to the right error.
func (s *Store) transitionFailure(ctx context.Context, examID int64, stateErr error) error {
	if _, err := s.FindByID(ctx, examID); err != nil {
		return err
	}
	return stateErr
}

func (s *Store) pushFailure(ctx context.Context, examID int64) error {
	exam, err := s.FindByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != domain.ExamStarted {
		return domain.ErrExamNotStarted
	}
	return domain.ErrAlreadyPushed
}

// --- questions ---

func (s *Store) listQuestions(ctx context.Context, examID int64) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, exam_id, question_order, question_text, question_type, correct_option_id, correct_option_ids
		 FROM questions WHERE exam_id=$1 ORDER BY question_order ASC`, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	index := make(map[int64]int)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	optRows, err := s.pool.Query(ctx,
		`SELECT o.id, o.question_id, o.option_order, o.option_text
		 FROM question_options o
		 JOIN questions q ON q.id = o.question_id
		 WHERE q.exam_id=$1
		 ORDER BY o.question_id, o.option_order ASC`, examID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var opt domain.Option
		var questionID int64
		if err := optRows.Scan(&opt.ID, &questionID, &opt.Order, &opt.Text); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		if i, ok := index[questionID]; ok {
			questions[i].Options = append(questions[i].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	return questions, nil
}

func (s *Store) findQuestion(ctx context.Context, questionID int64) (domain.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT id, exam_id, question_order, question_text, question_type, correct_option_id, correct_option_ids
		 FROM questions WHERE id=$1`, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("find question: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, option_order, option_text FROM question_options
		 WHERE question_id=$1 ORDER BY option_order ASC`, questionID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var opt domain.Option
		if err := rows.Scan(&opt.ID, &opt.Order, &opt.Text); err != nil {
			return domain.Question{}, fmt.Errorf("scan option: %w", err)
		}
		q.Options = append(q.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return domain.Question{}, fmt.Errorf("list options: %w", err)
	}
	return q, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var q domain.Question
	var correctID *int64
	var correctIDs []byte
	if err := row.Scan(&q.ID, &q.ExamID, &q.Order, &q.Text, &q.Type, &correctID, &correctIDs); err != nil {
		return domain.Question{}, err
	}
	if correctID != nil {
		q.CorrectOptionID = *correctID
	}
	if len(correctIDs) > 0 {
		if err := json.Unmarshal(correctIDs, &q.CorrectOptionIDs); err != nil {
			return domain.Question{}, fmt.Errorf("unmarshal correct options: %w", err)
		}
	}
	return q, nil
}

func (s *Store) countQuestions(ctx context.Context, examID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id=$1`, examID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}

// --- app.StudentRepository (via pgStudentRepo) ---

func (s *Store) createStudent(ctx context.Context, student *domain.Student) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO students (exam_id, session_id, name, total_score, joined_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		student.ExamID, student.SessionID, student.Name, student.TotalScore, student.JoinedAt,
	).Scan(&student.ID)
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

func (s *Store) findStudentBySession(ctx context.Context, sessionID string) (domain.Student, error) {
	var student domain.Student
	err := s.pool.QueryRow(ctx,
		`SELECT id, exam_id, session_id, name, total_score, joined_at
		 FROM students WHERE session_id=$1`, sessionID,
	).Scan(&student.ID, &student.ExamID, &student.SessionID, &student.Name, &student.TotalScore, &student.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	if err != nil {
		return domain.Student{}, fmt.Errorf("find student: %w", err)
	}
	return student, nil
}

func (s *Store) addScore(ctx context.Context, studentID int64, delta int) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`UPDATE students SET total_score = total_score + $2 WHERE id=$1 RETURNING total_score`,
		studentID, delta,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrStudentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add score: %w", err)
	}
	return total, nil
}

func (s *Store) countStudents(ctx context.Context, examID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE exam_id=$1`, examID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

func (s *Store) scoreHistogram(ctx context.Context, examID int64) (map[int]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT total_score, COUNT(*) FROM students WHERE exam_id=$1 GROUP BY total_score`, examID)
	if err != nil {
		return nil, fmt.Errorf("score histogram: %w", err)
	}
	defer rows.Close()
	histogram := make(map[int]int64)
	for rows.Next() {
		var score int
		var count int64
		if err := rows.Scan(&score, &count); err != nil {
			return nil, fmt.Errorf("scan histogram: %w", err)
		}
		histogram[score] = count
	}
	return histogram, rows.Err()
}

func (s *Store) rankedByExam(ctx context.Context, examID int64) ([]domain.RankRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.exam_id, s.session_id, s.name, s.total_score, s.joined_at,
		        COALESCE(SUM(a.time_taken_ms), 0)
		 FROM students s
		 LEFT JOIN answers a ON a.student_id = s.id
		 WHERE s.exam_id=$1
		 GROUP BY s.id`, examID)
	if err != nil {
		return nil, fmt.Errorf("ranked students: %w", err)
	}
	defer rows.Close()
	var out []domain.RankRow
	for rows.Next() {
		var row domain.RankRow
		if err := rows.Scan(&row.Student.ID, &row.Student.ExamID, &row.Student.SessionID,
			&row.Student.Name, &row.Student.TotalScore, &row.Student.JoinedAt, &row.TimeTakenMs); err != nil {
			return nil, fmt.Errorf("scan ranked student: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// --- app.AnswerRepository ---

// Insert is the atomic check-and-insert on (student_id, question_id): the
// unique constraint, not an application-level existence check, decides the
// race between two concurrent submissions.
func (s *Store) Insert(ctx context.Context, answer *domain.Answer) error {
	selected, err := json.Marshal(answer.SelectedOptionIDs)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO answers (student_id, question_id, selected_option_ids, is_correct, answered_at, time_taken_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (student_id, question_id) DO NOTHING
		 RETURNING id`,
		answer.StudentID, answer.QuestionID, selected, answer.IsCorrect, answer.AnsweredAt, answer.TimeTakenMs,
	).Scan(&answer.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAnswerAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, studentID, questionID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM answers WHERE student_id=$1 AND question_id=$2)`,
		studentID, questionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("answer exists: %w", err)
	}
	return exists, nil
}

func (s *Store) CountByQuestion(ctx context.Context, questionID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM answers WHERE question_id=$1`, questionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

func (s *Store) CountCorrectByQuestion(ctx context.Context, questionID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM answers WHERE question_id=$1 AND is_correct`, questionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count correct answers: %w", err)
	}
	return count, nil
}

func (s *Store) OptionCounts(ctx context.Context, questionID int64) (map[int64]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT elem::bigint, COUNT(*)
		 FROM answers, jsonb_array_elements_text(selected_option_ids) AS elem
		 WHERE question_id=$1
		 GROUP BY 1`, questionID)
	if err != nil {
		return nil, fmt.Errorf("option counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[int64]int64)
	for rows.Next() {
		var optionID, count int64
		if err := rows.Scan(&optionID, &count); err != nil {
			return nil, fmt.Errorf("scan option count: %w", err)
		}
		counts[optionID] = count
	}
	return counts, rows.Err()
}

func (s *Store) ListByStudent(ctx context.Context, studentID int64) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, student_id, question_id, selected_option_ids, is_correct, answered_at, time_taken_ms
		 FROM answers WHERE student_id=$1 ORDER BY answered_at ASC`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		var answer domain.Answer
		var selected []byte
		if err := rows.Scan(&answer.ID, &answer.StudentID, &answer.QuestionID, &selected,
			&answer.IsCorrect, &answer.AnsweredAt, &answer.TimeTakenMs); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if err := json.Unmarshal(selected, &answer.SelectedOptionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal selection: %w", err)
		}
		out = append(out, answer)
	}
	return out, rows.Err()
}

// pgQuestionRepo and pgStudentRepo disambiguate the facet method names that
// would otherwise collide on the shared store.

type pgQuestionRepo struct{ *Store }

func (r pgQuestionRepo) ListByExam(ctx context.Context, examID int64) ([]domain.Question, error) {
	return r.listQuestions(ctx, examID)
}

func (r pgQuestionRepo) FindByID(ctx context.Context, questionID int64) (domain.Question, error) {
	return r.findQuestion(ctx, questionID)
}

func (r pgQuestionRepo) CountByExam(ctx context.Context, examID int64) (int64, error) {
	return r.countQuestions(ctx, examID)
}

type pgStudentRepo struct{ *Store }

func (r pgStudentRepo) Create(ctx context.Context, student *domain.Student) error {
	return r.createStudent(ctx, student)
}

func (r pgStudentRepo) FindBySessionID(ctx context.Context, sessionID string) (domain.Student, error) {
	return r.findStudentBySession(ctx, sessionID)
}

func (r pgStudentRepo) AddScore(ctx context.Context, studentID int64, delta int) (int, error) {
	return r.addScore(ctx, studentID, delta)
}

func (r pgStudentRepo) CountByExam(ctx context.Context, examID int64) (int64, error) {
	return r.countStudents(ctx, examID)
}

func (r pgStudentRepo) ScoreHistogram(ctx context.Context, examID int64) (map[int]int64, error) {
	return r.scoreHistogram(ctx, examID)
}

func (r pgStudentRepo) RankedByExam(ctx context.Context, examID int64) ([]domain.RankRow, error) {
	return r.rankedByExam(ctx, examID)
}
