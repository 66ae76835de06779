package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/infra/memory"
	pgstore "exam-session-engine/internal/infra/postgres"
	"exam-session-engine/internal/infra/postgres/migrations"
	infraredis "exam-session-engine/internal/infra/redis"
)

func TestExamSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	examID := seedExam(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	stores := pgstore.NewStore(pool).Stores()
	stores.Questions = memory.NewCatalogCache(stores.Questions, 5*time.Minute)
	tokens := infraredis.NewTokenStore(redisClient, time.Hour)
	hub := memory.NewHub()
	broadcaster := app.MultiBroadcaster{hub, infraredis.NewPublisher(redisClient)}
	service := app.NewExamService(stores, tokens, broadcaster, zerolog.Nop())

	// Lifecycle: start, push the first question.
	token, exam, err := service.Start(ctx, examID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exam.Status != domain.ExamStarted {
		t.Fatalf("expected STARTED, got %s", exam.Status)
	}
	if _, _, err := service.Start(ctx, examID); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("double start: expected ErrAlreadyStarted, got %v", err)
	}
	if _, err := service.PushQuestion(ctx, examID, token, 0); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := service.PushQuestion(ctx, examID, token, 0); !errors.Is(err, domain.ErrAlreadyPushed) {
		t.Fatalf("re-push: expected ErrAlreadyPushed, got %v", err)
	}

	// Students join and answer; the unique constraint rejects a re-answer.
	questions, err := stores.Questions.ListByExam(ctx, examID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	alice, _, err := service.Join(ctx, "IT101", "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, live, err := service.Join(ctx, "IT101", "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if live == nil || live.QuestionID != questions[0].ID {
		t.Fatalf("expected the live question in bob's catch-up, got %+v", live)
	}

	result, err := service.SubmitAnswer(ctx, examID, questions[0].ID, alice.SessionID, []int64{correctOptionID(t, questions[0])})
	if err != nil {
		t.Fatalf("alice answer: %v", err)
	}
	if !result.Answer.IsCorrect || result.TotalScore != 1 {
		t.Fatalf("expected a scored answer, got %+v", result)
	}
	if _, err := service.SubmitAnswer(ctx, examID, questions[0].ID, alice.SessionID, []int64{wrongOptionID(t, questions[0])}); !errors.Is(err, domain.ErrAnswerAlreadyExists) {
		t.Fatalf("duplicate answer: expected ErrAnswerAlreadyExists, got %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, examID, questions[0].ID, bob.SessionID, []int64{wrongOptionID(t, questions[0])}); err != nil {
		t.Fatalf("bob answer: %v", err)
	}

	// Stats come straight from the database.
	stats, err := service.QuestionStats(ctx, questions[0].ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalAnswers != 2 || stats.CorrectRate != 0.5 {
		t.Fatalf("expected 2 answers at rate 0.5, got %+v", stats)
	}

	leaderboard, err := service.Leaderboard(ctx, examID, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(leaderboard.Entries) != 2 || leaderboard.Entries[0].Name != "Alice" || leaderboard.Entries[0].Rank != 1 {
		t.Fatalf("expected alice leading, got %+v", leaderboard.Entries)
	}

	if _, err := service.End(ctx, examID, token); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := service.PushQuestion(ctx, examID, token, 1); !errors.Is(err, domain.ErrExamNotStarted) {
		t.Fatalf("push after end: expected ErrExamNotStarted, got %v", err)
	}
}

func TestInstructorRecoveryAfterTokenLoss(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	examID := seedExam(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	tokens := infraredis.NewTokenStore(redisClient, time.Hour)
	service := app.NewExamService(pgstore.NewStore(pool).Stores(), tokens, memory.NewHub(), zerolog.Nop())

	if _, _, err := service.Start(ctx, examID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Simulate a crash that loses the token before any question went live.
	if err := tokens.Delete(ctx, examID); err != nil {
		t.Fatalf("drop token: %v", err)
	}
	if _, err := service.PushQuestion(ctx, examID, "recovered-token", 0); err != nil {
		t.Fatalf("push with recovered token: %v", err)
	}

	// Once a question is live the adopted token is authoritative.
	if _, err := service.PushQuestion(ctx, examID, "another-token", 1); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := service.PushQuestion(ctx, examID, "recovered-token", 1); err != nil {
		t.Fatalf("push next with recovered token: %v", err)
	}
}

func seedExam(t *testing.T, ctx context.Context, dsn string) int64 {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var examID int64
	if err := db.QueryRowContext(ctx,
		`INSERT INTO exams (title, access_code, question_time_limit, leaderboard_limit)
		 VALUES ('Integration exam', 'IT101', 60, 20) RETURNING id`).Scan(&examID); err != nil {
		t.Fatalf("insert exam: %v", err)
	}

	for order, q := range []struct {
		text    string
		options []string
		correct int // option_order of the right answer
	}{
		{"What is 2 + 2?", []string{"3", "4", "5"}, 2},
		{"Which port does HTTPS use?", []string{"80", "443"}, 2},
	} {
		var questionID int64
		if err := db.QueryRowContext(ctx,
			`INSERT INTO questions (exam_id, question_order, question_text, question_type)
			 VALUES (?, ?, ?, 'SINGLE') RETURNING id`, examID, order+1, q.text).Scan(&questionID); err != nil {
			t.Fatalf("insert question: %v", err)
		}
		for i, text := range q.options {
			var optionID int64
			if err := db.QueryRowContext(ctx,
				`INSERT INTO question_options (question_id, option_order, option_text)
				 VALUES (?, ?, ?) RETURNING id`, questionID, i+1, text).Scan(&optionID); err != nil {
				t.Fatalf("insert option: %v", err)
			}
			if i+1 == q.correct {
				if _, err := db.ExecContext(ctx,
					`UPDATE questions SET correct_option_id = ? WHERE id = ?`, optionID, questionID); err != nil {
					t.Fatalf("set correct option: %v", err)
				}
			}
		}
	}
	return examID
}

func correctOptionID(t *testing.T, q domain.Question) int64 {
	t.Helper()
	if q.CorrectOptionID == 0 {
		t.Fatalf("question %d has no correct option", q.ID)
	}
	return q.CorrectOptionID
}

func wrongOptionID(t *testing.T, q domain.Question) int64 {
	t.Helper()
	for _, opt := range q.Options {
		if opt.ID != q.CorrectOptionID {
			return opt.ID
		}
	}
	t.Fatalf("question %d has no wrong option", q.ID)
	return 0
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
