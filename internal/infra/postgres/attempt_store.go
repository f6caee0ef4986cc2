package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptStore persists attempts in Postgres. Transitions out of in_progress
// are single UPDATE statements guarded by `status = 'in_progress'`: zero rows
// affected means another writer advanced the status first, reported as a
// domain Conflict. No advisory locks, no transactions around the transition.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Insert(ctx context.Context, attempt *domain.Attempt) error {
	questions, err := json.Marshal(attempt.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempts (id, quiz_id, user_id, status, started_at, expires_at, auto_submitted, questions, answers, score, total_questions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.ID, attempt.QuizID, attempt.UserID, string(attempt.Status),
		attempt.StartedAt, attempt.ExpiresAt, attempt.AutoSubmitted,
		questions, answers, attempt.Score, attempt.TotalQuestions,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	var (
		attempt   domain.Attempt
		status    string
		questions []byte
		answers   []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, quiz_id, user_id, status, started_at, expires_at, finished_at, auto_submitted, questions, answers, score, total_questions
		FROM attempts WHERE id = $1`, id,
	).Scan(
		&attempt.ID, &attempt.QuizID, &attempt.UserID, &status,
		&attempt.StartedAt, &attempt.ExpiresAt, &attempt.FinishedAt,
		&attempt.AutoSubmitted, &questions, &answers,
		&attempt.Score, &attempt.TotalQuestions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("attempt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	attempt.Status = domain.AttemptStatus(status)
	if err := json.Unmarshal(questions, &attempt.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(answers, &attempt.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	return &attempt, nil
}

func (s *AttemptStore) HasFinished(ctx context.Context, quizID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM attempts WHERE quiz_id = $1 AND user_id = $2 AND status = $3)`,
		quizID, userID, string(domain.AttemptFinished),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check finished attempt: %w", err)
	}
	return exists, nil
}

func (s *AttemptStore) UpdateAnswers(ctx context.Context, id string, answers []domain.AnswerEntry) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts SET answers = $2 WHERE id = $1 AND status = $3`,
		id, raw, string(domain.AttemptInProgress),
	)
	if err != nil {
		return fmt.Errorf("update answers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("attempt %s is no longer in progress", id)
	}
	return nil
}

func (s *AttemptStore) Finalize(ctx context.Context, id string, fin app.Finalization) error {
	raw, err := json.Marshal(fin.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts
		SET status = $2, finished_at = $3, auto_submitted = $4, answers = $5, score = $6
		WHERE id = $1 AND status = $7`,
		id, string(fin.Status), fin.FinishedAt, fin.AutoSubmitted, raw, fin.Score,
		string(domain.AttemptInProgress),
	)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("attempt %s is no longer in progress", id)
	}
	return nil
}

func (s *AttemptStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM attempts
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at LIMIT $3`,
		string(domain.AttemptInProgress), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired attempts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired attempt: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
