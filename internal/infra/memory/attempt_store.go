package memory

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. The mutex
// plus in-lock status checks give it the same conditional-write contract as
// the Postgres store, which makes it usable for the race tests.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]*domain.Attempt)}
}

func (s *AttemptStore) Insert(_ context.Context, attempt *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; ok {
		return domain.Conflict("attempt %s already exists", attempt.ID)
	}
	s.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (s *AttemptStore) Get(_ context.Context, id string) (*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return nil, domain.NotFound("attempt %s not found", id)
	}
	return attempt.Clone(), nil
}

func (s *AttemptStore) HasFinished(_ context.Context, quizID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, attempt := range s.attempts {
		if attempt.QuizID == quizID && attempt.UserID == userID && attempt.Status == domain.AttemptFinished {
			return true, nil
		}
	}
	return false, nil
}

func (s *AttemptStore) UpdateAnswers(_ context.Context, id string, answers []domain.AnswerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return domain.NotFound("attempt %s not found", id)
	}
	if attempt.Status != domain.AttemptInProgress {
		return domain.Conflict("attempt %s is already %s", id, attempt.Status)
	}
	attempt.Answers = cloneEntries(answers)
	return nil
}

func (s *AttemptStore) Finalize(_ context.Context, id string, fin app.Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return domain.NotFound("attempt %s not found", id)
	}
	if attempt.Status != domain.AttemptInProgress {
		return domain.Conflict("attempt %s is already %s", id, attempt.Status)
	}
	finishedAt := fin.FinishedAt
	attempt.Status = fin.Status
	attempt.FinishedAt = &finishedAt
	attempt.AutoSubmitted = fin.AutoSubmitted
	attempt.Answers = cloneEntries(fin.Answers)
	attempt.Score = fin.Score
	return nil
}

func (s *AttemptStore) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, attempt := range s.attempts {
		if len(ids) >= limit {
			break
		}
		if attempt.Status == domain.AttemptInProgress && attempt.Overdue(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func cloneEntries(entries []domain.AnswerEntry) []domain.AnswerEntry {
	out := make([]domain.AnswerEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.IsCorrect != nil {
			v := *e.IsCorrect
			out[i].IsCorrect = &v
		}
	}
	return out
}
