package memory

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func newAttempt(id string, expiresAt *time.Time) *domain.Attempt {
	return &domain.Attempt{
		ID:        id,
		QuizID:    "quiz-1",
		UserID:    "u1",
		Status:    domain.AttemptInProgress,
		StartedAt: time.Now(),
		ExpiresAt: expiresAt,
		Questions: []domain.Question{
			{QID: "q1", Type: domain.QuestionTF, CorrectText: "true"},
		},
		Answers:        []domain.AnswerEntry{},
		TotalQuestions: 1,
	}
}

func TestAttemptStoreConditionalWrites(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if err := store.Insert(ctx, newAttempt("a1", nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, newAttempt("a1", nil)); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("duplicate insert should conflict, got %v", err)
	}

	answers := []domain.AnswerEntry{{QID: "q1", Value: domain.TextAnswer("yes")}}
	if err := store.UpdateAnswers(ctx, "a1", answers); err != nil {
		t.Fatalf("update answers: %v", err)
	}

	correct := true
	fin := app.Finalization{
		Status:     domain.AttemptFinished,
		FinishedAt: time.Now(),
		Answers:    []domain.AnswerEntry{{QID: "q1", Value: domain.TextAnswer("yes"), IsCorrect: &correct}},
		Score:      1,
	}
	if err := store.Finalize(ctx, "a1", fin); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Both conditional writes must reject a terminal attempt.
	if err := store.Finalize(ctx, "a1", fin); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("second finalize should conflict, got %v", err)
	}
	if err := store.UpdateAnswers(ctx, "a1", answers); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("update after finalize should conflict, got %v", err)
	}

	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.AttemptFinished || got.Score != 1 {
		t.Fatalf("stored attempt = %+v", got)
	}
}

func TestAttemptStoreGetNotFound(t *testing.T) {
	store := NewAttemptStore()
	if _, err := store.Get(context.Background(), "nope"); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestAttemptStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if err := store.Insert(ctx, newAttempt("a1", nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := store.Get(ctx, "a1")
	got.Status = domain.AttemptFinished
	got.Questions[0].CorrectText = "tampered"

	again, _ := store.Get(ctx, "a1")
	if again.Status != domain.AttemptInProgress || again.Questions[0].CorrectText != "true" {
		t.Fatalf("store leaked mutable state: %+v", again)
	}
}

func TestAttemptStoreHasFinished(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if err := store.Insert(ctx, newAttempt("a1", nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := store.HasFinished(ctx, "quiz-1", "u1")
	if err != nil || ok {
		t.Fatalf("in-progress attempt must not count as finished")
	}

	fin := app.Finalization{Status: domain.AttemptFinished, FinishedAt: time.Now()}
	if err := store.Finalize(ctx, "a1", fin); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ok, _ = store.HasFinished(ctx, "quiz-1", "u1")
	if !ok {
		t.Fatalf("finished attempt not reported")
	}
	ok, _ = store.HasFinished(ctx, "quiz-1", "u2")
	if ok {
		t.Fatalf("other user reported as finished")
	}
}

func TestAttemptStoreListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	_ = store.Insert(ctx, newAttempt("overdue-1", &past))
	_ = store.Insert(ctx, newAttempt("overdue-2", &past))
	_ = store.Insert(ctx, newAttempt("running", &future))
	_ = store.Insert(ctx, newAttempt("unlimited", nil))

	ids, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expired ids = %v, want the two overdue attempts", ids)
	}

	ids, _ = store.ListExpired(ctx, now, 1)
	if len(ids) != 1 {
		t.Fatalf("limit not respected: %v", ids)
	}
}
