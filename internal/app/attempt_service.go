package app

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
)

// AttemptStore abstracts attempt persistence (in-memory, Postgres, etc).
// Every transition out of in_progress goes through a conditional write: the
// store must apply UpdateAnswers and Finalize only while the stored status is
// still in_progress, and return a domain Conflict error otherwise. That
// conditional write is the sole concurrency-safety mechanism; callers add no
// locking of their own.
type AttemptStore interface {
	Insert(ctx context.Context, attempt *domain.Attempt) error
	Get(ctx context.Context, id string) (*domain.Attempt, error)
	// HasFinished reports whether a finished attempt exists for the pair.
	HasFinished(ctx context.Context, quizID, userID string) (bool, error)
	// UpdateAnswers replaces the answer set iff status is still in_progress.
	UpdateAnswers(ctx context.Context, id string, answers []domain.AnswerEntry) error
	// Finalize applies the terminal transition iff status is still in_progress.
	Finalize(ctx context.Context, id string, fin Finalization) error
	// ListExpired returns ids of in_progress attempts whose deadline passed,
	// bounded by limit.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Finalization carries every field the terminal transition sets atomically.
type Finalization struct {
	Status        domain.AttemptStatus
	FinishedAt    time.Time
	AutoSubmitted bool
	Answers       []domain.AnswerEntry
	Score         int
}

// QuizRepository loads quiz definitions (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// StatsRecorder receives the best-effort aggregate update after a finalize.
// Increments must be commutative; ordering between concurrent finalizes for
// the same user does not matter.
type StatsRecorder interface {
	RecordFinalize(ctx context.Context, userID string, scoreDelta, attemptDelta int) error
}

// Trigger identifies who initiated a finalize.
type Trigger string

const (
	TriggerUser   Trigger = "user"
	TriggerExpiry Trigger = "expiry"
)

// AnswerInput is one answer supplied by a save or submit payload.
type AnswerInput struct {
	QID              string             `json:"qid"`
	Value            domain.AnswerValue `json:"userAnswer"`
	TimeTakenSeconds int                `json:"timeTakenSeconds,omitempty"`
}

// AttemptService owns the attempt state machine: creation, progress saves,
// and the finalize transition that invokes grading.
type AttemptService struct {
	store           AttemptStore
	quizzes         QuizRepository
	stats           StatsRecorder
	grader          *grading.Engine
	clock           func() time.Time
	rnd             *rand.Rand
	newID           func() string
	defaultDuration time.Duration
}

// Option tweaks service construction; used by the server wiring and tests.
type Option func(*AttemptService)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.clock = now }
}

// WithEngine overrides the grading policy.
func WithEngine(e *grading.Engine) Option {
	return func(s *AttemptService) { s.grader = e }
}

// WithRand injects the shuffle source.
func WithRand(rnd *rand.Rand) Option {
	return func(s *AttemptService) { s.rnd = rnd }
}

// WithIDGenerator injects attempt id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *AttemptService) { s.newID = gen }
}

// WithDefaultDuration sets the per-attempt duration used when the quiz does
// not specify one. Zero keeps such attempts unlimited.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *AttemptService) { s.defaultDuration = d }
}

func NewAttemptService(store AttemptStore, quizzes QuizRepository, stats StatsRecorder, opts ...Option) *AttemptService {
	s := &AttemptService{
		store:   store,
		quizzes: quizzes,
		stats:   stats,
		grader:  grading.NewEngine(),
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QuestionView is the client-safe projection of a snapshot question. The
// answer-key fields are populated only on terminal reads.
type QuestionView struct {
	QID          string              `json:"qid"`
	Type         domain.QuestionType `json:"type"`
	Difficulty   string              `json:"difficulty,omitempty"`
	Prompt       string              `json:"prompt"`
	Choices      []string            `json:"choices,omitempty"`
	CorrectIndex *int                `json:"correctIndex,omitempty"`
	CorrectText  string              `json:"correctText,omitempty"`
	Explanation  string              `json:"explanation,omitempty"`
}

// StartResult is the response to a successful attempt start.
type StartResult struct {
	AttemptID string         `json:"attemptId"`
	QuizID    string         `json:"quizId"`
	StartedAt time.Time      `json:"startedAt"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Questions []QuestionView `json:"questions"`
}

// SaveResult acknowledges a progress save.
type SaveResult struct {
	AnswerCount int `json:"answerCount"`
}

// ReviewEntry merges one snapshot question with its graded answer.
type ReviewEntry struct {
	QID         string             `json:"qid"`
	Prompt      string             `json:"prompt"`
	Expected    string             `json:"expected"`
	Submitted   domain.AnswerValue `json:"submitted"`
	Answered    bool               `json:"answered"`
	Correct     bool               `json:"correct"`
	Explanation string             `json:"explanation,omitempty"`
}

// FinalizeResult is the response to a successful finalize.
type FinalizeResult struct {
	AttemptID      string               `json:"attemptId"`
	Status         domain.AttemptStatus `json:"status"`
	Score          int                  `json:"score"`
	TotalQuestions int                  `json:"totalQuestions"`
	AutoSubmitted  bool                 `json:"autoSubmitted"`
	FinishedAt     time.Time            `json:"finishedAt"`
	Review         []ReviewEntry        `json:"review"`
}

// AnswerView exposes a saved answer without its verdict.
type AnswerView struct {
	QID              string             `json:"qid"`
	Value            domain.AnswerValue `json:"userAnswer"`
	TimeTakenSeconds int                `json:"timeTakenSeconds,omitempty"`
}

// AttemptView is the read projection. Correctness-derived fields (Score,
// Review, answer keys inside Questions) appear only once the attempt is
// terminal; an in-progress read must never reveal them.
type AttemptView struct {
	ID             string               `json:"id"`
	QuizID         string               `json:"quizId"`
	UserID         string               `json:"userId"`
	Status         domain.AttemptStatus `json:"status"`
	StartedAt      time.Time            `json:"startedAt"`
	ExpiresAt      *time.Time           `json:"expiresAt,omitempty"`
	FinishedAt     *time.Time           `json:"finishedAt,omitempty"`
	AutoSubmitted  bool                 `json:"autoSubmitted"`
	TotalQuestions int                  `json:"totalQuestions"`
	Questions      []QuestionView       `json:"questions"`
	Answers        []AnswerView         `json:"answers"`
	Score          *int                 `json:"score,omitempty"`
	Review         []ReviewEntry        `json:"review,omitempty"`
}

// StartAttempt creates a new in_progress attempt with an immutable question
// snapshot. The single-attempt policy is a check-then-create: a duplicate
// start racing this check can slip through, which the storage schema does not
// prevent.
func (s *AttemptService) StartAttempt(ctx context.Context, quizID, userID string) (*StartResult, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, err
		}
		return nil, domain.DependencyFailure("load quiz", err)
	}

	now := s.clock()
	if quiz.StartAt != nil && now.Before(*quiz.StartAt) {
		return nil, domain.PolicyViolation("quiz %s is not open yet", quizID)
	}
	if quiz.EndAt != nil && now.After(*quiz.EndAt) {
		return nil, domain.PolicyViolation("quiz %s is closed", quizID)
	}

	finished, err := s.store.HasFinished(ctx, quizID, userID)
	if err != nil {
		return nil, domain.DependencyFailure("check prior attempts", err)
	}
	if finished {
		return nil, domain.Forbidden("user %s already finished quiz %s", userID, quizID)
	}

	snapshot := s.snapshot(quiz)

	attempt := &domain.Attempt{
		ID:             s.newID(),
		QuizID:         quizID,
		UserID:         userID,
		Status:         domain.AttemptInProgress,
		StartedAt:      now,
		Questions:      snapshot,
		Answers:        []domain.AnswerEntry{},
		TotalQuestions: len(snapshot),
	}
	if d := s.attemptDuration(quiz); d > 0 {
		deadline := now.Add(d)
		attempt.ExpiresAt = &deadline
	}

	if err := s.store.Insert(ctx, attempt); err != nil {
		return nil, domain.DependencyFailure("persist attempt", err)
	}

	return &StartResult{
		AttemptID: attempt.ID,
		QuizID:    quizID,
		StartedAt: attempt.StartedAt,
		ExpiresAt: attempt.ExpiresAt,
		Questions: questionViews(snapshot, false),
	}, nil
}

// SaveProgress merges the supplied answers into the attempt, last write wins
// per question. The write is conditional on the attempt still being
// in_progress, so a save racing a finalize is rejected, never applied.
func (s *AttemptService) SaveProgress(ctx context.Context, attemptID, callerID string, answers []AnswerInput) (*SaveResult, error) {
	attempt, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != callerID {
		return nil, domain.Forbidden("attempt %s does not belong to caller", attemptID)
	}
	if attempt.Status != domain.AttemptInProgress {
		return nil, domain.Conflict("attempt %s is already %s", attemptID, attempt.Status)
	}
	if err := validateAnswers(attempt, answers); err != nil {
		return nil, err
	}

	merged := mergeAnswers(attempt.Answers, answers)
	if err := s.store.UpdateAnswers(ctx, attemptID, merged); err != nil {
		return nil, err
	}
	return &SaveResult{AnswerCount: len(merged)}, nil
}

// Finalize transitions the attempt to a terminal state and grades it. Exactly
// one of any set of racing finalizes succeeds; the rest observe Conflict from
// the store's conditional write.
func (s *AttemptService) Finalize(ctx context.Context, attemptID, callerID string, supplied []AnswerInput, trigger Trigger) (*FinalizeResult, error) {
	attempt, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if trigger == TriggerUser && attempt.UserID != callerID {
		return nil, domain.Forbidden("attempt %s does not belong to caller", attemptID)
	}
	if attempt.Status != domain.AttemptInProgress {
		return nil, domain.Conflict("attempt %s is already %s", attemptID, attempt.Status)
	}

	now := s.clock()
	if trigger == TriggerExpiry && !attempt.Overdue(now) {
		return nil, domain.Conflict("attempt %s has not reached its deadline", attemptID)
	}
	if err := validateAnswers(attempt, supplied); err != nil {
		return nil, err
	}

	// Explicitly supplied answers take priority over saved ones, per question.
	merged := mergeAnswers(attempt.Answers, supplied)
	byQID := make(map[string]domain.AnswerValue, len(merged))
	for _, entry := range merged {
		byQID[entry.QID] = entry.Value
	}
	summary := s.grader.GradeAll(attempt.Questions, byQID)

	verdicts := make(map[string]bool, len(summary.Details))
	for _, d := range summary.Details {
		verdicts[d.QID] = d.Correct
	}
	graded := make([]domain.AnswerEntry, len(merged))
	for i, entry := range merged {
		v := verdicts[entry.QID]
		entry.IsCorrect = &v
		graded[i] = entry
	}

	status := domain.AttemptFinished
	if trigger == TriggerExpiry {
		status = domain.AttemptTimedOut
	}
	fin := Finalization{
		Status:     status,
		FinishedAt: now,
		// A user submitting after the deadline still counts as auto-submitted.
		AutoSubmitted: attempt.Overdue(now) || trigger == TriggerExpiry,
		Answers:       graded,
		Score:         summary.TotalCorrect,
	}
	if err := s.store.Finalize(ctx, attemptID, fin); err != nil {
		return nil, err
	}

	s.dispatchStats(ctx, attempt.UserID, summary.TotalCorrect)

	return &FinalizeResult{
		AttemptID:      attemptID,
		Status:         status,
		Score:          summary.TotalCorrect,
		TotalQuestions: len(attempt.Questions),
		AutoSubmitted:  fin.AutoSubmitted,
		FinishedAt:     now,
		Review:         reviewFromDetails(attempt.Questions, summary.Details),
	}, nil
}

// ReadAttempt returns the caller's view of an attempt. Answer keys, verdicts,
// and the score stay hidden while the attempt is in progress.
func (s *AttemptService) ReadAttempt(ctx context.Context, attemptID, callerID string) (*AttemptView, error) {
	attempt, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != callerID {
		return nil, domain.Forbidden("attempt %s does not belong to caller", attemptID)
	}

	terminal := attempt.Status.Terminal()
	view := &AttemptView{
		ID:             attempt.ID,
		QuizID:         attempt.QuizID,
		UserID:         attempt.UserID,
		Status:         attempt.Status,
		StartedAt:      attempt.StartedAt,
		ExpiresAt:      attempt.ExpiresAt,
		FinishedAt:     attempt.FinishedAt,
		AutoSubmitted:  attempt.AutoSubmitted,
		TotalQuestions: attempt.TotalQuestions,
		Questions:      questionViews(attempt.Questions, terminal),
		Answers:        answerViews(attempt.Answers),
	}
	if terminal {
		score := attempt.Score
		view.Score = &score
		view.Review = storedReview(attempt)
	}
	return view, nil
}

func (s *AttemptService) dispatchStats(ctx context.Context, userID string, score int) {
	if s.stats == nil {
		return
	}
	// Fire and forget: a stats failure is logged, never surfaced to the
	// finalize caller.
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.stats.RecordFinalize(bg, userID, score, 1); err != nil {
			log.Printf("stats increment failed for user %s: %v", userID, err)
		}
	}()
}

func (s *AttemptService) attemptDuration(quiz domain.Quiz) time.Duration {
	if quiz.DurationSeconds > 0 {
		return time.Duration(quiz.DurationSeconds) * time.Second
	}
	return s.defaultDuration
}

// snapshot deep-copies the quiz questions, assigns positional qids where the
// source lacks them, and shuffles when the quiz asks for it. QIDs are
// assigned before shuffling so they stay stable relative to the source order.
func (s *AttemptService) snapshot(quiz domain.Quiz) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questions[i] = q
		if q.Choices != nil {
			questions[i].Choices = append([]string(nil), q.Choices...)
		}
		if questions[i].QID == "" {
			questions[i].QID = "q" + strconv.Itoa(i+1)
		}
	}
	if quiz.Shuffle {
		s.rnd.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	return questions
}

func validateAnswers(attempt *domain.Attempt, answers []AnswerInput) error {
	for _, in := range answers {
		if in.QID == "" {
			return domain.InvalidInput("answer entry is missing a qid")
		}
		if in.Value.IsZero() {
			return domain.InvalidInput("answer for %s has no value", in.QID)
		}
		if attempt.AnswerFor(in.QID) == nil && !snapshotHas(attempt.Questions, in.QID) {
			return domain.InvalidInput("question %s is not part of this attempt", in.QID)
		}
	}
	return nil
}

func snapshotHas(questions []domain.Question, qid string) bool {
	for _, q := range questions {
		if q.QID == qid {
			return true
		}
	}
	return false
}

// mergeAnswers overwrites per qid and appends the rest, preserving the order
// answers were first recorded in.
func mergeAnswers(existing []domain.AnswerEntry, inputs []AnswerInput) []domain.AnswerEntry {
	merged := make([]domain.AnswerEntry, len(existing))
	copy(merged, existing)
	for _, in := range inputs {
		replaced := false
		for i := range merged {
			if merged[i].QID == in.QID {
				merged[i].Value = in.Value
				if in.TimeTakenSeconds > 0 {
					merged[i].TimeTakenSeconds = in.TimeTakenSeconds
				}
				merged[i].IsCorrect = nil
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, domain.AnswerEntry{
				QID:              in.QID,
				Value:            in.Value,
				TimeTakenSeconds: in.TimeTakenSeconds,
			})
		}
	}
	return merged
}

func questionViews(questions []domain.Question, withAnswers bool) []QuestionView {
	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		views[i] = QuestionView{
			QID:        q.QID,
			Type:       q.Type,
			Difficulty: q.Difficulty,
			Prompt:     q.Prompt,
			Choices:    q.Choices,
		}
		if withAnswers {
			if q.Type == domain.QuestionMCQ {
				idx := q.CorrectIndex
				views[i].CorrectIndex = &idx
			}
			views[i].CorrectText = q.CorrectText
			views[i].Explanation = q.Explanation
		}
	}
	return views
}

func answerViews(answers []domain.AnswerEntry) []AnswerView {
	views := make([]AnswerView, len(answers))
	for i, a := range answers {
		views[i] = AnswerView{QID: a.QID, Value: a.Value, TimeTakenSeconds: a.TimeTakenSeconds}
	}
	return views
}

func reviewFromDetails(questions []domain.Question, details []grading.Detail) []ReviewEntry {
	prompts := make(map[string]string, len(questions))
	for _, q := range questions {
		prompts[q.QID] = q.Prompt
	}
	review := make([]ReviewEntry, len(details))
	for i, d := range details {
		review[i] = ReviewEntry{
			QID:         d.QID,
			Prompt:      prompts[d.QID],
			Expected:    d.Expected,
			Submitted:   d.UserAnswer,
			Answered:    d.Answered,
			Correct:     d.Correct,
			Explanation: d.Explanation,
		}
	}
	return review
}

// storedReview rebuilds the per-question review from the persisted graded
// answers, joining snapshot and answers by qid in snapshot order.
func storedReview(attempt *domain.Attempt) []ReviewEntry {
	review := make([]ReviewEntry, len(attempt.Questions))
	for i, q := range attempt.Questions {
		entry := ReviewEntry{
			QID:         q.QID,
			Prompt:      q.Prompt,
			Expected:    grading.ExpectedValue(q),
			Explanation: q.Explanation,
		}
		if a := attempt.AnswerFor(q.QID); a != nil {
			entry.Submitted = a.Value
			entry.Answered = true
			if a.IsCorrect != nil {
				entry.Correct = *a.IsCorrect
			}
		}
		review[i] = entry
	}
	return review
}
