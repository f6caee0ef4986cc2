package domain

import "time"

// QuestionType discriminates how an answer is graded.
type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionTF    QuestionType = "tf"
	QuestionShort QuestionType = "short"
)

// Question is one question definition. Once copied into an attempt snapshot it
// is authoritative for grading even if the source quiz changes afterwards.
type Question struct {
	QID          string       `json:"qid"`
	Type         QuestionType `json:"type"`
	Difficulty   string       `json:"difficulty,omitempty"`
	Prompt       string       `json:"prompt"`
	Choices      []string     `json:"choices,omitempty"`
	CorrectIndex int          `json:"correctIndex,omitempty"`
	CorrectText  string       `json:"correctText,omitempty"`
	Explanation  string       `json:"explanation,omitempty"`
}

// Quiz is the collaborator-owned definition an attempt is started from.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title,omitempty"`
	Questions       []Question `json:"questions"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	EndAt           *time.Time `json:"endAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"` // 0 means unlimited
	Shuffle         bool       `json:"shuffle,omitempty"`
}

// AttemptStatus is the attempt state machine: InProgress is the only
// non-terminal state; Finished and TimedOut admit no further mutation.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptFinished   AttemptStatus = "finished"
	AttemptTimedOut   AttemptStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptFinished || s == AttemptTimedOut
}

// AnswerEntry records one user answer for one snapshot question. IsCorrect
// stays nil until the attempt is finalized.
type AnswerEntry struct {
	QID              string      `json:"qid"`
	Value            AnswerValue `json:"userAnswer"`
	IsCorrect        *bool       `json:"isCorrect,omitempty"`
	TimeTakenSeconds int         `json:"timeTakenSeconds,omitempty"`
}

// Attempt is one user's single try at one quiz.
type Attempt struct {
	ID             string        `json:"id"`
	QuizID         string        `json:"quizId"`
	UserID         string        `json:"userId"`
	Status         AttemptStatus `json:"status"`
	StartedAt      time.Time     `json:"startedAt"`
	ExpiresAt      *time.Time    `json:"expiresAt,omitempty"` // nil means unlimited
	FinishedAt     *time.Time    `json:"finishedAt,omitempty"`
	AutoSubmitted  bool          `json:"autoSubmitted"`
	Questions      []Question    `json:"questionSnapshot"`
	Answers        []AnswerEntry `json:"answers"`
	Score          int           `json:"score"`
	TotalQuestions int           `json:"totalQuestions"`
}

// AnswerFor returns the recorded answer for qid, or nil.
func (a *Attempt) AnswerFor(qid string) *AnswerEntry {
	for i := range a.Answers {
		if a.Answers[i].QID == qid {
			return &a.Answers[i]
		}
	}
	return nil
}

// Overdue reports whether the deadline, if any, has passed at now.
func (a *Attempt) Overdue(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Clone returns a deep copy so stores can hand out attempts without aliasing
// their internal state.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		cp.FinishedAt = &t
	}
	cp.Questions = make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		cp.Questions[i] = q
		if q.Choices != nil {
			cp.Questions[i].Choices = append([]string(nil), q.Choices...)
		}
	}
	cp.Answers = make([]AnswerEntry, len(a.Answers))
	for i, e := range a.Answers {
		cp.Answers[i] = e
		if e.IsCorrect != nil {
			v := *e.IsCorrect
			cp.Answers[i].IsCorrect = &v
		}
	}
	return &cp
}
