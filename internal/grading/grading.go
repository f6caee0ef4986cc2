// Package grading scores user answers against question definitions. It is
// pure: no I/O, no shared state, safe for concurrent use.
package grading

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"quiz-attempt-service/internal/domain"
)

// DefaultFuzzyThreshold is the similarity a short answer must reach on the
// fuzzy tier. It is policy, not invariant; override via Engine.
const DefaultFuzzyThreshold = 0.8

const numericTolerance = 1e-9

// Engine holds the grading policy knobs.
type Engine struct {
	// FuzzyThreshold is the minimum normalized edit-distance similarity for
	// a short answer to count as correct on the fuzzy tier.
	FuzzyThreshold float64
}

// NewEngine returns an engine with the default policy.
func NewEngine() *Engine {
	return &Engine{FuzzyThreshold: DefaultFuzzyThreshold}
}

// Result is the verdict for a single question.
type Result struct {
	Correct bool `json:"correct"`
	// Expected is the canonical correct value: the choice text for mcq,
	// the correct text otherwise.
	Expected string `json:"expected"`
	// Similarity is the fuzzy-tier score for short answers, for diagnostics.
	// Zero unless the fuzzy tier ran.
	Similarity float64 `json:"similarity,omitempty"`
}

// Detail is one row of a post-submission review.
type Detail struct {
	QID         string             `json:"qid"`
	Correct     bool               `json:"correct"`
	Expected    string             `json:"expected"`
	UserAnswer  domain.AnswerValue `json:"userAnswer"`
	Answered    bool               `json:"answered"`
	Explanation string             `json:"explanation,omitempty"`
	Similarity  float64            `json:"similarity,omitempty"`
}

// Summary aggregates a full attempt.
type Summary struct {
	TotalCorrect int      `json:"totalCorrect"`
	Details      []Detail `json:"details"`
}

// GradeQuestion scores one answer against one question. A nil or unset answer
// is always incorrect.
func (e *Engine) GradeQuestion(q domain.Question, ans *domain.AnswerValue) Result {
	res := Result{Expected: ExpectedValue(q)}
	if ans == nil || ans.IsZero() {
		return res
	}
	switch q.Type {
	case domain.QuestionMCQ:
		res.Correct = gradeMCQ(q, *ans)
	case domain.QuestionTF:
		res.Correct = gradeTF(q.CorrectText, ans.String())
	case domain.QuestionShort:
		res.Correct, res.Similarity = e.gradeShort(q.CorrectText, ans.String())
	}
	return res
}

// GradeAll grades every question of the snapshot in snapshot order, looking up
// answers by qid. Missing answers grade as incorrect.
func (e *Engine) GradeAll(questions []domain.Question, answers map[string]domain.AnswerValue) Summary {
	summary := Summary{Details: make([]Detail, 0, len(questions))}
	for _, q := range questions {
		var ansPtr *domain.AnswerValue
		ans, answered := answers[q.QID]
		if answered {
			ansPtr = &ans
		}
		res := e.GradeQuestion(q, ansPtr)
		if res.Correct {
			summary.TotalCorrect++
		}
		summary.Details = append(summary.Details, Detail{
			QID:         q.QID,
			Correct:     res.Correct,
			Expected:    res.Expected,
			UserAnswer:  ans,
			Answered:    answered,
			Explanation: q.Explanation,
			Similarity:  res.Similarity,
		})
	}
	return summary
}

// ExpectedValue returns the canonical correct value for a question: the
// choice text at the correct index for mcq, the correct text otherwise.
func ExpectedValue(q domain.Question) string {
	if q.Type == domain.QuestionMCQ {
		if q.CorrectIndex >= 0 && q.CorrectIndex < len(q.Choices) {
			return q.Choices[q.CorrectIndex]
		}
		return ""
	}
	return q.CorrectText
}

func gradeMCQ(q domain.Question, ans domain.AnswerValue) bool {
	switch ans.Kind {
	case domain.AnswerChoice:
		return ans.Choice == q.CorrectIndex
	case domain.AnswerText:
		// Tolerate an index arriving as text.
		idx, err := strconv.Atoi(strings.TrimSpace(ans.Text))
		return err == nil && idx == q.CorrectIndex
	default:
		return false
	}
}

// gradeTF maps both sides through a fixed set of truthy/falsy equivalents and
// compares booleans; unmapped tokens fall back to normalized string equality,
// so unexpected formats degrade to a strict compare instead of failing open.
func gradeTF(expected, user string) bool {
	expNorm := Normalize(expected)
	userNorm := Normalize(user)
	expBool, expOK := asBool(expNorm)
	userBool, userOK := asBool(userNorm)
	if expOK && userOK {
		return expBool == userBool
	}
	return expNorm == userNorm
}

// gradeShort tries exact token match, then numeric equivalence, then fuzzy
// edit-distance similarity. First success wins. The similarity score is
// returned whenever the fuzzy tier was evaluated.
func (e *Engine) gradeShort(expected, user string) (bool, float64) {
	if firstToken(expected) == firstToken(user) {
		return true, 0
	}

	expNum, expOK := ParseNumber(expected)
	userNum, userOK := ParseNumber(user)
	if expOK && userOK && math.Abs(expNum-userNum) <= numericTolerance {
		return true, 0
	}

	sim := Similarity(Normalize(expected), Normalize(user))
	return sim >= e.FuzzyThreshold, sim
}

var truthy = map[string]bool{"true": true, "t": true, "1": true, "yes": true, "y": true}
var falsy = map[string]bool{"false": true, "f": true, "0": true, "no": true, "n": true}

func asBool(norm string) (bool, bool) {
	if truthy[norm] {
		return true, true
	}
	if falsy[norm] {
		return false, true
	}
	return false, false
}

// Normalize lowercases, trims, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// firstToken sanitizes to the first whitespace-delimited token, lowercased.
func firstToken(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Similarity is 1 - editDistance/maxLen over runes, in [0,1].
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(ra, rb))/float64(longest)
}

// editDistance is the classic single-character insert/delete/substitute
// distance, computed with a rolling row.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
