package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// AnswerKind tags the variant held by an AnswerValue.
type AnswerKind string

const (
	// AnswerChoice holds a zero-based option index (mcq answers).
	AnswerChoice AnswerKind = "choice"
	// AnswerText holds free text (tf and short answers).
	AnswerText AnswerKind = "text"
)

// AnswerValue is the free-form user answer modeled as a tagged variant rather
// than an untyped value, so grading dispatch stays exhaustive. On the wire it
// accepts a JSON number (choice index), boolean, or string.
type AnswerValue struct {
	Kind   AnswerKind
	Choice int
	Text   string
}

// ChoiceAnswer builds an mcq answer value.
func ChoiceAnswer(index int) AnswerValue {
	return AnswerValue{Kind: AnswerChoice, Choice: index}
}

// TextAnswer builds a free-text answer value.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Kind: AnswerText, Text: text}
}

// IsZero reports whether the value was never set.
func (v AnswerValue) IsZero() bool {
	return v.Kind == ""
}

// String renders the answer the way a reviewer would read it.
func (v AnswerValue) String() string {
	switch v.Kind {
	case AnswerChoice:
		return strconv.Itoa(v.Choice)
	case AnswerText:
		return v.Text
	default:
		return ""
	}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AnswerChoice:
		return json.Marshal(v.Choice)
	case AnswerText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		*v = AnswerValue{}
	case float64:
		if val != math.Trunc(val) {
			return fmt.Errorf("answer choice index must be an integer, got %v", val)
		}
		*v = ChoiceAnswer(int(val))
	case bool:
		*v = TextAnswer(strconv.FormatBool(val))
	case string:
		*v = TextAnswer(val)
	default:
		return fmt.Errorf("answer must be a number, boolean, or string, got %T", raw)
	}
	return nil
}
