package grading

import (
	"strconv"
	"strings"
)

var smallNumbers = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// ParseNumber interprets s as a number in either digit form or English words
// ("one hundred twenty three" → 123). Any unrecognized word aborts; the
// result is then "not a number", never zero.
func ParseNumber(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	return parseNumberWords(s)
}

func parseNumberWords(s string) (float64, bool) {
	// Hyphenated compounds like "twenty-three" split the same as spaces.
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '-'
	})
	if len(words) == 0 {
		return 0, false
	}

	var total, current float64
	for _, w := range words {
		switch {
		case w == "hundred":
			if current == 0 {
				current = 1
			}
			current *= 100
		case w == "thousand":
			if current == 0 {
				current = 1
			}
			total += current * 1000
			current = 0
		default:
			v, ok := smallNumbers[w]
			if !ok {
				return 0, false
			}
			current += v
		}
	}
	return total + current, true
}
