// Package intake turns free-text answers into validated snapshot fields.
package intake

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
)

var (
	ErrEmptyAnswer  = errors.New("answer is empty")
	ErrCoverage     = errors.New("coverage must be individual or family")
	ErrYesNo        = errors.New("answer must be yes, no, an age or a birth date")
	ErrAgeRange     = errors.New("age must be between 0 and 130")
	ErrPayPeriods   = errors.New("pay periods must be a whole number from 0 to 53")
	ErrInvalidDate  = errors.New("date not recognized")
	ErrFutureBirth  = errors.New("birth date is in the future")
	ErrFactArgument = errors.New("statement is missing a value")
)

var coverageWords = map[string]model.Coverage{
	"individual":  model.CoverageIndividual,
	"self":        model.CoverageIndividual,
	"self-only":   model.CoverageIndividual,
	"self only":   model.CoverageIndividual,
	"single":      model.CoverageIndividual,
	"just me":     model.CoverageIndividual,
	"i":           model.CoverageIndividual,
	"1":           model.CoverageIndividual,
	"family":      model.CoverageFamily,
	"self+family": model.CoverageFamily,
	"f":           model.CoverageFamily,
	"2":           model.CoverageFamily,
}

var nothingWords = map[string]bool{"none": true, "nothing": true, "zero": true, "nil": true}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}

// Coverage reads a coverage category, accepting common synonyms.
func Coverage(raw string) (model.Coverage, error) {
	s := normalize(raw)
	if s == "" {
		return "", ErrEmptyAnswer
	}
	s = strings.TrimSuffix(s, " coverage")
	if c, ok := coverageWords[s]; ok {
		return c, nil
	}
	return "", ErrCoverage
}

// Amount reads a non-negative dollar amount. "none" and friends mean zero.
func Amount(raw string) (decimal.Decimal, error) {
	s := normalize(raw)
	if nothingWords[s] {
		return decimal.Zero, nil
	}
	return money.ParseNonNegative(s)
}

// AgeAnswer is the reply to the catch-up eligibility question.
type AgeAnswer struct {
	Eligible  bool
	BirthDate *time.Time
}

// Age reads a yes/no, an age on December 31 of year, or a birth date. Both
// the age and the birth date decide eligibility by whether the threshold age
// is reached by the end of year, so a birthday late in the year still counts.
func Age(raw string, threshold, year int, today time.Time) (AgeAnswer, error) {
	s := normalize(raw)
	switch s {
	case "":
		return AgeAnswer{}, ErrEmptyAnswer
	case "yes", "y", "yeah", "yep", "true":
		return AgeAnswer{Eligible: true}, nil
	case "no", "n", "nope", "false":
		return AgeAnswer{Eligible: false}, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 130 {
			return AgeAnswer{}, ErrAgeRange
		}
		return AgeAnswer{Eligible: n >= threshold}, nil
	}

	if d, err := Date(s); err == nil {
		if d.After(today) {
			return AgeAnswer{}, ErrFutureBirth
		}
		return AgeAnswer{Eligible: d.Year()+threshold <= year, BirthDate: &d}, nil
	}
	return AgeAnswer{}, ErrYesNo
}

// PayPeriods reads the number of pay periods left in the year.
func PayPeriods(raw string) (int, error) {
	s := normalize(raw)
	if s == "" {
		return 0, ErrEmptyAnswer
	}
	if nothingWords[s] {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > model.MaxPayPeriods {
		return 0, ErrPayPeriods
	}
	return n, nil
}

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
}

// Date reads a calendar date. ISO dates take the fast path.
func Date(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if d, ok := fastParseDate(s); ok {
		return d, nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, titleMonth(s)); err == nil {
			return d, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// fastParseDate parses "YYYY-MM-DD" without going through time.Parse.
// Returns zero time and false on invalid input.
func fastParseDate(s string) (time.Time, bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}
	for i, c := range []byte(s) {
		if i != 4 && i != 7 && (c < '0' || c > '9') {
			return time.Time{}, false
		}
	}
	y := int(s[0]-'0')*1000 + int(s[1]-'0')*100 + int(s[2]-'0')*10 + int(s[3]-'0')
	m := time.Month(int(s[5]-'0')*10 + int(s[6]-'0'))
	d := int(s[8]-'0')*10 + int(s[9]-'0')
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := model.Date(y, m, d)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// titleMonth upper-cases the first letter of each word so lower-cased input
// such as "june 3, 2025" matches the month layouts.
func titleMonth(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w != "" && w[0] >= 'a' && w[0] <= 'z' {
			words[i] = string(w[0]-'a'+'A') + w[1:]
		}
	}
	return strings.Join(words, " ")
}
