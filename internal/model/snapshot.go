package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/money"
)

type Coverage string

const (
	CoverageIndividual Coverage = "individual"
	CoverageFamily     Coverage = "family"
)

func (c Coverage) IsValid() bool {
	return c == CoverageIndividual || c == CoverageFamily
}

// TerminationReason explains why HSA eligibility ended.
type TerminationReason string

const (
	TerminationEnded      TerminationReason = "ended"
	TerminationDeath      TerminationReason = "death"
	TerminationDisability TerminationReason = "disability"
	TerminationMedicare   TerminationReason = "medicare"
)

func (r TerminationReason) IsValid() bool {
	switch r {
	case "", TerminationEnded, TerminationDeath, TerminationDisability, TerminationMedicare:
		return true
	}
	return false
}

// CoverageChange switches the coverage category from Effective onward.
type CoverageChange struct {
	Effective time.Time `json:"effective"`
	Category  Coverage  `json:"category"`
}

// MaxPayPeriods is the largest number of pay periods a calendar year can hold.
const MaxPayPeriods = 53

// UserSnapshot is the set of answers a calculation runs against. Coverage is
// the category in force at the start of the year (or at enrollment).
type UserSnapshot struct {
	Coverage             Coverage          `json:"coverage"`
	YTDContribution      decimal.Decimal   `json:"ytd_contribution"`
	CatchUpEligible      bool              `json:"catch_up_eligible"`
	RemainingPayPeriods  int               `json:"remaining_pay_periods"`
	BirthDate            *time.Time        `json:"birth_date,omitempty"`
	EnrollmentDate       *time.Time        `json:"enrollment_date,omitempty"`
	CoverageChanges      []CoverageChange  `json:"coverage_changes,omitempty"`
	EmployerContribution decimal.Decimal   `json:"employer_contribution"`
	TerminationDate      *time.Time        `json:"termination_date,omitempty"`
	TerminationReason    TerminationReason `json:"termination_reason,omitempty"`
}

var (
	ErrInvalidCoverage    = errors.New("coverage must be individual or family")
	ErrNegativeYTD        = errors.New("year-to-date contribution must not be negative")
	ErrNegativeEmployer   = errors.New("employer contribution must not be negative")
	ErrPayPeriodsRange    = errors.New("remaining pay periods must be between 0 and 53")
	ErrTerminationReason  = errors.New("unknown termination reason")
	ErrTerminationOrder   = errors.New("termination date is before the enrollment date")
	ErrCoverageChangeDate = errors.New("coverage change dates must be increasing")
	ErrCoverageChangeKind = errors.New("coverage change category must be individual or family")
	ErrAmountPrecision    = errors.New("amount has more than two decimal places")

	ErrYTDPrecision      = fmt.Errorf("year-to-date contribution: %w", ErrAmountPrecision)
	ErrEmployerPrecision = fmt.Errorf("employer contribution: %w", ErrAmountPrecision)
)

// Validate checks the field-level rules that hold regardless of tax year.
func (s UserSnapshot) Validate() error {
	if !s.Coverage.IsValid() {
		return ErrInvalidCoverage
	}
	if s.YTDContribution.IsNegative() {
		return ErrNegativeYTD
	}
	if s.EmployerContribution.IsNegative() {
		return ErrNegativeEmployer
	}
	if !money.IsCents(s.YTDContribution) {
		return ErrYTDPrecision
	}
	if !money.IsCents(s.EmployerContribution) {
		return ErrEmployerPrecision
	}
	if s.RemainingPayPeriods < 0 || s.RemainingPayPeriods > MaxPayPeriods {
		return ErrPayPeriodsRange
	}
	if !s.TerminationReason.IsValid() {
		return ErrTerminationReason
	}
	if s.EnrollmentDate != nil && s.TerminationDate != nil && s.TerminationDate.Before(*s.EnrollmentDate) {
		return ErrTerminationOrder
	}
	for i, c := range s.CoverageChanges {
		if !c.Category.IsValid() {
			return fmt.Errorf("change %d: %w", i+1, ErrCoverageChangeKind)
		}
		if i > 0 && !c.Effective.After(s.CoverageChanges[i-1].Effective) {
			return ErrCoverageChangeDate
		}
	}
	return nil
}

// Clone returns a deep copy so the receiver can be handed out as immutable.
func (s UserSnapshot) Clone() UserSnapshot {
	out := s
	out.BirthDate = cloneTime(s.BirthDate)
	out.EnrollmentDate = cloneTime(s.EnrollmentDate)
	out.TerminationDate = cloneTime(s.TerminationDate)
	out.CoverageChanges = slices.Clone(s.CoverageChanges)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Date truncates t to a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DatePtr is Date returning a pointer, for optional snapshot fields.
func DatePtr(year int, month time.Month, day int) *time.Time {
	d := Date(year, month, day)
	return &d
}

// Fact names an optional snapshot field the user may volunteer at any point
// while answers are being collected.
type Fact string

const (
	FactEnrollment     Fact = "enrollment"
	FactEmployer       Fact = "employer"
	FactTermination    Fact = "termination"
	FactCoverageChange Fact = "coverage_change"
	FactBirthDate      Fact = "birth_date"
)

// Without returns a copy of s with the optional fact f cleared.
func (s UserSnapshot) Without(f Fact) UserSnapshot {
	out := s.Clone()
	switch f {
	case FactEnrollment:
		out.EnrollmentDate = nil
	case FactEmployer:
		out.EmployerContribution = decimal.Zero
	case FactTermination:
		out.TerminationDate = nil
		out.TerminationReason = ""
	case FactCoverageChange:
		out.CoverageChanges = nil
	case FactBirthDate:
		out.BirthDate = nil
	}
	return out
}
