package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculationMethod tags how the base limit was derived.
type CalculationMethod string

const (
	MethodStandard      CalculationMethod = "standard"
	MethodProrated      CalculationMethod = "prorated"
	MethodLastMonthRule CalculationMethod = "last-month-rule"
	MethodMidYearChange CalculationMethod = "mid-year-change"
)

// SubPeriod is one stretch of the year under a single coverage category.
type SubPeriod struct {
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Coverage Coverage        `json:"coverage"`
	Months   int             `json:"months"`
	Limit    decimal.Decimal `json:"limit"`
	SubLimit decimal.Decimal `json:"sub_limit"`
}

// LimitCalculationResult is a value: it is produced once per calculation and
// never modified afterwards.
//
// TotalAllowed == round(BaseLimit * ProrationFactor) + CatchUpAmount and
// RemainingContribution == TotalAllowed - YTDContribution - EmployerContribution.
type LimitCalculationResult struct {
	TaxYear               int               `json:"tax_year"`
	Coverage              Coverage          `json:"coverage"`
	Method                CalculationMethod `json:"method"`
	BaseLimit             decimal.Decimal   `json:"base_limit"`
	ProrationFactor       decimal.Decimal   `json:"proration_factor"`
	EligibleMonths        int               `json:"eligible_months"`
	ProratedBaseLimit     decimal.Decimal   `json:"prorated_base_limit"`
	CatchUpAmount         decimal.Decimal   `json:"catch_up_amount"`
	TotalAllowed          decimal.Decimal   `json:"total_allowed"`
	YTDContribution       decimal.Decimal   `json:"ytd_contribution"`
	EmployerContribution  decimal.Decimal   `json:"employer_contribution"`
	EmployeeCapacity      decimal.Decimal   `json:"employee_capacity"`
	RemainingContribution decimal.Decimal   `json:"remaining_contribution"`
	SubPeriods            []SubPeriod       `json:"sub_periods,omitempty"`
	Findings              []EdgeCaseFinding `json:"findings"`
}

// IsOverContributed reports whether contributions already exceed the limit.
func (r LimitCalculationResult) IsOverContributed() bool {
	return r.RemainingContribution.IsNegative()
}

// Finding returns the first finding with the given tag.
func (r LimitCalculationResult) Finding(tag FindingTag) (EdgeCaseFinding, bool) {
	for _, f := range r.Findings {
		if f.Tag == tag {
			return f, true
		}
	}
	return EdgeCaseFinding{}, false
}

// HasCritical reports whether any finding is critical.
func (r LimitCalculationResult) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
