package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type FindingTag string

const (
	TagProration            FindingTag = "proration"
	TagLastMonthRule        FindingTag = "last-month-rule"
	TagMidYearChange        FindingTag = "mid-year-change"
	TagPlanTermination      FindingTag = "plan-termination"
	TagDeathDisability      FindingTag = "death-disability"
	TagCatchUpEligibility   FindingTag = "catch-up-eligibility"
	TagEmployerContribution FindingTag = "employer-contribution"
	TagOverContribution     FindingTag = "over-contribution"
)

// FindingPriority is the order findings are reported in, independent of the
// order the engine detects them.
var FindingPriority = []FindingTag{
	TagProration,
	TagLastMonthRule,
	TagMidYearChange,
	TagPlanTermination,
	TagDeathDisability,
	TagCatchUpEligibility,
	TagEmployerContribution,
	TagOverContribution,
}

// Rank returns the tag's position in FindingPriority.
func (t FindingTag) Rank() int {
	for i, p := range FindingPriority {
		if p == t {
			return i
		}
	}
	return len(FindingPriority)
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// EdgeCaseFinding describes one detected edge case and what it changed.
type EdgeCaseFinding struct {
	Tag         FindingTag `json:"tag"`
	Severity    Severity   `json:"severity"`
	Code        string     `json:"code"`
	Explanation string     `json:"explanation"`
	Adjustment  Adjustment `json:"adjustment"`
}

// Adjustment carries the amounts and dates relevant to a finding. Only the
// fields that apply to the finding's tag are set.
type Adjustment struct {
	Coverage       Coverage         `json:"coverage,omitempty"`
	Months         int              `json:"months,omitempty"`
	Factor         *decimal.Decimal `json:"factor,omitempty"`
	AnnualLimit    *decimal.Decimal `json:"annual_limit,omitempty"`
	AdjustedLimit  *decimal.Decimal `json:"adjusted_limit,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	PeriodStart    *time.Time       `json:"period_start,omitempty"`
	PeriodEnd      *time.Time       `json:"period_end,omitempty"`
	EffectiveDate  *time.Time       `json:"effective_date,omitempty"`
	ThresholdAge   int              `json:"threshold_age,omitempty"`
	Reason         string           `json:"reason,omitempty"`

	// plan termination
	ContributionsClosed bool `json:"contributions_closed,omitempty"`

	// last-month rule
	TestingPeriodStart *time.Time       `json:"testing_period_start,omitempty"`
	TestingPeriodEnd   *time.Time       `json:"testing_period_end,omitempty"`
	AtRiskAmount       *decimal.Decimal `json:"at_risk_amount,omitempty"`
	AdditionalTaxRate  *decimal.Decimal `json:"additional_tax_rate,omitempty"`
	AdditionalTax      *decimal.Decimal `json:"additional_tax,omitempty"`
	RetentionWarning   string           `json:"retention_warning,omitempty"`

	// over-contribution
	Excess      *decimal.Decimal    `json:"excess,omitempty"`
	Remediation []RemediationOption `json:"remediation,omitempty"`
}

type RemediationKind string

const (
	RemediationWithdraw RemediationKind = "withdraw-by-deadline"
	RemediationExcise   RemediationKind = "pay-excise-tax"
)

// RemediationOption is one way to resolve an over-contribution.
type RemediationOption struct {
	Kind           RemediationKind  `json:"kind"`
	Description    string           `json:"description"`
	Amount         decimal.Decimal  `json:"amount"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	Deadline       *time.Time       `json:"deadline,omitempty"`
	DeadlinePassed bool             `json:"deadline_passed,omitempty"`
	Recurring      bool             `json:"recurring,omitempty"`
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
