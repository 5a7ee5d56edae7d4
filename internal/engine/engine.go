// Package engine computes the HSA contribution limit for one tax year. It is
// pure: the same snapshot, policy and date always yield the same result.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
	"hsa-planner/internal/policy"
)

var (
	ErrInvalidSnapshot       = errors.New("invalid snapshot")
	ErrEnrollmentAfterYear   = errors.New("enrollment date is after the tax year")
	ErrTerminationBeforeYear = errors.New("termination date is before the tax year")
	ErrBirthDateAfterYear    = errors.New("birth date is after the tax year")
)

// factorPlaces is the precision the proration factor is reported at. The
// prorated limit itself is computed from whole months, not from the factor.
const factorPlaces = 10

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// SnapshotError reports a snapshot that cannot be calculated. Fact names the
// optional answer at fault, empty when a required answer is.
type SnapshotError struct {
	Fact model.Fact
	Err  error
}

func (e *SnapshotError) Error() string {
	if e.Fact == "" {
		return fmt.Sprintf("%s: %v", ErrInvalidSnapshot, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrInvalidSnapshot, e.Fact, e.Err)
}

func (e *SnapshotError) Unwrap() []error {
	return []error{ErrInvalidSnapshot, e.Err}
}

// Calculate applies the limit rules in a fixed order: base limit, catch-up,
// proration, last-month rule, mid-year coverage changes, plan termination,
// employer offset, over-contribution and finally the remaining amount.
func Calculate(snap model.UserSnapshot, p policy.PolicyYear, today time.Time) (model.LimitCalculationResult, error) {
	if err := validate(snap, p.Year); err != nil {
		return model.LimitCalculationResult{}, err
	}
	snap = snap.Clone()
	today = dateOf(today)
	year := p.Year

	w := eligibilityWindow(snap, year)
	segs := coverageSegments(snap, w)

	res := model.LimitCalculationResult{
		TaxYear:              year,
		Coverage:             snap.Coverage,
		Method:               model.MethodStandard,
		ProrationFactor:      one,
		EligibleMonths:       w.months(),
		CatchUpAmount:        decimal.Zero,
		YTDContribution:      snap.YTDContribution,
		EmployerContribution: snap.EmployerContribution,
	}
	if len(segs) > 0 {
		res.Coverage = segs[0].coverage
	}
	findings := []model.EdgeCaseFinding{}

	// 1. base limit
	annual, err := p.LimitFor(res.Coverage)
	if err != nil {
		return model.LimitCalculationResult{}, &SnapshotError{Err: err}
	}
	res.BaseLimit = annual

	// 3-5. proration, last-month rule, mid-year change
	switch {
	case len(segs) > 1:
		res.Method = model.MethodMidYearChange
		res.BaseLimit = decimal.Zero
		for _, s := range segs {
			limit, err := p.LimitFor(s.coverage)
			if err != nil {
				return model.LimitCalculationResult{}, &SnapshotError{Fact: model.FactCoverageChange, Err: err}
			}
			sp := model.SubPeriod{
				Start:    model.Date(year, s.first, 1),
				End:      monthEnd(year, s.last),
				Coverage: s.coverage,
				Months:   s.months(),
				Limit:    limit,
				SubLimit: prorate(limit, s.months()),
			}
			res.SubPeriods = append(res.SubPeriods, sp)
			res.BaseLimit = res.BaseLimit.Add(sp.SubLimit)
			findings = append(findings, subPeriodFinding(year, sp, s.first, s.last))
		}
		res.ProratedBaseLimit = res.BaseLimit

	case enrolledInDecember(snap, year) && !terminatesIn(snap, year):
		res.Method = model.MethodLastMonthRule
		res.ProratedBaseLimit = annual
		findings = append(findings, lastMonthFinding(year, annual, prorate(annual, 1), p.LastMonthAdditionalTaxRate))

	case w.months() < 12:
		res.Method = model.MethodProrated
		res.ProrationFactor = decimal.NewFromInt(int64(w.months())).DivRound(twelve, factorPlaces)
		res.ProratedBaseLimit = prorate(annual, w.months())
		findings = append(findings, prorationFinding(w, snap.EnrollmentDate, annual, res.ProratedBaseLimit, res.ProrationFactor))

	default:
		res.ProratedBaseLimit = annual
	}

	// 6. plan termination
	if terminatesIn(snap, year) {
		findings = append(findings, terminationFinding(snap, w, today))
		switch snap.TerminationReason {
		case model.TerminationDeath, model.TerminationDisability:
			findings = append(findings, deathDisabilityFinding(snap))
		}
	}

	// 2. catch-up, the full amount whatever month the birthday falls in
	if eligible, turnsOn := catchUpEligibility(snap, year, p.CatchUpAge); eligible && w.months() > 0 {
		res.CatchUpAmount = p.CatchUpAmount
		findings = append(findings, catchUpFinding(year, p.CatchUpAge, p.CatchUpAmount, turnsOn))
	}

	res.TotalAllowed = res.ProratedBaseLimit.Add(res.CatchUpAmount)

	// 7. employer offset
	if snap.EmployerContribution.IsPositive() {
		findings = append(findings, employerFinding(snap.EmployerContribution, res.TotalAllowed))
	}

	// 9. remaining, may be negative
	res.RemainingContribution = res.TotalAllowed.Sub(snap.YTDContribution).Sub(snap.EmployerContribution)
	res.EmployeeCapacity = money.Max(decimal.Zero, res.RemainingContribution)

	// 8. over-contribution
	if res.RemainingContribution.IsNegative() {
		findings = append(findings, overContributionFinding(year, res.RemainingContribution.Neg(), p.ExcessExciseRate, today))
	}

	slices.SortStableFunc(findings, func(a, b model.EdgeCaseFinding) int {
		return a.Tag.Rank() - b.Tag.Rank()
	})
	res.Findings = findings
	return res, nil
}

// prorate is limit * months / 12, rounded half-up to cents.
func prorate(limit decimal.Decimal, months int) decimal.Decimal {
	if months >= 12 {
		return limit
	}
	return money.Round(limit.Mul(decimal.NewFromInt(int64(months))).Div(twelve))
}

// catchUpEligibility applies the age flag or, failing that, the birth date.
// Reaching the threshold age at any point in the year qualifies for the whole
// year; turnsOn is set when the birthday falls inside the year.
func catchUpEligibility(snap model.UserSnapshot, year, age int) (bool, *time.Time) {
	var turnsOn *time.Time
	byBirth := false
	if b := snap.BirthDate; b != nil {
		reached := b.Year() + age
		byBirth = reached <= year
		if reached == year {
			d := b.AddDate(age, 0, 0)
			turnsOn = &d
		}
	}
	return snap.CatchUpEligible || byBirth, turnsOn
}

func validate(snap model.UserSnapshot, year int) error {
	if err := snap.Validate(); err != nil {
		return &SnapshotError{Fact: factFor(err), Err: err}
	}
	switch {
	case snap.EnrollmentDate != nil && snap.EnrollmentDate.Year() > year:
		return &SnapshotError{Fact: model.FactEnrollment, Err: ErrEnrollmentAfterYear}
	case snap.TerminationDate != nil && snap.TerminationDate.Year() < year:
		return &SnapshotError{Fact: model.FactTermination, Err: ErrTerminationBeforeYear}
	case snap.BirthDate != nil && snap.BirthDate.Year() > year:
		return &SnapshotError{Fact: model.FactBirthDate, Err: ErrBirthDateAfterYear}
	}
	return nil
}

func factFor(err error) model.Fact {
	switch {
	case errors.Is(err, model.ErrNegativeEmployer), errors.Is(err, model.ErrEmployerPrecision):
		return model.FactEmployer
	case errors.Is(err, model.ErrTerminationOrder), errors.Is(err, model.ErrTerminationReason):
		return model.FactTermination
	case errors.Is(err, model.ErrCoverageChangeDate), errors.Is(err, model.ErrCoverageChangeKind):
		return model.FactCoverageChange
	}
	return ""
}
