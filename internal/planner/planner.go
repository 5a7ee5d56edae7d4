// Package planner turns a limit calculation into a contribution schedule.
package planner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
)

var (
	five        = decimal.NewFromInt(5)
	ten         = decimal.NewFromInt(10)
	twentyFive  = decimal.NewFromInt(25)
	oneHundred  = decimal.NewFromInt(100)
	fiveHundred = decimal.NewFromInt(500)
)

// Increment is the convenience rounding step for a per-period amount: $5
// below $100, $10 below $500 and $25 above.
func Increment(perPeriod decimal.Decimal) decimal.Decimal {
	switch {
	case perPeriod.LessThan(oneHundred):
		return five
	case perPeriod.LessThan(fiveHundred):
		return ten
	}
	return twentyFive
}

// Plan spreads the remaining contribution over the remaining pay periods.
// The projected total never exceeds what is left: rounding may move the
// per-period amount down but never up past the remaining capacity.
func Plan(res model.LimitCalculationResult, periods int) model.ContributionPlan {
	remaining := res.EmployeeCapacity
	plan := model.ContributionPlan{
		Periods:        periods,
		Remaining:      remaining,
		NaivePerPeriod: decimal.Zero,
		Increment:      decimal.Zero,
		PerPeriod:      decimal.Zero,
		LumpSum:        decimal.Zero,
		ProjectedTotal: decimal.Zero,
		UnusedCapacity: remaining,
	}

	if !remaining.IsPositive() || contributionsClosed(res) {
		plan.Kind = model.PlanNone
		plan.UnusedCapacity = decimal.Zero
		plan.Notes = append(plan.Notes, noneNote(res))
		return plan
	}

	if periods <= 0 {
		return lumpSum(plan, res, fmt.Sprintf(
			"No pay periods remain, so payroll deductions cannot reach the limit. Contribute up to %s directly to your HSA before the filing deadline.",
			money.Format(remaining)))
	}

	n := decimal.NewFromInt(int64(periods))
	naive := remaining.DivRound(n, money.Places+4)
	plan.Kind = model.PlanPerPeriod
	plan.NaivePerPeriod = money.Round(naive)

	inc := Increment(naive)
	per := naive.Div(inc).Round(0).Mul(inc)
	for per.IsPositive() && per.Mul(n).GreaterThan(remaining) {
		per = per.Sub(inc)
	}
	if !per.IsPositive() {
		inc = money.FromCents(1)
		per = naive.RoundFloor(money.Places)
	}
	if !per.IsPositive() {
		plan.NaivePerPeriod = decimal.Zero
		return lumpSum(plan, res, fmt.Sprintf(
			"%s spread over %d pay periods is less than a cent each. Contribute it as a single deposit instead.",
			money.Format(remaining), periods))
	}

	plan.Increment = inc
	plan.PerPeriod = per
	plan.ProjectedTotal = per.Mul(n)
	plan.UnusedCapacity = remaining.Sub(plan.ProjectedTotal)

	plan.Notes = append(plan.Notes, fmt.Sprintf("Contribute %s in each of your %d remaining pay periods, %s in total.",
		money.Format(per), periods, money.Format(plan.ProjectedTotal)))
	if plan.UnusedCapacity.IsPositive() {
		plan.Notes = append(plan.Notes, fmt.Sprintf(
			"That leaves %s of room; add it as a one-time contribution if you want to reach the limit exactly.",
			money.Format(plan.UnusedCapacity)))
	}
	if note, ok := terminationNote(res); ok {
		plan.Notes = append(plan.Notes, note)
	}
	return plan
}

func lumpSum(plan model.ContributionPlan, res model.LimitCalculationResult, note string) model.ContributionPlan {
	plan.Kind = model.PlanLumpSum
	plan.LumpSum = plan.Remaining
	plan.ProjectedTotal = plan.Remaining
	plan.UnusedCapacity = decimal.Zero
	plan.Notes = append(plan.Notes, note)
	if note, ok := terminationNote(res); ok {
		plan.Notes = append(plan.Notes, note)
	}
	return plan
}

// terminationNote warns about paychecks after eligibility ends later in the
// year; contributions from those paychecks are not allowed.
func terminationNote(res model.LimitCalculationResult) (string, bool) {
	f, ok := res.Finding(model.TagPlanTermination)
	if !ok || f.Adjustment.ContributionsClosed || f.Adjustment.EffectiveDate == nil {
		return "", false
	}
	return fmt.Sprintf("Your HSA eligibility ends on %s. Only count pay periods up to that date, and finish these contributions before then.",
		f.Adjustment.EffectiveDate.Format("January 2, 2006")), true
}

func contributionsClosed(res model.LimitCalculationResult) bool {
	f, ok := res.Finding(model.TagPlanTermination)
	return ok && f.Adjustment.ContributionsClosed
}

func noneNote(res model.LimitCalculationResult) string {
	switch {
	case res.IsOverContributed():
		return fmt.Sprintf("Stop contributing: you are %s over the limit. See the remediation options.",
			money.Format(res.RemainingContribution.Neg()))
	case contributionsClosed(res):
		return "HSA eligibility has ended, so no further contributions are allowed this year."
	}
	return "You have reached the limit for the year; no further contributions are needed."
}
