package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
)

func prorationFinding(w window, enrollment *time.Time, annual, prorated, factor decimal.Decimal) model.EdgeCaseFinding {
	explanation := fmt.Sprintf("Eligible for %d of 12 months; base limit prorated from %s to %s.",
		w.months(), money.Format(annual), money.Format(prorated))
	if w.months() > 0 {
		explanation = fmt.Sprintf("Eligible for %d of 12 months (%s); base limit prorated from %s to %s.",
			w.months(), monthRange(w.year, w.first, w.last), money.Format(annual), money.Format(prorated))
	}
	adj := model.Adjustment{
		Months:        w.months(),
		Factor:        model.DecimalPtr(factor),
		AnnualLimit:   model.DecimalPtr(annual),
		AdjustedLimit: model.DecimalPtr(prorated),
	}
	if enrollment != nil {
		adj.EffectiveDate = model.TimePtr(*enrollment)
	}
	return model.EdgeCaseFinding{
		Tag:         model.TagProration,
		Severity:    model.SeverityInfo,
		Code:        "LIMIT_PRORATED",
		Explanation: explanation,
		Adjustment:  adj,
	}
}

func lastMonthFinding(year int, annual, prorated, rate decimal.Decimal) model.EdgeCaseFinding {
	atRisk := annual.Sub(prorated)
	tax := money.Round(atRisk.Mul(rate))
	start := model.Date(year, time.December, 1)
	end := testingPeriodEnd(year)

	warning := fmt.Sprintf(
		"You must stay HSA-eligible from %s until %s. If eligibility ends sooner for any reason other than death or disability, %s of this year's limit becomes ordinary income plus a %s%% additional tax (%s).",
		start.Format("January 2, 2006"), end.Format("January 2, 2006"),
		money.Format(atRisk), rate.Shift(2).String(), money.Format(tax))

	return model.EdgeCaseFinding{
		Tag:      model.TagLastMonthRule,
		Severity: model.SeverityWarning,
		Code:     "LAST_MONTH_RULE",
		Explanation: fmt.Sprintf("Coverage began in December %d, so the full-year limit of %s applies under the last-month rule.",
			year, money.Format(annual)),
		Adjustment: model.Adjustment{
			Months:             12,
			Factor:             model.DecimalPtr(decimal.NewFromInt(1)),
			AnnualLimit:        model.DecimalPtr(annual),
			AdjustedLimit:      model.DecimalPtr(annual),
			TestingPeriodStart: model.TimePtr(start),
			TestingPeriodEnd:   model.TimePtr(end),
			AtRiskAmount:       model.DecimalPtr(atRisk),
			AdditionalTaxRate:  model.DecimalPtr(rate),
			AdditionalTax:      model.DecimalPtr(tax),
			RetentionWarning:   warning,
		},
	}
}

func subPeriodFinding(year int, sp model.SubPeriod, first, last time.Month) model.EdgeCaseFinding {
	return model.EdgeCaseFinding{
		Tag:      model.TagMidYearChange,
		Severity: model.SeverityInfo,
		Code:     "COVERAGE_SUB_PERIOD",
		Explanation: fmt.Sprintf("%s: %s coverage for %d month(s) allows %s of the %s annual limit.",
			monthRange(year, first, last), sp.Coverage, sp.Months, money.Format(sp.SubLimit), money.Format(sp.Limit)),
		Adjustment: model.Adjustment{
			Coverage:      sp.Coverage,
			Months:        sp.Months,
			AnnualLimit:   model.DecimalPtr(sp.Limit),
			AdjustedLimit: model.DecimalPtr(sp.SubLimit),
			PeriodStart:   model.TimePtr(sp.Start),
			PeriodEnd:     model.TimePtr(sp.End),
		},
	}
}

func terminationFinding(snap model.UserSnapshot, w window, today time.Time) model.EdgeCaseFinding {
	term := *snap.TerminationDate
	closed := !today.Before(term)

	explanation := fmt.Sprintf("HSA eligibility ends on %s. No contributions are permitted after that date; eligibility for %d is limited to %d month(s).",
		term.Format("2006-01-02"), w.year, w.months())
	if snap.TerminationReason == model.TerminationMedicare {
		explanation = fmt.Sprintf("Medicare enrollment ends HSA eligibility on %s. No contributions are permitted after that date; eligibility for %d is limited to %d month(s).",
			term.Format("2006-01-02"), w.year, w.months())
	}

	return model.EdgeCaseFinding{
		Tag:         model.TagPlanTermination,
		Severity:    model.SeverityWarning,
		Code:        "PLAN_TERMINATED",
		Explanation: explanation,
		Adjustment: model.Adjustment{
			Months:              w.months(),
			EffectiveDate:       model.TimePtr(term),
			Reason:              string(snap.TerminationReason),
			ContributionsClosed: closed,
		},
	}
}

func deathDisabilityFinding(snap model.UserSnapshot) model.EdgeCaseFinding {
	f := model.EdgeCaseFinding{
		Tag:      model.TagDeathDisability,
		Severity: model.SeverityWarning,
		Adjustment: model.Adjustment{
			Reason:        string(snap.TerminationReason),
			EffectiveDate: model.TimePtr(*snap.TerminationDate),
		},
	}
	if snap.TerminationReason == model.TerminationDeath {
		f.Code = "ACCOUNT_HOLDER_DECEASED"
		f.Explanation = "Contributions stop at death. A surviving spouse beneficiary may treat the account as their own; any other beneficiary receives the balance as taxable income. The last-month rule testing period does not apply."
		return f
	}
	f.Code = "ACCOUNT_HOLDER_DISABLED"
	f.Explanation = "Disability waives the 20% additional tax on non-qualified distributions and any last-month rule recapture tax; contributions remain limited to the eligible months."
	return f
}

func catchUpFinding(year, age int, amount decimal.Decimal, turnsOn *time.Time) model.EdgeCaseFinding {
	explanation := fmt.Sprintf("Age %d or older by December 31, %d: catch-up contribution of %s added.",
		age, year, money.Format(amount))
	adj := model.Adjustment{
		Amount:       model.DecimalPtr(amount),
		ThresholdAge: age,
	}
	if turnsOn != nil {
		explanation = fmt.Sprintf("You turn %d on %s; the full %s catch-up applies for all of %d, not just the months after your birthday.",
			age, turnsOn.Format("2006-01-02"), money.Format(amount), year)
		adj.EffectiveDate = model.TimePtr(*turnsOn)
	}
	return model.EdgeCaseFinding{
		Tag:         model.TagCatchUpEligibility,
		Severity:    model.SeverityInfo,
		Code:        "CATCH_UP_ELIGIBLE",
		Explanation: explanation,
		Adjustment:  adj,
	}
}

func employerFinding(employer, total decimal.Decimal) model.EdgeCaseFinding {
	share := money.Max(decimal.Zero, total.Sub(employer))
	f := model.EdgeCaseFinding{
		Tag:      model.TagEmployerContribution,
		Severity: model.SeverityInfo,
		Code:     "EMPLOYER_OFFSET",
		Explanation: fmt.Sprintf("Employer contributions of %s count toward the %s limit, leaving %s for your own contributions.",
			money.Format(employer), money.Format(total), money.Format(share)),
		Adjustment: model.Adjustment{
			Amount:        model.DecimalPtr(employer),
			AnnualLimit:   model.DecimalPtr(total),
			AdjustedLimit: model.DecimalPtr(share),
		},
	}
	if employer.GreaterThanOrEqual(total) {
		f.Severity = model.SeverityWarning
		f.Code = "EMPLOYER_EXHAUSTS_LIMIT"
		f.Explanation = fmt.Sprintf("Employer contributions of %s already meet or exceed the %s limit; you cannot contribute anything more this year.",
			money.Format(employer), money.Format(total))
	}
	return f
}

func overContributionFinding(year int, excess, rate decimal.Decimal, today time.Time) model.EdgeCaseFinding {
	deadline := filingDeadline(year)
	passed := today.After(deadline)
	excise := money.Round(excess.Mul(rate))

	withdraw := model.RemediationOption{
		Kind:           model.RemediationWithdraw,
		Amount:         excess,
		Deadline:       model.TimePtr(deadline),
		DeadlinePassed: passed,
		Description: fmt.Sprintf("Ask the custodian to remove %s plus the earnings on it by %s. The earnings are taxed as ordinary income; no excise tax applies.",
			money.Format(excess), deadline.Format("January 2, 2006")),
	}
	if passed {
		withdraw.Description = fmt.Sprintf("The %s deadline to remove the excess without penalty has passed; removing %s now stops the excise tax for later years.",
			deadline.Format("January 2, 2006"), money.Format(excess))
	}

	return model.EdgeCaseFinding{
		Tag:      model.TagOverContribution,
		Severity: model.SeverityCritical,
		Code:     "EXCESS_CONTRIBUTION",
		Explanation: fmt.Sprintf("Contributions exceed the %d limit by %s.",
			year, money.Format(excess)),
		Adjustment: model.Adjustment{
			Excess: model.DecimalPtr(excess),
			Remediation: []model.RemediationOption{
				withdraw,
				{
					Kind:      model.RemediationExcise,
					Amount:    excise,
					Rate:      model.DecimalPtr(rate),
					Recurring: true,
					Description: fmt.Sprintf("Leave the excess in the account and pay a %s%% excise tax of %s for %d and again for every later year it remains.",
						rate.Shift(2).String(), money.Format(excise), year),
				},
			},
		},
	}
}
