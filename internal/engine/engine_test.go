package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
	"hsa-planner/internal/policy"
)

var asOf = model.Date(2025, time.October, 1)

func policy2025(t *testing.T) policy.PolicyYear {
	t.Helper()
	table, err := policy.Default()
	require.NoError(t, err)
	p, err := table.LimitsFor(2025)
	require.NoError(t, err)
	return p
}

func individual(ytd string) model.UserSnapshot {
	return model.UserSnapshot{
		Coverage:            model.CoverageIndividual,
		YTDContribution:     money.MustParse(ytd),
		RemainingPayPeriods: 12,
	}
}

func calc(t *testing.T, snap model.UserSnapshot) model.LimitCalculationResult {
	t.Helper()
	res, err := Calculate(snap, policy2025(t), asOf)
	require.NoError(t, err)
	return res
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	if !got.Equal(money.MustParse(want)) {
		t.Fatalf("expected %s %s, got %s", field, want, got)
	}
}

func tags(res model.LimitCalculationResult) []model.FindingTag {
	out := make([]model.FindingTag, 0, len(res.Findings))
	for _, f := range res.Findings {
		out = append(out, f.Tag)
	}
	return out
}

func TestStandardIndividual(t *testing.T) {
	res := calc(t, individual("0"))

	assert.Equal(t, model.MethodStandard, res.Method)
	assert.Equal(t, 12, res.EligibleMonths)
	assertMoney(t, "4300.00", res.BaseLimit, "base limit")
	assertMoney(t, "4300.00", res.TotalAllowed, "total allowed")
	assertMoney(t, "4300.00", res.RemainingContribution, "remaining")
	assert.True(t, res.ProrationFactor.Equal(decimal.NewFromInt(1)))
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
}

func TestFamilyWithCatchUp(t *testing.T) {
	snap := individual("6000")
	snap.Coverage = model.CoverageFamily
	snap.CatchUpEligible = true

	res := calc(t, snap)

	assertMoney(t, "8550.00", res.BaseLimit, "base limit")
	assertMoney(t, "1000.00", res.CatchUpAmount, "catch-up")
	assertMoney(t, "9550.00", res.TotalAllowed, "total allowed")
	assertMoney(t, "3550.00", res.RemainingContribution, "remaining")
	assert.Equal(t, []model.FindingTag{model.TagCatchUpEligibility}, tags(res))
}

func TestJanuaryFirstEnrollmentIsNotProrated(t *testing.T) {
	snap := individual("0")
	snap.EnrollmentDate = model.DatePtr(2025, time.January, 1)

	res := calc(t, snap)

	if !res.ProrationFactor.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected factor 1, got %s", res.ProrationFactor)
	}
	assert.Equal(t, model.MethodStandard, res.Method)
	_, ok := res.Finding(model.TagProration)
	assert.False(t, ok)
}

func TestProration(t *testing.T) {
	tests := []struct {
		name      string
		enrolled  time.Time
		months    int
		factor    string
		prorated  string
		coverage  model.Coverage
		catchUp   bool
		wantTotal string
	}{
		{"april", model.Date(2025, time.April, 15), 9, "0.75", "3225.00", model.CoverageIndividual, false, "3225.00"},
		{"june", model.Date(2025, time.June, 10), 7, "0.5833333333", "2508.33", model.CoverageIndividual, false, "2508.33"},
		{"family march with catch-up", model.Date(2025, time.March, 1), 10, "0.8333333333", "7125.00", model.CoverageFamily, true, "8125.00"},
		{"enrolled last year", model.Date(2024, time.September, 1), 12, "1", "4300.00", model.CoverageIndividual, false, "4300.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := individual("0")
			snap.Coverage = tt.coverage
			snap.CatchUpEligible = tt.catchUp
			snap.EnrollmentDate = &tt.enrolled

			res := calc(t, snap)

			assert.Equal(t, tt.months, res.EligibleMonths)
			assert.True(t, res.ProrationFactor.Equal(decimal.RequireFromString(tt.factor)), "factor = %s", res.ProrationFactor)
			assertMoney(t, tt.prorated, res.ProratedBaseLimit, "prorated limit")
			assertMoney(t, tt.wantTotal, res.TotalAllowed, "total allowed")
			if tt.months < 12 {
				assert.Equal(t, model.MethodProrated, res.Method)
				f, ok := res.Finding(model.TagProration)
				require.True(t, ok)
				assert.Equal(t, tt.months, f.Adjustment.Months)
			}
		})
	}
}

func TestLastMonthRule(t *testing.T) {
	snap := individual("0")
	snap.EnrollmentDate = model.DatePtr(2025, time.December, 1)

	res := calc(t, snap)

	assert.Equal(t, model.MethodLastMonthRule, res.Method)
	assert.True(t, res.ProrationFactor.Equal(decimal.NewFromInt(1)))
	assertMoney(t, "4300.00", res.TotalAllowed, "total allowed")

	f, ok := res.Finding(model.TagLastMonthRule)
	require.True(t, ok, "expected last-month-rule finding")
	assert.Equal(t, model.SeverityWarning, f.Severity)
	require.NotNil(t, f.Adjustment.TestingPeriodEnd)
	assert.Equal(t, model.Date(2027, time.January, 1), *f.Adjustment.TestingPeriodEnd)
	assert.Equal(t, model.Date(2025, time.December, 31).AddDate(1, 0, 1), *f.Adjustment.TestingPeriodEnd)
	assertMoney(t, "3941.67", *f.Adjustment.AtRiskAmount, "at-risk amount")
	assertMoney(t, "394.17", *f.Adjustment.AdditionalTax, "additional tax")
	assert.True(t, f.Adjustment.AdditionalTaxRate.Equal(decimal.RequireFromString("0.10")))
	assert.NotEmpty(t, f.Adjustment.RetentionWarning)
}

func TestDecemberEnrollmentEndingInYearIsProrated(t *testing.T) {
	snap := individual("0")
	snap.EnrollmentDate = model.DatePtr(2025, time.December, 1)
	snap.TerminationDate = model.DatePtr(2025, time.December, 20)
	snap.TerminationReason = model.TerminationEnded

	res := calc(t, snap)

	assert.Equal(t, model.MethodProrated, res.Method)
	assertMoney(t, "358.33", res.TotalAllowed, "total allowed")
	_, ok := res.Finding(model.TagLastMonthRule)
	assert.False(t, ok)
}

func TestOverContributionByOneCent(t *testing.T) {
	res := calc(t, individual("4300.01"))

	assertMoney(t, "-0.01", res.RemainingContribution, "remaining")
	assertMoney(t, "0", res.EmployeeCapacity, "employee capacity")
	assert.True(t, res.IsOverContributed())
	assert.True(t, res.HasCritical())

	f, ok := res.Finding(model.TagOverContribution)
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assertMoney(t, "0.01", *f.Adjustment.Excess, "excess")

	require.Len(t, f.Adjustment.Remediation, 2)
	withdraw, excise := f.Adjustment.Remediation[0], f.Adjustment.Remediation[1]
	assert.Equal(t, model.RemediationWithdraw, withdraw.Kind)
	assert.Equal(t, model.Date(2026, time.April, 15), *withdraw.Deadline)
	assert.False(t, withdraw.DeadlinePassed)
	assert.Equal(t, model.RemediationExcise, excise.Kind)
	assert.True(t, excise.Recurring)
	assert.True(t, excise.Rate.Equal(decimal.RequireFromString("0.06")))
}

func TestOverContributionExciseAmount(t *testing.T) {
	res, err := Calculate(individual("5300"), policy2025(t), model.Date(2026, time.May, 1))
	require.NoError(t, err)

	f, ok := res.Finding(model.TagOverContribution)
	require.True(t, ok)
	assertMoney(t, "1000.00", *f.Adjustment.Excess, "excess")
	assertMoney(t, "60.00", f.Adjustment.Remediation[1].Amount, "excise")
	assert.True(t, f.Adjustment.Remediation[0].DeadlinePassed)
}

func TestMidYearCoverageChange(t *testing.T) {
	tests := []struct {
		name     string
		effect   time.Time
		subs     []string
		months   []int
		wantBase string
	}{
		{"first of month", model.Date(2025, time.July, 1), []string{"2150.00", "4275.00"}, []int{6, 6}, "6425.00"},
		{"mid month", model.Date(2025, time.July, 15), []string{"2508.33", "3562.50"}, []int{7, 5}, "6070.83"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := individual("0")
			snap.CoverageChanges = []model.CoverageChange{{Effective: tt.effect, Category: model.CoverageFamily}}

			res := calc(t, snap)

			assert.Equal(t, model.MethodMidYearChange, res.Method)
			require.Len(t, res.SubPeriods, 2)
			for i, sp := range res.SubPeriods {
				assertMoney(t, tt.subs[i], sp.SubLimit, "sub-limit")
				assert.Equal(t, tt.months[i], sp.Months)
			}
			assert.Equal(t, model.CoverageIndividual, res.SubPeriods[0].Coverage)
			assert.Equal(t, model.CoverageFamily, res.SubPeriods[1].Coverage)
			assertMoney(t, tt.wantBase, res.BaseLimit, "base limit")
			assertMoney(t, tt.wantBase, res.TotalAllowed, "total allowed")
			assert.Equal(t, []model.FindingTag{model.TagMidYearChange, model.TagMidYearChange}, tags(res))
		})
	}
}

func TestCoverageChangeBeforeYearSetsOpeningCategory(t *testing.T) {
	snap := individual("0")
	snap.CoverageChanges = []model.CoverageChange{{Effective: model.Date(2024, time.June, 1), Category: model.CoverageFamily}}

	res := calc(t, snap)

	assert.Equal(t, model.MethodStandard, res.Method)
	assert.Equal(t, model.CoverageFamily, res.Coverage)
	assertMoney(t, "8550.00", res.TotalAllowed, "total allowed")
}

func TestPlanTermination(t *testing.T) {
	snap := individual("1000")
	snap.TerminationDate = model.DatePtr(2025, time.August, 20)
	snap.TerminationReason = model.TerminationEnded

	res := calc(t, snap)

	assert.Equal(t, 8, res.EligibleMonths)
	assertMoney(t, "2866.67", res.TotalAllowed, "total allowed")
	assertMoney(t, "1866.67", res.RemainingContribution, "remaining")
	assert.Equal(t, []model.FindingTag{model.TagProration, model.TagPlanTermination}, tags(res))

	f, _ := res.Finding(model.TagPlanTermination)
	assert.True(t, f.Adjustment.ContributionsClosed)
	assert.Contains(t, f.Explanation, "No contributions are permitted after")
}

func TestTerminationAfterYearIsIgnored(t *testing.T) {
	snap := individual("0")
	snap.TerminationDate = model.DatePtr(2026, time.March, 1)
	snap.TerminationReason = model.TerminationMedicare

	res := calc(t, snap)

	assert.Equal(t, model.MethodStandard, res.Method)
	assert.Empty(t, res.Findings)
}

func TestDeathAndDisability(t *testing.T) {
	for _, reason := range []model.TerminationReason{model.TerminationDeath, model.TerminationDisability} {
		t.Run(string(reason), func(t *testing.T) {
			snap := individual("0")
			snap.TerminationDate = model.DatePtr(2025, time.March, 10)
			snap.TerminationReason = reason

			res := calc(t, snap)

			assertMoney(t, "1075.00", res.TotalAllowed, "total allowed")
			assert.Equal(t, []model.FindingTag{model.TagProration, model.TagPlanTermination, model.TagDeathDisability}, tags(res))
			f, _ := res.Finding(model.TagDeathDisability)
			assert.Equal(t, string(reason), f.Adjustment.Reason)
		})
	}
}

func TestEmployerContribution(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		snap := individual("500")
		snap.EmployerContribution = money.MustParse("1000")

		res := calc(t, snap)

		assertMoney(t, "2800.00", res.RemainingContribution, "remaining")
		assertMoney(t, "2800.00", res.EmployeeCapacity, "employee capacity")
		f, ok := res.Finding(model.TagEmployerContribution)
		require.True(t, ok)
		assert.Equal(t, model.SeverityInfo, f.Severity)
		assertMoney(t, "3300.00", *f.Adjustment.AdjustedLimit, "employee share")
	})

	t.Run("exceeds limit", func(t *testing.T) {
		snap := individual("0")
		snap.EmployerContribution = money.MustParse("5000")

		res := calc(t, snap)

		assertMoney(t, "-700.00", res.RemainingContribution, "remaining")
		assertMoney(t, "0", res.EmployeeCapacity, "employee capacity")
		f, ok := res.Finding(model.TagEmployerContribution)
		require.True(t, ok)
		assert.Equal(t, model.SeverityWarning, f.Severity)
		assertMoney(t, "0", *f.Adjustment.AdjustedLimit, "employee share")
		assert.Equal(t, []model.FindingTag{model.TagEmployerContribution, model.TagOverContribution}, tags(res))
	})
}

func TestCatchUpFromBirthDate(t *testing.T) {
	t.Run("birthday during year", func(t *testing.T) {
		snap := individual("0")
		snap.BirthDate = model.DatePtr(1970, time.December, 30)

		res := calc(t, snap)

		assertMoney(t, "1000.00", res.CatchUpAmount, "catch-up")
		f, ok := res.Finding(model.TagCatchUpEligibility)
		require.True(t, ok)
		assert.Equal(t, model.Date(2025, time.December, 30), *f.Adjustment.EffectiveDate)
	})

	t.Run("too young", func(t *testing.T) {
		snap := individual("0")
		snap.BirthDate = model.DatePtr(1971, time.January, 1)

		res := calc(t, snap)

		assert.True(t, res.CatchUpAmount.IsZero())
		_, ok := res.Finding(model.TagCatchUpEligibility)
		assert.False(t, ok)
	})
}

func TestFindingOrderFollowsPriority(t *testing.T) {
	snap := individual("5000")
	snap.CatchUpEligible = true
	snap.EnrollmentDate = model.DatePtr(2025, time.December, 1)
	snap.EmployerContribution = money.MustParse("1000")

	res := calc(t, snap)

	want := []model.FindingTag{
		model.TagLastMonthRule,
		model.TagCatchUpEligibility,
		model.TagEmployerContribution,
		model.TagOverContribution,
	}
	if diff := cmp.Diff(want, tags(res)); diff != "" {
		t.Fatalf("finding order mismatch (-want +got):\n%s", diff)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	snap := individual("2000")
	snap.Coverage = model.CoverageFamily
	snap.BirthDate = model.DatePtr(1969, time.May, 4)
	snap.EnrollmentDate = model.DatePtr(2025, time.February, 14)
	snap.CoverageChanges = []model.CoverageChange{{Effective: model.Date(2025, time.September, 1), Category: model.CoverageIndividual}}
	snap.EmployerContribution = money.MustParse("750")

	first := calc(t, snap)
	second := calc(t, snap)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCalculateDoesNotMutateSnapshot(t *testing.T) {
	snap := individual("0")
	snap.CoverageChanges = []model.CoverageChange{{Effective: model.Date(2025, time.May, 1), Category: model.CoverageFamily}}
	before := snap.Clone()

	calc(t, snap)

	if diff := cmp.Diff(before, snap); diff != "" {
		t.Fatalf("snapshot changed (-before +after):\n%s", diff)
	}
}

func TestTotalAllowedInvariant(t *testing.T) {
	p := policy2025(t)
	cent := money.MustParse("0.01")
	for _, cov := range []model.Coverage{model.CoverageIndividual, model.CoverageFamily} {
		for _, catchUp := range []bool{false, true} {
			for m := time.January; m <= time.December; m++ {
				for _, day := range []int{1, 17} {
					snap := individual("0")
					snap.Coverage = cov
					snap.CatchUpEligible = catchUp
					snap.EnrollmentDate = model.DatePtr(2025, m, day)

					res, err := Calculate(snap, p, asOf)
					require.NoError(t, err)

					want := res.BaseLimit.Mul(res.ProrationFactor).Add(res.CatchUpAmount)
					if res.TotalAllowed.Sub(want).Abs().GreaterThan(cent) {
						t.Fatalf("%s catch-up=%v enrolled %s: total %s, base*factor+catch-up %s",
							cov, catchUp, snap.EnrollmentDate.Format("2006-01-02"), res.TotalAllowed, want)
					}
					remaining := res.TotalAllowed.Sub(res.YTDContribution).Sub(res.EmployerContribution)
					assert.True(t, res.RemainingContribution.Equal(remaining))
				}
			}
		}
	}
}

func TestInvalidSnapshots(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*model.UserSnapshot)
		wantFact model.Fact
		wantErr  error
	}{
		{"enrolled after year", func(s *model.UserSnapshot) { s.EnrollmentDate = model.DatePtr(2026, time.January, 5) }, model.FactEnrollment, ErrEnrollmentAfterYear},
		{"terminated before year", func(s *model.UserSnapshot) { s.TerminationDate = model.DatePtr(2024, time.June, 1) }, model.FactTermination, ErrTerminationBeforeYear},
		{"termination before enrollment", func(s *model.UserSnapshot) {
			s.EnrollmentDate = model.DatePtr(2025, time.June, 1)
			s.TerminationDate = model.DatePtr(2025, time.March, 1)
		}, model.FactTermination, model.ErrTerminationOrder},
		{"negative employer", func(s *model.UserSnapshot) { s.EmployerContribution = money.MustParse("-1") }, model.FactEmployer, model.ErrNegativeEmployer},
		{"bad coverage", func(s *model.UserSnapshot) { s.Coverage = "couple" }, "", model.ErrInvalidCoverage},
		{"sub-cent ytd", func(s *model.UserSnapshot) { s.YTDContribution = decimal.RequireFromString("4300.005") }, "", model.ErrAmountPrecision},
		{"sub-cent employer", func(s *model.UserSnapshot) { s.EmployerContribution = decimal.RequireFromString("0.001") }, model.FactEmployer, model.ErrAmountPrecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := individual("0")
			tt.mutate(&snap)

			_, err := Calculate(snap, policy2025(t), asOf)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot))
			assert.True(t, errors.Is(err, tt.wantErr))
			var se *SnapshotError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantFact, se.Fact)
		})
	}
}

func TestFilingDeadlineSkipsWeekends(t *testing.T) {
	assert.Equal(t, model.Date(2026, time.April, 15), filingDeadline(2025))
	assert.Equal(t, model.Date(2028, time.April, 17), filingDeadline(2027))
	assert.Equal(t, model.Date(2029, time.April, 16), filingDeadline(2028))
}

func TestDecodedSubCentAmountsAreRejected(t *testing.T) {
	var snap model.UserSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"coverage":"individual","ytd_contribution":"4300.005","employer_contribution":"0.001","remaining_pay_periods":12}`), &snap))

	_, err := Calculate(snap, policy2025(t), asOf)
	assert.ErrorIs(t, err, model.ErrAmountPrecision)

	require.NoError(t, json.Unmarshal([]byte(`{"coverage":"individual","ytd_contribution":"4300.50","employer_contribution":"0.10","remaining_pay_periods":12}`), &snap))
	res := calc(t, snap)
	assertMoney(t, "-0.60", res.RemainingContribution, "remaining")
}
