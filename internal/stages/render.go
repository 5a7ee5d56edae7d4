package stages

import (
	"fmt"
	"strings"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
)

// Summary renders a calculation and its plan as plain text. Findings are
// listed in the order the engine reports them; critical ones are flagged.
func Summary(res model.LimitCalculationResult, plan model.ContributionPlan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Your %d HSA limit (%s coverage, %s): %s",
		res.TaxYear, res.Coverage, res.Method, money.Format(res.TotalAllowed))
	if res.CatchUpAmount.IsPositive() {
		fmt.Fprintf(&b, ", including a %s catch-up", money.Format(res.CatchUpAmount))
	}
	b.WriteString(".\n")

	fmt.Fprintf(&b, "Contributed so far: %s", money.Format(res.YTDContribution))
	if res.EmployerContribution.IsPositive() {
		fmt.Fprintf(&b, " plus %s from your employer", money.Format(res.EmployerContribution))
	}
	fmt.Fprintf(&b, ". Remaining: %s.\n", money.Format(res.RemainingContribution))

	for _, f := range res.Findings {
		b.WriteString("\n")
		switch f.Severity {
		case model.SeverityCritical:
			b.WriteString("IMPORTANT: ")
		case model.SeverityWarning:
			b.WriteString("Note: ")
		}
		b.WriteString(f.Explanation)
		if f.Adjustment.RetentionWarning != "" {
			b.WriteString(" ")
			b.WriteString(f.Adjustment.RetentionWarning)
		}
		for i, r := range f.Adjustment.Remediation {
			fmt.Fprintf(&b, "\n  Option %d: %s", i+1, r.Description)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(strings.Join(plan.Notes, " "))
	return b.String()
}
