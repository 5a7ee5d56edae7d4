package stages

import (
	"fmt"

	"hsa-planner/internal/model"
)

// MaxRetries is the number of failed answers to one field after which the
// prompt switches to an explicit list of accepted answers.
const MaxRetries = 3

// defaultCatchUpAge is used for wording prompts when the tax year has no
// policy; the calculating stage rejects such years.
const defaultCatchUpAge = 55

func (t *Turn) catchUpAge() int {
	if t.Policies != nil {
		if p, err := t.Policies.LimitsFor(t.State.TaxYear); err == nil {
			return p.CatchUpAge
		}
	}
	return defaultCatchUpAge
}

func (t *Turn) prompt(f model.Field) string {
	return prompt(f, t.State.TaxYear, t.catchUpAge())
}

func prompt(f model.Field, year, catchUpAge int) string {
	switch f {
	case model.FieldCoverage:
		return "Is your high-deductible health plan individual (self-only) or family coverage?"
	case model.FieldYTDContribution:
		return fmt.Sprintf("How much have you contributed to your HSA so far in %d? Count payroll deductions and direct deposits, but not your employer's share.", year)
	case model.FieldCatchUpEligibility:
		return fmt.Sprintf("Will you be %d or older by December 31, %d? You can answer yes or no, give your age on December 31, %d, or give your birth date.", catchUpAge, year, year)
	case model.FieldRemainingPayPeriods:
		return fmt.Sprintf("How many pay periods are left in %d?", year)
	}
	return ""
}

func options(f model.Field) (string, []string) {
	switch f {
	case model.FieldCoverage:
		return "Please pick one of these:", []string{"individual", "family"}
	case model.FieldYTDContribution:
		return "Please enter a dollar amount, for example:", []string{"0", "1250", "$3,400.50"}
	case model.FieldCatchUpEligibility:
		return "Please answer yes or no, your age at the end of the year, or your birth date, for example:", []string{"yes", "no", "57", "1968-04-02"}
	case model.FieldRemainingPayPeriods:
		return "Please enter a whole number from 0 to 53, for example:", []string{"0", "6", "12", "26"}
	}
	return "", nil
}

func (t *Turn) clarification(f model.Field, err error) string {
	return fmt.Sprintf("Sorry, I couldn't use that answer (%v). %s", err, t.prompt(f))
}

const greetingText = "Hi! I'll help you work out how much more you can put into your HSA this year and how to spread it over your remaining paychecks. You can also tell me extra details at any time, like \"enrolled 2025-03-15\", \"employer 1000\", \"changed to family on 2025-07-01\", \"terminated 2025-09-30\" or \"born 1968-04-02\"."
