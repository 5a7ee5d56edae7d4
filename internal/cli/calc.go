package cli

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"hsa-planner/internal/engine"
	"hsa-planner/internal/infra"
	"hsa-planner/internal/intake"
	"hsa-planner/internal/model"
	"hsa-planner/internal/planner"
	"hsa-planner/internal/stages"
)

type calcOutput struct {
	Result model.LimitCalculationResult `json:"result"`
	Plan   model.ContributionPlan       `json:"plan"`
}

func newCalcCmd(opts *options) *cobra.Command {
	var (
		year     int
		coverage string
		ytd      string
		catchUp  bool
		periods  int
		facts    []string
		today    string
		summary  bool
	)
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate the remaining limit and a contribution plan",
		Long: `Calculate the remaining HSA limit for one set of answers and print the
result and contribution plan as JSON.

Examples:
  # Family coverage, $6,000 contributed, 55 or older, 12 paychecks left
  hsaplan calc --coverage family --ytd 6000 --catch-up --periods 12

  # Enrolled mid-year with an employer contribution
  hsaplan calc --coverage individual --periods 8 \
    --fact "enrolled 2025-04-01" --fact "employer 750"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			policies, err := infra.LoadPolicies(cfg)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if today != "" {
				if now, err = intake.Date(today); err != nil {
					return fmt.Errorf("--today: %w", err)
				}
			}
			if year == 0 {
				year = cfg.TaxYear
			}
			if year == 0 {
				year = now.Year()
			}

			snap := model.UserSnapshot{CatchUpEligible: catchUp, RemainingPayPeriods: periods}
			if snap.Coverage, err = intake.Coverage(coverage); err != nil {
				return fmt.Errorf("--coverage: %w", err)
			}
			if ytd != "" {
				if snap.YTDContribution, err = intake.Amount(ytd); err != nil {
					return fmt.Errorf("--ytd: %w", err)
				}
			}
			for _, f := range facts {
				st, ok, err := intake.ParseStatement(f)
				if !ok {
					return fmt.Errorf("--fact %q: not a recognised detail", f)
				}
				if err != nil {
					return fmt.Errorf("--fact %q: %w", f, err)
				}
				snap = st.Apply(snap)
			}

			py, err := policies.LimitsFor(year)
			if err != nil {
				return err
			}
			res, err := engine.Calculate(snap, py, now)
			if err != nil {
				return err
			}
			plan := planner.Plan(res, periods)

			out := cmd.OutOrStdout()
			if summary {
				_, err = fmt.Fprintln(out, stages.Summary(res, plan))
				return err
			}
			data, err := json.MarshalIndent(calcOutput{Result: res, Plan: plan}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "tax year (default TAX_YEAR or the current year)")
	cmd.Flags().StringVar(&coverage, "coverage", "", "coverage at the start of the year: individual or family")
	cmd.Flags().StringVar(&ytd, "ytd", "", "your contributions so far this year")
	cmd.Flags().BoolVar(&catchUp, "catch-up", false, "you are 55 or older by December 31")
	cmd.Flags().IntVar(&periods, "periods", 0, "remaining pay periods this year")
	cmd.Flags().StringArrayVar(&facts, "fact", nil, `optional detail, e.g. "enrolled 2025-03-15" (repeatable)`)
	cmd.Flags().StringVar(&today, "today", "", "evaluate as of this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a readable summary instead of JSON")
	_ = cmd.MarkFlagRequired("coverage")
	return cmd
}
