package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"hsa-planner/internal/infra"
	"hsa-planner/internal/money"
)

func newPolicyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "policy [year]",
		Short: "Show contribution limits",
		Long: `Show the contribution limits for one tax year as JSON, or a table of every
provisioned year when no year is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			table, err := infra.LoadPolicies(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				year, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("year must be a number: %q", args[0])
				}
				py, err := table.LimitsFor(year)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(py, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "YEAR\tINDIVIDUAL\tFAMILY\tCATCH-UP\tCATCH-UP AGE")
			for _, y := range table.Years() {
				py, err := table.LimitsFor(y)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", py.Year,
					money.Format(py.IndividualLimit), money.Format(py.FamilyLimit),
					money.Format(py.CatchUpAmount), py.CatchUpAge)
			}
			return w.Flush()
		},
	}
}
