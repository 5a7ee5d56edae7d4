// Package cli implements the hsaplan command.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"hsa-planner/internal/infra"
)

var version = "dev"

// options are shared by every subcommand.
type options struct {
	envFile string
}

func (o *options) config() (*infra.Config, error) {
	return infra.LoadConfig(o.envFile)
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "hsaplan",
		Short: "Plan HSA contributions for the rest of the tax year",
		Long: `hsaplan works out how much you may still contribute to a health savings
account this year and how to spread it over your remaining paychecks.

It can run as an HTTP service, as an interactive chat in the terminal, or
as a one-shot calculator.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before reading configuration")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newCalcCmd(opts),
		newPolicyCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
