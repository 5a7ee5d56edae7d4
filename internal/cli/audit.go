package cli

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"hsa-planner/internal/audit"
	"hsa-planner/internal/session"
)

func newAuditCmd(opts *options) *cobra.Command {
	var (
		revision uint64
		history  bool
	)
	cmd := &cobra.Command{
		Use:   "audit <session-id>",
		Short: "Rebuild a session from the audit log",
		Long: `Rebuild a session as it was at a given revision by replaying the patches
recorded in AUDIT_DB_PATH, and print the record as JSON. With --history the
recorded revisions and calculations are listed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.AuditDBPath == "" {
				return errors.New("AUDIT_DB_PATH is not set")
			}
			auditLog, err := audit.Open(cfg.AuditDBPath)
			if err != nil {
				return err
			}
			defer auditLog.Close()

			ctx := cmd.Context()
			var v any
			if history {
				revs, err := auditLog.Revisions(ctx, args[0])
				if err != nil {
					return err
				}
				calcs, err := auditLog.Calculations(ctx, args[0])
				if err != nil {
					return err
				}
				v = map[string]any{"revisions": revs, "calculations": calcs}
			} else {
				state, err := auditLog.Replay(ctx, args[0], revision)
				if err != nil {
					return err
				}
				v = session.FromState(state)
			}

			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().Uint64Var(&revision, "revision", 0, "revision to rebuild (default latest)")
	cmd.Flags().BoolVar(&history, "history", false, "list revisions and calculations")
	return cmd
}
