package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hsa-planner/internal/infra"
	"hsa-planner/internal/model"
	"hsa-planner/internal/session"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		year      int
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Plan interactively in the terminal",
		Long: `Start a planning conversation on stdin/stdout.

Answer each question in turn. Optional details can be given at any point,
for example "enrolled 2025-03-15", "employer 500" or
"changed to family on 2025-07-01". Type /quit to leave; the session is kept
in the configured store and can be resumed with --session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if year == 0 {
				year = cfg.TaxYear
			}
			log := infra.NewLogger(cfg.AppEnv).Level(zerolog.WarnLevel)
			app, err := infra.NewApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			c := &chat{svc: app.Service, in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
			return c.run(cmd, year, sessionID)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "tax year to plan for (default TAX_YEAR or the current year)")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	return cmd
}

type chat struct {
	svc *session.Service
	in  *bufio.Scanner
	out io.Writer
}

func (c *chat) run(cmd *cobra.Command, year int, sessionID string) error {
	ctx := cmd.Context()

	var state model.ConversationState
	if sessionID != "" {
		st, err := c.svc.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		state = st
		fmt.Fprintf(c.out, "Resuming session %s (%s).\n", state.SessionID, state.Stage)
	} else {
		st, msg, err := c.svc.Start(ctx, year, model.UserSnapshot{})
		if err != nil {
			return err
		}
		state = st
		c.print(msg)
	}

	for !state.Stage.IsTerminal() {
		fmt.Fprint(c.out, "> ")
		if !c.in.Scan() {
			break
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "/quit" {
			break
		}

		rev := state.Revision
		next, msg, err := c.svc.Send(ctx, state.SessionID, line, &rev)
		if errors.Is(err, session.ErrSessionConflict) {
			if state, err = c.svc.Get(ctx, state.SessionID); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "This session was updated elsewhere; your last answer was not applied. Please answer again.")
			continue
		}
		if err != nil {
			return err
		}
		state = next
		c.print(msg)
	}
	if err := c.in.Err(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nsession %s, revision %d, %s\n", state.SessionID, state.Revision, state.Stage)
	return nil
}

func (c *chat) print(msg model.OutboundMessage) {
	fmt.Fprintln(c.out, msg.Text)
}
