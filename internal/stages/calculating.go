package stages

import (
	"errors"
	"fmt"

	"hsa-planner/internal/engine"
	"hsa-planner/internal/model"
)

type CalculatingHandler struct{}

func (h *CalculatingHandler) Validate(t *Turn) error {
	if _, pending := t.State.NextField(); pending {
		return fmt.Errorf("%w: cursor %d", ErrIncompleteSnapshot, t.State.Cursor)
	}
	if t.Policies == nil {
		return errors.New("no policy provider")
	}
	return nil
}

// Apply runs the engine. An unsupported tax year abandons the session; a
// snapshot the engine rejects sends the user back to collecting with the
// offending optional fact cleared.
func (h *CalculatingHandler) Apply(t *Turn) (model.OutboundMessage, error) {
	p, err := t.Policies.LimitsFor(t.State.TaxYear)
	if err != nil {
		t.Log.Error().Err(err).Int("tax_year", t.State.TaxYear).Str("session_id", t.State.SessionID).
			Msg("no contribution limits for tax year")
		if err := t.MoveTo(model.StageAbandoned); err != nil {
			return model.OutboundMessage{}, err
		}
		return message(model.MessageNotice, t.State.Stage, fmt.Sprintf(
			"Sorry, I don't have contribution limits for %d yet, so I can't finish this plan. Please start a new session for a supported year.",
			t.State.TaxYear)), nil
	}

	res, err := engine.Calculate(t.State.Snapshot, p, t.Now)
	if err != nil {
		var se *engine.SnapshotError
		if !errors.As(err, &se) {
			return model.OutboundMessage{}, err
		}
		return h.reset(t, se)
	}

	t.State.Result = &res
	t.State.Plan = nil
	if err := t.MoveTo(model.StagePlanning); err != nil {
		return model.OutboundMessage{}, err
	}
	return message(model.MessageNotice, t.State.Stage, "Limit calculated. Building your contribution plan..."), nil
}

func (h *CalculatingHandler) reset(t *Turn, se *engine.SnapshotError) (model.OutboundMessage, error) {
	t.Log.Info().Str("fact", string(se.Fact)).Err(se.Err).Msg("snapshot rejected, collecting again")
	if err := t.MoveTo(model.StageCollecting); err != nil {
		return model.OutboundMessage{}, err
	}
	t.State.Result = nil
	t.State.RetryField = ""
	t.State.RetryCount = 0

	if se.Fact != "" {
		t.State.Snapshot = t.State.Snapshot.Without(se.Fact)
		return message(model.MessageClarification, t.State.Stage, fmt.Sprintf(
			"That %s doesn't fit the rest of your answers (%v), so I've set it aside. Send a corrected one, or anything else to continue without it.",
			factLabel(se.Fact), se.Err)), nil
	}

	t.State.Cursor = 0
	return message(model.MessageClarification, t.State.Stage, fmt.Sprintf(
		"Some of your answers don't fit together (%v). Let's go through them again. %s",
		se.Err, t.prompt(model.RequiredFields[0]))), nil
}
