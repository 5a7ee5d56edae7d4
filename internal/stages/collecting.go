package stages

import (
	"fmt"
	"strings"

	"hsa-planner/internal/intake"
	"hsa-planner/internal/model"
)

type CollectingHandler struct{}

func (h *CollectingHandler) Validate(t *Turn) error {
	if t.State.Cursor < 0 || t.State.Cursor > len(model.RequiredFields) {
		return fmt.Errorf("%w: cursor %d out of range", ErrIncompleteSnapshot, t.State.Cursor)
	}
	return nil
}

// Apply records either an optional fact or the answer to the field under the
// cursor. Optional facts never move the cursor. With every required answer
// already present (after a reset for a bad optional fact) any reply, a
// corrected fact or otherwise, goes straight back to calculating.
func (h *CollectingHandler) Apply(t *Turn) (model.OutboundMessage, error) {
	field, pending := t.State.NextField()

	if st, ok, err := intake.ParseStatement(t.Input); ok {
		if err != nil {
			return message(model.MessageClarification, t.State.Stage,
				fmt.Sprintf("I couldn't read that %s (%v). %s", factLabel(st.Fact), err, t.nextQuestion(field, pending))), nil
		}
		t.State.Snapshot = st.Apply(t.State.Snapshot)
		t.State.RetryField = ""
		t.State.RetryCount = 0
		t.Log.Debug().Str("fact", string(st.Fact)).Msg("optional fact recorded")
		if !pending {
			return h.complete(t)
		}
		return message(model.MessagePrompt, t.State.Stage,
			fmt.Sprintf("Got it, I noted your %s. %s", factLabel(st.Fact), t.prompt(field))), nil
	}

	if !pending {
		return h.complete(t)
	}

	if err := h.record(t, field); err != nil {
		return h.retry(t, field, err), nil
	}

	t.State.Cursor++
	t.State.RetryField = ""
	t.State.RetryCount = 0

	next, ok := t.State.NextField()
	if !ok {
		return h.complete(t)
	}
	return message(model.MessagePrompt, t.State.Stage, t.prompt(next)), nil
}

func (h *CollectingHandler) complete(t *Turn) (model.OutboundMessage, error) {
	if err := t.MoveTo(model.StageCalculating); err != nil {
		return model.OutboundMessage{}, err
	}
	return message(model.MessageNotice, t.State.Stage, "Thanks, I have everything I need. Calculating your limit..."), nil
}

func (t *Turn) nextQuestion(f model.Field, pending bool) string {
	if !pending {
		return "Send the corrected detail, or anything else to continue without it."
	}
	return t.prompt(f)
}

func (h *CollectingHandler) record(t *Turn, field model.Field) error {
	snap := &t.State.Snapshot
	switch field {
	case model.FieldCoverage:
		c, err := intake.Coverage(t.Input)
		if err != nil {
			return err
		}
		snap.Coverage = c
	case model.FieldYTDContribution:
		amt, err := intake.Amount(t.Input)
		if err != nil {
			return err
		}
		snap.YTDContribution = amt
	case model.FieldCatchUpEligibility:
		ans, err := intake.Age(t.Input, t.catchUpAge(), t.State.TaxYear, t.Now)
		if err != nil {
			return err
		}
		snap.CatchUpEligible = ans.Eligible
		if ans.BirthDate != nil {
			snap.BirthDate = ans.BirthDate
		}
	case model.FieldRemainingPayPeriods:
		n, err := intake.PayPeriods(t.Input)
		if err != nil {
			return err
		}
		snap.RemainingPayPeriods = n
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

// retry counts consecutive failures on one field; an accepted answer or
// optional fact in between starts the count again. From the MaxRetries-th
// failure on, the reply lists accepted answers instead of repeating the
// question.
func (h *CollectingHandler) retry(t *Turn, field model.Field, err error) model.OutboundMessage {
	if t.State.RetryField == field {
		t.State.RetryCount++
	} else {
		t.State.RetryField = field
		t.State.RetryCount = 1
	}
	t.Log.Debug().Str("field", string(field)).Int("retry", t.State.RetryCount).Err(err).Msg("answer rejected")

	if t.State.RetryCount >= MaxRetries {
		lead, opts := options(field)
		text := fmt.Sprintf("Let's try this another way. %s %s", lead, strings.Join(opts, ", "))
		return message(model.MessageOptions, t.State.Stage, text, opts...)
	}
	return message(model.MessageClarification, t.State.Stage, t.clarification(field, err))
}

func factLabel(f model.Fact) string {
	switch f {
	case model.FactEnrollment:
		return "enrollment date"
	case model.FactEmployer:
		return "employer contribution"
	case model.FactTermination:
		return "coverage end date"
	case model.FactCoverageChange:
		return "coverage change"
	case model.FactBirthDate:
		return "birth date"
	}
	return "detail"
}
