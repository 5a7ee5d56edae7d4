package stages

import (
	"hsa-planner/internal/model"
	"hsa-planner/internal/planner"
)

type PlanningHandler struct{}

func (h *PlanningHandler) Validate(t *Turn) error {
	if t.State.Result == nil {
		return ErrMissingResult
	}
	return nil
}

func (h *PlanningHandler) Apply(t *Turn) (model.OutboundMessage, error) {
	plan := planner.Plan(*t.State.Result, t.State.Snapshot.RemainingPayPeriods)
	t.State.Plan = &plan
	if err := t.MoveTo(model.StageComplete); err != nil {
		return model.OutboundMessage{}, err
	}
	return message(model.MessageResult, t.State.Stage, Summary(*t.State.Result, plan)), nil
}
