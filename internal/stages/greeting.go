package stages

import "hsa-planner/internal/model"

type GreetingHandler struct{}

func (h *GreetingHandler) Validate(t *Turn) error {
	return nil
}

// Apply ignores the input; the first turn only opens the conversation.
func (h *GreetingHandler) Apply(t *Turn) (model.OutboundMessage, error) {
	if err := t.MoveTo(model.StageCollecting); err != nil {
		return model.OutboundMessage{}, err
	}
	f, ok := t.State.NextField()
	if !ok {
		f = model.FieldCoverage
	}
	return message(model.MessagePrompt, t.State.Stage, greetingText+"\n\n"+t.prompt(f)), nil
}
