// Package stages holds one handler per conversation stage. Handlers work on
// a private copy of the conversation state; the orchestrator decides whether
// that copy is published.
package stages

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hsa-planner/internal/model"
	"hsa-planner/internal/policy"
)

var (
	ErrIncompleteSnapshot = errors.New("required answers are missing")
	ErrMissingResult      = errors.New("no calculation result to plan from")
)

// Turn is one call into a stage handler.
type Turn struct {
	State    model.ConversationState
	Input    string
	Now      time.Time
	Policies policy.Provider
	Log      zerolog.Logger
}

// MoveTo changes the working stage, refusing transitions the state machine
// does not allow.
func (t *Turn) MoveTo(next model.Stage) error {
	if !t.State.Stage.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.State.Stage, next)
	}
	t.State.Stage = next
	return nil
}

// StageHandler defines the contract for every stage. Validate checks the
// stage's preconditions; Apply performs the transition and returns what to
// show the user.
type StageHandler interface {
	Validate(t *Turn) error
	Apply(t *Turn) (model.OutboundMessage, error)
}

// Automatic reports whether a stage runs without waiting for user input.
func Automatic(s model.Stage) bool {
	return s == model.StageCalculating || s == model.StagePlanning
}

func message(kind model.MessageKind, stage model.Stage, text string, options ...string) model.OutboundMessage {
	return model.OutboundMessage{Kind: kind, Stage: stage, Text: text, Options: options}
}
