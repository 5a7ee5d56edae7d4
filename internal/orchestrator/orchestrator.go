// Package orchestrator drives a planning conversation one turn at a time.
// It holds no per-session state: everything lives in the ConversationState
// value passed in and returned.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
	"hsa-planner/internal/policy"
	"hsa-planner/internal/stages"
)

// DefaultIdleTimeout is how long a session may sit without input before the
// next turn abandons it.
const DefaultIdleTimeout = 30 * time.Minute

// maxSteps bounds the automatic stages one turn may run through.
var maxSteps = len(model.ValidTransitions)

var (
	ErrUnknownStage = errors.New("unknown conversation stage")
	ErrRunaway      = errors.New("turn did not settle on an interactive stage")
)

type Orchestrator struct {
	policies    policy.Provider
	now         func() time.Time
	idleTimeout time.Duration
	log         zerolog.Logger
}

type Option func(*Orchestrator)

// WithClock replaces time.Now, for tests and replay.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(policies policy.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policies:    policies,
		now:         time.Now,
		idleTimeout: DefaultIdleTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start returns a fresh state in the greeting stage. prefill carries optional
// facts known before the conversation starts; required answers in it are
// ignored and collected as usual.
func (o *Orchestrator) Start(sessionID string, taxYear int, prefill model.UserSnapshot) model.ConversationState {
	now := o.now().UTC()
	if taxYear == 0 {
		taxYear = now.Year()
	}
	snap := prefill.Clone()
	snap.Coverage = ""
	snap.YTDContribution = decimal.Zero
	snap.CatchUpEligible = false
	snap.RemainingPayPeriods = 0

	return model.ConversationState{
		SchemaVersion: model.StateSchemaVersion,
		SessionID:     sessionID,
		TaxYear:       taxYear,
		Stage:         model.StageGreeting,
		Snapshot:      snap,
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// Advance runs one turn. On success the returned state has Revision one
// higher than the input; on error the input state is returned unchanged.
// Terminal sessions are returned as-is with a notice.
func (o *Orchestrator) Advance(state model.ConversationState, rawInput string) (model.ConversationState, model.OutboundMessage, error) {
	if !state.Stage.IsValid() {
		return state, model.OutboundMessage{}, fmt.Errorf("%w: %q", ErrUnknownStage, state.Stage)
	}
	if state.Stage.IsTerminal() {
		return state, model.OutboundMessage{
			Kind:  model.MessageNotice,
			Stage: state.Stage,
			Text:  "This session has ended. Start a new session to plan again.",
		}, nil
	}

	now := o.now().UTC()
	log := o.log.With().Str("session_id", state.SessionID).Uint64("revision", state.Revision).Logger()

	if o.expired(state, now) {
		next := state.Clone()
		next.Stage = model.StageAbandoned
		next.Revision = state.Revision + 1
		next.LastActivity = now
		log.Info().Dur("idle", now.Sub(state.LastActivity)).Msg("session abandoned after inactivity")
		return next, model.OutboundMessage{
			Kind:  model.MessageRestart,
			Stage: next.Stage,
			Text:  "This session timed out after a period of inactivity. Please start a new session to continue planning.",
		}, nil
	}

	turn := &stages.Turn{
		State:    state.Clone(),
		Input:    rawInput,
		Now:      now,
		Policies: o.policies,
		Log:      log,
	}

	var msg model.OutboundMessage
	for step := 0; ; step++ {
		if step >= maxSteps {
			return state, model.OutboundMessage{}, ErrRunaway
		}
		from := turn.State.Stage
		h, ok := stages.Get(from)
		if !ok {
			return state, model.OutboundMessage{}, fmt.Errorf("%w: %q", ErrUnknownStage, from)
		}
		if err := h.Validate(turn); err != nil {
			return state, model.OutboundMessage{}, fmt.Errorf("%s: %w", from, err)
		}
		m, err := h.Apply(turn)
		if err != nil {
			return state, model.OutboundMessage{}, fmt.Errorf("%s: %w", from, err)
		}
		msg = m
		if turn.State.Stage != from {
			log.Debug().Str("from", string(from)).Str("to", string(turn.State.Stage)).Msg("stage transition")
		}
		if !stages.Automatic(turn.State.Stage) {
			break
		}
		turn.Input = ""
	}

	next := turn.State
	next.Revision = state.Revision + 1
	next.LastActivity = now
	msg.Stage = next.Stage
	return next, msg, nil
}

func (o *Orchestrator) expired(state model.ConversationState, now time.Time) bool {
	return !state.LastActivity.IsZero() && now.Sub(state.LastActivity) > o.idleTimeout
}

// Now exposes the orchestrator's clock so callers stamp records consistently.
func (o *Orchestrator) Now() time.Time {
	return o.now().UTC()
}
