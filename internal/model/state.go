package model

import (
	"errors"
	"time"
)

// Stage is the conversation's position in the collect → calculate → plan flow.
type Stage string

const (
	StageGreeting    Stage = "greeting"
	StageCollecting  Stage = "collecting"
	StageCalculating Stage = "calculating"
	StagePlanning    Stage = "planning"
	StageComplete    Stage = "complete"
	StageAbandoned   Stage = "abandoned"
)

// ValidTransitions lists the stages each stage may move to. Stages only move
// forward, except the reset to collecting after a validation failure.
var ValidTransitions = map[Stage][]Stage{
	StageGreeting:    {StageCollecting, StageAbandoned},
	StageCollecting:  {StageCollecting, StageCalculating, StageAbandoned},
	StageCalculating: {StagePlanning, StageCollecting, StageAbandoned},
	StagePlanning:    {StageComplete, StageCollecting, StageAbandoned},
	StageComplete:    {},
	StageAbandoned:   {},
}

var ErrInvalidTransition = errors.New("invalid stage transition")

// CanTransitionTo checks if a transition from s to target is allowed.
func (s Stage) CanTransitionTo(target Stage) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for complete and abandoned.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageAbandoned
}

func (s Stage) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// Field names one required answer collected during the collecting stage.
type Field string

const (
	FieldCoverage            Field = "coverage"
	FieldYTDContribution     Field = "ytd_contribution"
	FieldCatchUpEligibility  Field = "catch_up_eligibility"
	FieldRemainingPayPeriods Field = "remaining_pay_periods"
)

// RequiredFields is the fixed order in which answers are collected.
// ConversationState.Cursor indexes into it.
var RequiredFields = []Field{
	FieldCoverage,
	FieldYTDContribution,
	FieldCatchUpEligibility,
	FieldRemainingPayPeriods,
}

// StateSchemaVersion is bumped whenever the persisted shape changes.
const StateSchemaVersion = 1

// ConversationState is everything a planning session remembers between
// calls. Only the orchestrator produces new values of it.
type ConversationState struct {
	SchemaVersion int                     `json:"schema_version"`
	SessionID     string                  `json:"session_id"`
	TaxYear       int                     `json:"tax_year"`
	Stage         Stage                   `json:"stage"`
	Snapshot      UserSnapshot            `json:"snapshot"`
	Cursor        int                     `json:"cursor"`
	RetryField    Field                   `json:"retry_field,omitempty"`
	RetryCount    int                     `json:"retry_count"`
	Result        *LimitCalculationResult `json:"result,omitempty"`
	Plan          *ContributionPlan       `json:"plan,omitempty"`
	Revision      uint64                  `json:"revision"`
	CreatedAt     time.Time               `json:"created_at"`
	LastActivity  time.Time               `json:"last_activity"`
}

// NextField returns the next required field to collect, or false once every
// required field has an answer.
func (s ConversationState) NextField() (Field, bool) {
	if s.Cursor < 0 || s.Cursor >= len(RequiredFields) {
		return "", false
	}
	return RequiredFields[s.Cursor], true
}

// Clone returns a copy that shares nothing mutable with s. Result and Plan
// are values that are never modified, so they are shared.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Snapshot = s.Snapshot.Clone()
	return out
}

type MessageKind string

const (
	MessagePrompt        MessageKind = "prompt"
	MessageClarification MessageKind = "clarification"
	MessageOptions       MessageKind = "options"
	MessageResult        MessageKind = "result"
	MessageNotice        MessageKind = "notice"
	MessageRestart       MessageKind = "restart"
)

// OutboundMessage is what the transport shows the user after a turn.
type OutboundMessage struct {
	Kind    MessageKind `json:"kind"`
	Stage   Stage       `json:"stage"`
	Text    string      `json:"text"`
	Options []string    `json:"options,omitempty"`
}
