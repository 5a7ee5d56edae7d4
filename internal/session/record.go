// Package session persists conversation states between turns and serializes
// turns on the same session through an optimistic revision check.
package session

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"hsa-planner/internal/model"
)

// RecordVersion is the version written into every persisted record.
const RecordVersion = 1

var ErrRecordVersion = errors.New("unsupported session record version")

// Record is the persisted form of a ConversationState. Field names are part
// of the storage format and must not change; new fields are added with
// omitempty and a version bump when their meaning would otherwise be unclear.
type Record struct {
	Version      int                           `json:"version"`
	SessionID    string                        `json:"session_id"`
	TaxYear      int                           `json:"tax_year"`
	Stage        model.Stage                   `json:"stage"`
	Revision     uint64                        `json:"revision"`
	Cursor       int                           `json:"cursor"`
	RetryField   model.Field                   `json:"retry_field,omitempty"`
	RetryCount   int                           `json:"retry_count"`
	CreatedAt    time.Time                     `json:"created_at"`
	LastActivity time.Time                     `json:"last_activity"`
	Snapshot     model.UserSnapshot            `json:"snapshot"`
	Result       *model.LimitCalculationResult `json:"result"`
	Plan         *model.ContributionPlan       `json:"plan"`
}

// FromState flattens a state into its persisted record.
func FromState(s model.ConversationState) Record {
	return Record{
		Version:      RecordVersion,
		SessionID:    s.SessionID,
		TaxYear:      s.TaxYear,
		Stage:        s.Stage,
		Revision:     s.Revision,
		Cursor:       s.Cursor,
		RetryField:   s.RetryField,
		RetryCount:   s.RetryCount,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Snapshot:     s.Snapshot,
		Result:       s.Result,
		Plan:         s.Plan,
	}
}

// State rebuilds the conversation state from a record.
func (r Record) State() model.ConversationState {
	return model.ConversationState{
		SchemaVersion: model.StateSchemaVersion,
		SessionID:     r.SessionID,
		TaxYear:       r.TaxYear,
		Stage:         r.Stage,
		Snapshot:      r.Snapshot,
		Cursor:        r.Cursor,
		RetryField:    r.RetryField,
		RetryCount:    r.RetryCount,
		Result:        r.Result,
		Plan:          r.Plan,
		Revision:      r.Revision,
		CreatedAt:     r.CreatedAt,
		LastActivity:  r.LastActivity,
	}
}

// Encode serializes a state as a versioned record.
func Encode(s model.ConversationState) ([]byte, error) {
	data, err := json.Marshal(FromState(s))
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	return data, nil
}

// Decode parses a persisted record.
func Decode(data []byte) (model.ConversationState, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return model.ConversationState{}, fmt.Errorf("decode session record: %w", err)
	}
	if r.Version != RecordVersion {
		return model.ConversationState{}, fmt.Errorf("%w: %d", ErrRecordVersion, r.Version)
	}
	if !r.Stage.IsValid() {
		return model.ConversationState{}, fmt.Errorf("decode session record: unknown stage %q", r.Stage)
	}
	return r.State(), nil
}
