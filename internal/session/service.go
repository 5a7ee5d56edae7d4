package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hsa-planner/internal/jsonpatch"
	"hsa-planner/internal/model"
	"hsa-planner/internal/orchestrator"
)

// Revision describes one saved change to a session, for the audit trail.
// Patch turns the previous record into this one; ReversePatch undoes it.
// Result is set when this revision produced a new calculation.
type Revision struct {
	SessionID    string
	Revision     uint64
	Stage        model.Stage
	Patch        []byte
	ReversePatch []byte
	Result       *model.LimitCalculationResult
	RecordedAt   time.Time
}

// Recorder receives every saved revision.
type Recorder interface {
	RecordRevision(ctx context.Context, rev Revision) error
}

// Service runs the load, advance, save cycle for a session.
type Service struct {
	store    Store
	orch     *orchestrator.Orchestrator
	recorder Recorder
	log      zerolog.Logger
}

type ServiceOption func(*Service)

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, orch *orchestrator.Orchestrator, opts ...ServiceOption) *Service {
	s := &Service{store: store, orch: orch, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new session and runs its greeting turn.
func (s *Service) Start(ctx context.Context, taxYear int, prefill model.UserSnapshot) (model.ConversationState, model.OutboundMessage, error) {
	initial := s.orch.Start(uuid.NewString(), taxYear, prefill)
	next, msg, err := s.orch.Advance(initial, "")
	if err != nil {
		return model.ConversationState{}, model.OutboundMessage{}, err
	}
	if err := s.store.Save(ctx, next, 0); err != nil {
		return model.ConversationState{}, model.OutboundMessage{}, err
	}
	s.log.Info().Str("session_id", next.SessionID).Int("tax_year", next.TaxYear).Msg("session started")
	s.record(ctx, nil, next)
	return next, msg, nil
}

// Send delivers one user message. When expected is non-nil it must match the
// stored revision, so a client working from a stale copy gets a
// ConflictError instead of overwriting a newer turn.
func (s *Service) Send(ctx context.Context, sessionID, input string, expected *uint64) (model.ConversationState, model.OutboundMessage, error) {
	cur, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return model.ConversationState{}, model.OutboundMessage{}, err
	}
	if expected != nil && *expected != cur.Revision {
		return cur, model.OutboundMessage{}, &ConflictError{SessionID: sessionID, Expected: *expected, Actual: cur.Revision}
	}

	next, msg, err := s.orch.Advance(cur, input)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("advance failed")
		return cur, model.OutboundMessage{}, err
	}
	if next.Revision == cur.Revision {
		return cur, msg, nil
	}

	if err := s.store.Save(ctx, next, cur.Revision); err != nil {
		return cur, model.OutboundMessage{}, err
	}
	s.record(ctx, &cur, next)
	return next, msg, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (model.ConversationState, error) {
	return s.store.Load(ctx, sessionID)
}

// record writes the audit entry. The session is already saved, so audit
// failures are logged rather than returned.
func (s *Service) record(ctx context.Context, prev *model.ConversationState, next model.ConversationState) {
	if s.recorder == nil {
		return
	}
	log := s.log.With().Str("session_id", next.SessionID).Uint64("revision", next.Revision).Logger()

	var prevData []byte
	if prev != nil {
		data, err := Encode(*prev)
		if err != nil {
			log.Warn().Err(err).Msg("audit: encode previous revision")
			return
		}
		prevData = data
	}
	nextData, err := Encode(next)
	if err != nil {
		log.Warn().Err(err).Msg("audit: encode revision")
		return
	}
	fwd, bwd, err := jsonpatch.DiffJSON(prevData, nextData)
	if err != nil {
		log.Warn().Err(err).Msg("audit: diff revisions")
		return
	}

	rev := Revision{
		SessionID:    next.SessionID,
		Revision:     next.Revision,
		Stage:        next.Stage,
		Patch:        fwd,
		ReversePatch: bwd,
		RecordedAt:   next.LastActivity,
	}
	if next.Result != nil && (prev == nil || prev.Result != next.Result) {
		rev.Result = next.Result
	}
	if err := s.recorder.RecordRevision(ctx, rev); err != nil {
		log.Warn().Err(err).Msg("audit: record revision")
	}
}
