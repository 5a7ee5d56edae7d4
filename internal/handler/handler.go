// Package handler exposes the planner over HTTP with fasthttp.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"hsa-planner/internal/engine"
	"hsa-planner/internal/model"
	"hsa-planner/internal/policy"
	"hsa-planner/internal/session"
)

// CalculationRecorder stores calculations made through the stateless
// endpoint.
type CalculationRecorder interface {
	RecordCalculation(ctx context.Context, sessionID string, res model.LimitCalculationResult) error
}

type Handler struct {
	sessions    *session.Service
	policies    policy.Provider
	recorder    CalculationRecorder
	limiter     *RateLimiter
	defaultYear int
	now         func() time.Time
	log         zerolog.Logger
}

type Option func(*Handler)

func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) { h.limiter = rl }
}

func WithCalculationRecorder(r CalculationRecorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithDefaultTaxYear sets the year used when a request names none. Zero
// means the current calendar year.
func WithDefaultTaxYear(year int) Option {
	return func(h *Handler) { h.defaultYear = year }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

func New(sessions *session.Service, policies policy.Provider, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		policies: policies,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type ErrorResponse struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type StartRequest struct {
	TaxYear int                 `json:"tax_year"`
	Profile *model.UserSnapshot `json:"profile,omitempty"`
}

type MessageRequest struct {
	Input    string  `json:"input"`
	Revision *uint64 `json:"revision,omitempty"`
}

type SessionResponse struct {
	SessionID string                        `json:"session_id"`
	Revision  uint64                        `json:"revision"`
	Stage     model.Stage                   `json:"stage"`
	Message   model.OutboundMessage         `json:"message"`
	Result    *model.LimitCalculationResult `json:"result,omitempty"`
	Plan      *model.ContributionPlan       `json:"plan,omitempty"`
}

type CalculateRequest struct {
	TaxYear  int                `json:"tax_year"`
	Snapshot model.UserSnapshot `json:"snapshot"`
	// Today overrides the evaluation date, as YYYY-MM-DD.
	Today string `json:"today,omitempty"`
}

type CalculationMetadata struct {
	CalculationID          string `json:"calculation_id"`
	TaxYear                int    `json:"tax_year"`
	CalculationStartedAt   string `json:"calculation_started_at"`
	CalculationCompletedAt string `json:"calculation_completed_at"`
	CalculationDurationMs  int64  `json:"calculation_duration_ms"`
	CalculationOutcome     string `json:"calculation_outcome"`
}

type CalculateResponse struct {
	CalculationMetadata CalculationMetadata          `json:"calculation_metadata"`
	CalculationResult   model.LimitCalculationResult `json:"calculation_result"`
}

// Handle routes a request. It is the server's fasthttp.RequestHandler.
func (h *Handler) Handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if path == "/healthz" {
		h.health(ctx)
		return
	}

	if h.limiter != nil {
		ip := clientIP(ctx)
		if !h.limiter.Allow(ip) {
			h.log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			writeError(ctx, fasthttp.StatusTooManyRequests, "Rate limit exceeded", true)
			return
		}
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	method := string(ctx.Method())

	switch {
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "sessions":
		if method != fasthttp.MethodPost {
			methodNotAllowed(ctx)
			return
		}
		h.startSession(ctx)
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sessions":
		if method != fasthttp.MethodGet {
			methodNotAllowed(ctx)
			return
		}
		h.getSession(ctx, parts[2])
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "sessions" && parts[3] == "messages":
		if method != fasthttp.MethodPost {
			methodNotAllowed(ctx)
			return
		}
		h.sendMessage(ctx, parts[2])
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "calculate":
		if method != fasthttp.MethodPost {
			methodNotAllowed(ctx)
			return
		}
		h.calculate(ctx)
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "policies":
		if method != fasthttp.MethodGet {
			methodNotAllowed(ctx)
			return
		}
		h.getPolicy(ctx, parts[2])
	default:
		writeError(ctx, fasthttp.StatusNotFound, "Not found", false)
	}
}

func (h *Handler) health(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) startSession(ctx *fasthttp.RequestCtx) {
	var req StartRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body: "+err.Error(), false)
			return
		}
	}
	year := req.TaxYear
	if year == 0 {
		year = h.defaultYear
	}
	var prefill model.UserSnapshot
	if req.Profile != nil {
		prefill = *req.Profile
	}

	state, msg, err := h.sessions.Start(ctx, year, prefill)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, sessionResponse(state, msg))
}

func (h *Handler) sendMessage(ctx *fasthttp.RequestCtx, id string) {
	var req MessageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body: "+err.Error(), false)
		return
	}

	state, msg, err := h.sessions.Send(ctx, id, req.Input, req.Revision)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sessionResponse(state, msg))
}

func (h *Handler) getSession(ctx *fasthttp.RequestCtx, id string) {
	state, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, session.FromState(state))
}

func (h *Handler) calculate(ctx *fasthttp.RequestCtx) {
	started := h.now()

	var req CalculateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body: "+err.Error(), false)
		return
	}

	today := started.UTC()
	if req.Today != "" {
		t, err := time.Parse(time.DateOnly, req.Today)
		if err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, "today must be YYYY-MM-DD", false)
			return
		}
		today = t
	}
	year := req.TaxYear
	if year == 0 {
		year = h.defaultYear
	}
	if year == 0 {
		year = today.Year()
	}

	py, err := h.policies.LimitsFor(year)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	res, err := engine.Calculate(req.Snapshot, py, today)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	if h.recorder != nil {
		if err := h.recorder.RecordCalculation(ctx, "", res); err != nil {
			h.log.Warn().Err(err).Msg("audit: record calculation")
		}
	}

	completed := h.now()
	outcome := "SUCCESS"
	if res.HasCritical() {
		outcome = "CRITICAL_FINDINGS"
	}
	writeJSON(ctx, fasthttp.StatusOK, CalculateResponse{
		CalculationMetadata: CalculationMetadata{
			CalculationID:          uuid.NewString(),
			TaxYear:                year,
			CalculationStartedAt:   started.UTC().Format(time.RFC3339Nano),
			CalculationCompletedAt: completed.UTC().Format(time.RFC3339Nano),
			CalculationDurationMs:  completed.Sub(started).Milliseconds(),
			CalculationOutcome:     outcome,
		},
		CalculationResult: res,
	})
}

func (h *Handler) getPolicy(ctx *fasthttp.RequestCtx, rawYear string) {
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "year must be a number", false)
		return
	}
	py, err := h.policies.LimitsFor(year)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, py)
}

// fail maps a service error onto a status code.
func (h *Handler) fail(ctx *fasthttp.RequestCtx, err error) {
	var snapErr *engine.SnapshotError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err.Error(), false)
	case errors.Is(err, session.ErrSessionConflict):
		writeError(ctx, fasthttp.StatusConflict, err.Error(), true)
	case errors.Is(err, policy.ErrUnsupportedYear):
		writeError(ctx, fasthttp.StatusNotFound, err.Error(), false)
	case errors.As(err, &snapErr), errors.Is(err, engine.ErrInvalidSnapshot):
		writeError(ctx, fasthttp.StatusUnprocessableEntity, err.Error(), false)
	default:
		h.log.Error().Err(err).Str("path", string(ctx.Path())).Msg("request failed")
		writeError(ctx, fasthttp.StatusInternalServerError, "Internal error", false)
	}
}

func sessionResponse(state model.ConversationState, msg model.OutboundMessage) SessionResponse {
	return SessionResponse{
		SessionID: state.SessionID,
		Revision:  state.Revision,
		Stage:     state.Stage,
		Message:   msg,
		Result:    state.Result,
		Plan:      state.Plan,
	}
}

func methodNotAllowed(ctx *fasthttp.RequestCtx) {
	writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed", false)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "encode response: "+err.Error(), false)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string, retryable bool) {
	data, _ := json.Marshal(ErrorResponse{Status: status, Message: message, Retryable: retryable})
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}
