package handler

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"hsa-planner/internal/model"
	"hsa-planner/internal/money"
	"hsa-planner/internal/orchestrator"
	"hsa-planner/internal/policy"
	"hsa-planner/internal/session"
)

var testNow = time.Date(2025, time.October, 1, 9, 0, 0, 0, time.UTC)

type calcRecorder struct {
	mu   sync.Mutex
	recs []model.LimitCalculationResult
}

func (c *calcRecorder) RecordCalculation(_ context.Context, _ string, res model.LimitCalculationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, res)
	return nil
}

func newHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	table, err := policy.Default()
	require.NoError(t, err)
	clock := func() time.Time { return testNow }
	orch := orchestrator.New(table, orchestrator.WithClock(clock))
	svc := session.NewService(session.NewMemoryStore(), orch)
	return New(svc, table, append([]Option{WithClock(clock), WithDefaultTaxYear(2025)}, opts...)...)
}

func do(t *testing.T, h *Handler, method, path string, body any) *fasthttp.RequestCtx {
	t.Helper()
	return doFrom(t, h, "10.0.0.1", method, path, body)
}

func doFrom(t *testing.T, h *Handler, ip, method, path string, body any) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req.SetBody(data)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}, nil)
	h.Handle(&ctx)
	return &ctx
}

func decode[T any](t *testing.T, ctx *fasthttp.RequestCtx) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &v), "body: %s", ctx.Response.Body())
	return v
}

func TestHealth(t *testing.T) {
	ctx := do(t, newHandler(t), fasthttp.MethodGet, "/healthz", nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))
}

func TestSessionConversation(t *testing.T) {
	h := newHandler(t)

	ctx := do(t, h, fasthttp.MethodPost, "/v1/sessions", nil)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	started := decode[SessionResponse](t, ctx)
	assert.Equal(t, model.StageCollecting, started.Stage)
	assert.Equal(t, uint64(1), started.Revision)
	assert.Equal(t, model.MessagePrompt, started.Message.Kind)

	path := "/v1/sessions/" + started.SessionID + "/messages"
	var resp SessionResponse
	for _, in := range []string{"family", "$6,000", "yes", "12"} {
		ctx = do(t, h, fasthttp.MethodPost, path, MessageRequest{Input: in})
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "input %q: %s", in, ctx.Response.Body())
		resp = decode[SessionResponse](t, ctx)
	}
	assert.Equal(t, model.StageComplete, resp.Stage)
	assert.Equal(t, model.MessageResult, resp.Message.Kind)
	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Plan.PerPeriod.Equal(money.MustParse("290")))

	ctx = do(t, h, fasthttp.MethodGet, "/v1/sessions/"+started.SessionID, nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	rec := decode[session.Record](t, ctx)
	assert.Equal(t, session.RecordVersion, rec.Version)
	assert.Equal(t, uint64(5), rec.Revision)
	assert.Equal(t, model.StageComplete, rec.Stage)
}

func TestStartWithProfileAndYear(t *testing.T) {
	h := newHandler(t)
	ctx := do(t, h, fasthttp.MethodPost, "/v1/sessions", StartRequest{
		TaxYear: 2026,
		Profile: &model.UserSnapshot{EmployerContribution: money.MustParse("500")},
	})
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	resp := decode[SessionResponse](t, ctx)

	ctx = do(t, h, fasthttp.MethodGet, "/v1/sessions/"+resp.SessionID, nil)
	rec := decode[session.Record](t, ctx)
	assert.Equal(t, 2026, rec.TaxYear)
	assert.True(t, rec.Snapshot.EmployerContribution.Equal(money.MustParse("500")))
}

func TestStaleRevisionConflict(t *testing.T) {
	h := newHandler(t)
	started := decode[SessionResponse](t, do(t, h, fasthttp.MethodPost, "/v1/sessions", nil))
	path := "/v1/sessions/" + started.SessionID + "/messages"
	rev := started.Revision

	ctx := do(t, h, fasthttp.MethodPost, path, MessageRequest{Input: "individual", Revision: &rev})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(t, h, fasthttp.MethodPost, path, MessageRequest{Input: "family", Revision: &rev})
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
	e := decode[ErrorResponse](t, ctx)
	assert.True(t, e.Retryable)
}

func TestUnknownSession(t *testing.T) {
	h := newHandler(t)
	ctx := do(t, h, fasthttp.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do(t, h, fasthttp.MethodPost, "/v1/sessions/nope/messages", MessageRequest{Input: "hi"})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestBadBody(t *testing.T) {
	h := newHandler(t)
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI("/v1/calculate")
	req.SetBodyString("{not json")
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	h.Handle(&ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCalculate(t *testing.T) {
	rec := &calcRecorder{}
	h := newHandler(t, WithCalculationRecorder(rec))

	ctx := do(t, h, fasthttp.MethodPost, "/v1/calculate", CalculateRequest{
		Snapshot: model.UserSnapshot{
			Coverage:            model.CoverageFamily,
			YTDContribution:     money.MustParse("6000"),
			CatchUpEligible:     true,
			RemainingPayPeriods: 12,
		},
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "%s", ctx.Response.Body())
	resp := decode[CalculateResponse](t, ctx)

	assert.Equal(t, 2025, resp.CalculationMetadata.TaxYear)
	assert.Equal(t, "SUCCESS", resp.CalculationMetadata.CalculationOutcome)
	assert.NotEmpty(t, resp.CalculationMetadata.CalculationID)
	assert.True(t, resp.CalculationResult.TotalAllowed.Equal(money.MustParse("9550")))
	assert.True(t, resp.CalculationResult.RemainingContribution.Equal(money.MustParse("3550")))
	require.Len(t, rec.recs, 1)
}

func TestCalculateOverContributionOutcome(t *testing.T) {
	h := newHandler(t)
	ctx := do(t, h, fasthttp.MethodPost, "/v1/calculate", CalculateRequest{
		TaxYear: 2025,
		Today:   "2025-11-01",
		Snapshot: model.UserSnapshot{
			Coverage:        model.CoverageIndividual,
			YTDContribution: money.MustParse("5000"),
		},
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	resp := decode[CalculateResponse](t, ctx)
	assert.Equal(t, "CRITICAL_FINDINGS", resp.CalculationMetadata.CalculationOutcome)
	assert.True(t, resp.CalculationResult.RemainingContribution.Equal(money.MustParse("-700")))
}

func TestCalculateErrors(t *testing.T) {
	h := newHandler(t)

	ctx := do(t, h, fasthttp.MethodPost, "/v1/calculate", CalculateRequest{
		TaxYear:  1999,
		Snapshot: model.UserSnapshot{Coverage: model.CoverageIndividual},
	})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do(t, h, fasthttp.MethodPost, "/v1/calculate", CalculateRequest{
		Snapshot: model.UserSnapshot{Coverage: "couple"},
	})
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, ctx.Response.StatusCode())

	ctx = do(t, h, fasthttp.MethodPost, "/v1/calculate", json.RawMessage(
		`{"tax_year":2025,"snapshot":{"coverage":"individual","ytd_contribution":"4300.005","employer_contribution":"0.001"}}`))
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "more than two decimal places")

	ctx = do(t, h, fasthttp.MethodPost, "/v1/calculate", CalculateRequest{
		Snapshot: model.UserSnapshot{Coverage: model.CoverageIndividual},
		Today:    "yesterday",
	})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestPolicies(t *testing.T) {
	h := newHandler(t)

	ctx := do(t, h, fasthttp.MethodGet, "/v1/policies/2025", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	py := decode[policy.PolicyYear](t, ctx)
	assert.Equal(t, 2025, py.Year)
	assert.True(t, py.IndividualLimit.Equal(money.MustParse("4300")))
	assert.True(t, py.FamilyLimit.Equal(money.MustParse("8550")))

	ctx = do(t, h, fasthttp.MethodGet, "/v1/policies/1999", nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do(t, h, fasthttp.MethodGet, "/v1/policies/next", nil)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestRoutingErrors(t *testing.T) {
	h := newHandler(t)
	assert.Equal(t, fasthttp.StatusNotFound, do(t, h, fasthttp.MethodGet, "/v2/anything", nil).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, do(t, h, fasthttp.MethodGet, "/v1/calculate", nil).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, do(t, h, fasthttp.MethodDelete, "/v1/sessions/x", nil).Response.StatusCode())
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()
	rl.now = func() time.Time { return testNow }
	h := newHandler(t, WithRateLimiter(rl))

	for i := 0; i < 2; i++ {
		ctx := doFrom(t, h, "10.0.0.7", fasthttp.MethodGet, "/v1/policies/2025", nil)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	}
	ctx := doFrom(t, h, "10.0.0.7", fasthttp.MethodGet, "/v1/policies/2025", nil)
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())

	ctx = doFrom(t, h, "10.0.0.8", fasthttp.MethodGet, "/v1/policies/2025", nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = doFrom(t, h, "10.0.0.7", fasthttp.MethodGet, "/healthz", nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestRateLimiterRefillsAndCleansUp(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Stop()
	now := testNow
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, rl.Allow("a"))
	}
	assert.False(t, rl.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Hour)
	rl.cleanup()
	rl.mu.Lock()
	_, ok := rl.clients["a"]
	rl.mu.Unlock()
	assert.False(t, ok)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	var req fasthttp.Request
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("10.0.0.1")}, nil)
	assert.Equal(t, "203.0.113.9", clientIP(&ctx))

	var plain fasthttp.Request
	var ctx2 fasthttp.RequestCtx
	ctx2.Init(&plain, &net.TCPAddr{IP: net.ParseIP("10.0.0.2")}, nil)
	assert.Equal(t, "10.0.0.2", clientIP(&ctx2))
}
