package server

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxInstructionBytes = 64 << 10

// QueryAPI is the read side served over HTTP.
type QueryAPI interface {
	GetReserves(ctx context.Context, marketID string) ([]query.ReserveResponse, error)
	GetObligation(ctx context.Context, obligationID uuid.UUID) (*query.ObligationResponse, error)
	GetBid(ctx context.Context, marketID string, bidder uuid.UUID) (*query.BidResponse, error)
	GetBalances(ctx context.Context, owner uuid.UUID) (*query.BalanceResponse, error)
	GetJournalHistory(ctx context.Context, owner uuid.UUID, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	GetLiquidations(marketID string, limit int) []projection.LiquidationHistoryEntry
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// InstructionSubmitter applies one JSON instruction.
type InstructionSubmitter interface {
	SubmitJSON(ctx context.Context, et event.EventType, body []byte) (event.Event, error)
}

// StatusSource reports the live core state.
type StatusSource interface {
	Status() core.Status
}

// ServerDeps holds everything the gateway routes call into.
type ServerDeps struct {
	Query         QueryAPI
	Submitter     InstructionSubmitter
	Core          StatusSource
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	StartTime     time.Time

	// Admin operations. Routes are disabled when AdminToken is empty.
	AdminToken         string
	RebuildProjections func(ctx context.Context) error
	LatestLoggedSeq    func(ctx context.Context) (int64, error)
	TakeSnapshot       func(ctx context.Context) (int64, error)
}

type gateway struct {
	deps      *ServerDeps
	marshaler runtime.Marshaler
	logger    zerolog.Logger
}

// NewGatewayMux registers every HTTP route on a grpc-gateway mux.
func NewGatewayMux(deps *ServerDeps) (*runtime.ServeMux, error) {
	g := &gateway{
		deps:      deps,
		marshaler: &runtime.JSONBuiltin{},
		logger:    observability.NewLogger("server"),
	}
	if g.deps.StartTime.IsZero() {
		g.deps.StartTime = time.Now()
	}

	mux := runtime.NewServeMux()
	routes := []struct {
		method, pattern, endpoint string
		handler                   func(*http.Request, map[string]string) (any, error)
		admin                     bool
	}{
		{"GET", "/v1/markets/{market}/reserves", "reserves", g.getReserves, false},
		{"GET", "/v1/markets/{market}/bids/{bidder}", "bid", g.getBid, false},
		{"GET", "/v1/markets/{market}/liquidations", "liquidations", g.getLiquidations, false},
		{"GET", "/v1/obligations/{obligation}", "obligation", g.getObligation, false},
		{"GET", "/v1/accounts/{owner}/balances", "balances", g.getBalances, false},
		{"GET", "/v1/accounts/{owner}/journals", "journals", g.getJournals, false},
		{"GET", "/v1/status", "status", g.getStatus, false},
		{"POST", "/v1/instructions/{type}", "submit", g.submit, false},
		{"GET", "/v1/admin/integrity", "admin_integrity", g.verifyIntegrity, true},
		{"GET", "/v1/admin/event-log", "admin_event_log", g.eventLogInfo, true},
		{"POST", "/v1/admin/projections/rebuild", "admin_rebuild", g.rebuild, true},
		{"POST", "/v1/admin/snapshots", "admin_snapshot", g.snapshot, true},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.wrap(rt.endpoint, rt.admin, rt.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

// wrap turns a handler into a gateway HandlerFunc with auth, metrics and
// error mapping.
func (g *gateway) wrap(endpoint string, admin bool, h func(*http.Request, map[string]string) (any, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()

		var (
			resp any
			err  error
		)
		if admin && !g.authorized(r) {
			err = errForbidden
		} else {
			resp, err = h(r, params)
		}

		code := http.StatusOK
		if err != nil {
			code = httpStatus(err)
			resp = map[string]string{"error": err.Error()}
			if code >= http.StatusInternalServerError {
				g.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
		} else if r.Method == http.MethodPost {
			code = http.StatusAccepted
		}
		g.write(w, code, resp)

		if m := g.deps.Metrics; m != nil {
			status := strconv.Itoa(code)
			m.QueryRequests.WithLabelValues(endpoint, status).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				m.QueryErrors.WithLabelValues(endpoint, status).Inc()
			}
		}
	}
}

func (g *gateway) write(w http.ResponseWriter, code int, v any) {
	body, err := g.marshaler.Marshal(v)
	if err != nil {
		g.logger.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(v))
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (g *gateway) authorized(r *http.Request) bool {
	token := g.deps.AdminToken
	if token == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// --- errors ---

var (
	errForbidden   = errors.New("admin token required")
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("operation not configured")
)

func httpStatus(err error) int {
	switch {
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, state.ErrUnknownMarket),
		errors.Is(err, state.ErrUnknownReserve),
		errors.Is(err, state.ErrUnknownObligation),
		errors.Is(err, state.ErrBidNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, ingestion.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden),
		errors.Is(err, state.ErrUnauthorized),
		errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errUnavailable):
		return http.StatusNotImplemented
	case isDomainError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var domainErrors = []error{
	state.ErrCollateralCapacityExceeded, state.ErrNoFreeObligation,
	state.ErrDuplicateCollateral, state.ErrDuplicatePosition, state.ErrUnregisteredCollateral,
	state.ErrUnregisteredPosition, state.ErrAnotherLoanOutstanding, state.ErrPositionNotEmpty,
	state.ErrInvalidUnits,
	state.ErrObligationHealthy, state.ErrObligationUnhealthy, state.ErrInsufficientCollateral,
	state.ErrInvalidOraclePrice, state.ErrStaleData, state.ErrMarketHalted,
	state.ErrInsufficientLiquidity, state.ErrInvalidCollateral, state.ErrDuplicateObligation,
	state.ErrBidMintMismatch, state.ErrLiquidationLowCollateral, state.ErrInvalidParameter,
	state.ErrBidExists, state.ErrBidClosed, state.ErrInvalidBidTransition,
	state.ErrOverflow,
	ledger.ErrInsufficientFunds, ledger.ErrMintMismatch, ledger.ErrAmountTooLarge,
	core.ErrStaleRefresh,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// --- params ---

func uuidParam(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", name, errors.Join(errBadRequest, err))
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, errors.Join(errBadRequest, err))
	}
	return &v, nil
}

func limitQuery(r *http.Request) (int, error) {
	v, err := intQuery(r, "limit")
	if err != nil || v == nil {
		return 0, err
	}
	return int(*v), nil
}

// --- query routes ---

func (g *gateway) getReserves(r *http.Request, params map[string]string) (any, error) {
	return g.deps.Query.GetReserves(r.Context(), params["market"])
}

func (g *gateway) getBid(r *http.Request, params map[string]string) (any, error) {
	bidder, err := uuidParam(params, "bidder")
	if err != nil {
		return nil, err
	}
	return g.deps.Query.GetBid(r.Context(), params["market"], bidder)
}

func (g *gateway) getLiquidations(r *http.Request, params map[string]string) (any, error) {
	limit, err := limitQuery(r)
	if err != nil {
		return nil, err
	}
	return g.deps.Query.GetLiquidations(params["market"], limit), nil
}

func (g *gateway) getObligation(r *http.Request, params map[string]string) (any, error) {
	id, err := uuidParam(params, "obligation")
	if err != nil {
		return nil, err
	}
	return g.deps.Query.GetObligation(r.Context(), id)
}

func (g *gateway) getBalances(r *http.Request, params map[string]string) (any, error) {
	owner, err := uuidParam(params, "owner")
	if err != nil {
		return nil, err
	}
	return g.deps.Query.GetBalances(r.Context(), owner)
}

func (g *gateway) getJournals(r *http.Request, params map[string]string) (any, error) {
	owner, err := uuidParam(params, "owner")
	if err != nil {
		return nil, err
	}
	limit, err := limitQuery(r)
	if err != nil {
		return nil, err
	}
	before, err := intQuery(r, "before_sequence")
	if err != nil {
		return nil, err
	}
	entries, err := g.deps.Query.GetJournalHistory(r.Context(), owner, limit, before)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return entries, nil
}

type statusResponse struct {
	core.Status
	Ready  bool   `json:"ready"`
	Uptime string `json:"uptime"`
}

func (g *gateway) getStatus(_ *http.Request, _ map[string]string) (any, error) {
	resp := statusResponse{Uptime: time.Since(g.deps.StartTime).Round(time.Second).String()}
	if g.deps.Core != nil {
		resp.Status = g.deps.Core.Status()
	}
	if g.deps.HealthChecker != nil {
		resp.Ready = g.deps.HealthChecker.IsReady()
	}
	return resp, nil
}

// --- submission ---

type submitResponse struct {
	EventType      string  `json:"event_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Market         *string `json:"market,omitempty"`
	SourceSequence int64   `json:"source_sequence"`
}

func (g *gateway) submit(r *http.Request, params map[string]string) (any, error) {
	if g.deps.Submitter == nil {
		return nil, errUnavailable
	}
	et, err := event.ParseEventType(params["type"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrNotFound, err)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInstructionBytes))
	if err != nil {
		return nil, errors.Join(errBadRequest, err)
	}
	evt, err := g.deps.Submitter.SubmitJSON(r.Context(), et, body)
	if err != nil {
		return nil, err
	}
	return submitResponse{
		EventType:      et.String(),
		IdempotencyKey: evt.IdempotencyKey(),
		Market:         evt.MarketID(),
		SourceSequence: evt.SourceSequence(),
	}, nil
}

// --- admin ---

func (g *gateway) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return g.deps.Query.VerifyIntegrity(r.Context())
}

func (g *gateway) eventLogInfo(r *http.Request, _ map[string]string) (any, error) {
	if g.deps.LatestLoggedSeq == nil {
		return nil, errUnavailable
	}
	seq, err := g.deps.LatestLoggedSeq(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"last_sequence": seq}, nil
}

func (g *gateway) rebuild(r *http.Request, _ map[string]string) (any, error) {
	if g.deps.RebuildProjections == nil {
		return nil, errUnavailable
	}
	if err := g.deps.RebuildProjections(r.Context()); err != nil {
		return nil, err
	}
	return map[string]bool{"rebuilt": true}, nil
}

func (g *gateway) snapshot(r *http.Request, _ map[string]string) (any, error) {
	if g.deps.TakeSnapshot == nil {
		return nil, errUnavailable
	}
	seq, err := g.deps.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}
