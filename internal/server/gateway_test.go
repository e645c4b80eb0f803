package server_test

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"LendLedger/internal/state"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var obligationID = uuid.MustParse("770e8400-e29b-41d4-a716-446655440002")

type fakeQuery struct {
	lastLimit  int
	lastBefore *int64
}

func (f *fakeQuery) GetReserves(_ context.Context, marketID string) ([]query.ReserveResponse, error) {
	if marketID != "punks" {
		return nil, query.ErrNotFound
	}
	return []query.ReserveResponse{{MarketID: marketID, TokenMint: "USDC", TotalDeposits: "1000"}}, nil
}

func (f *fakeQuery) GetObligation(_ context.Context, id uuid.UUID) (*query.ObligationResponse, error) {
	if id != obligationID {
		return nil, query.ErrNotFound
	}
	return &query.ObligationResponse{ObligationID: id, MarketID: "punks"}, nil
}

func (f *fakeQuery) GetBid(_ context.Context, marketID string, bidder uuid.UUID) (*query.BidResponse, error) {
	return &query.BidResponse{MarketID: marketID, Bidder: bidder, State: "open"}, nil
}

func (f *fakeQuery) GetBalances(_ context.Context, owner uuid.UUID) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{}, nil
}

func (f *fakeQuery) GetJournalHistory(_ context.Context, _ uuid.UUID, limit int, before *int64) ([]query.JournalHistoryEntry, error) {
	f.lastLimit = limit
	f.lastBefore = before
	return nil, nil
}

func (f *fakeQuery) GetLiquidations(marketID string, limit int) []projection.LiquidationHistoryEntry {
	return []projection.LiquidationHistoryEntry{}
}

func (f *fakeQuery) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, AsOfSequence: 9}, nil
}

type fakeSubmitter struct {
	err error
}

func (f *fakeSubmitter) SubmitJSON(_ context.Context, et event.EventType, body []byte) (event.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	evt, err := ingestion.ParseInstruction(et, body)
	if err != nil {
		return nil, err
	}
	return evt, nil
}

type fakeStatus struct{}

func (fakeStatus) Status() core.Status {
	return core.Status{Sequence: 41, StateHash: "abcd", Markets: 1, Obligations: 3}
}

func newTestServer(t *testing.T, deps *server.ServerDeps) *httptest.Server {
	t.Helper()
	mux, err := server.NewGatewayMux(deps)
	if err != nil {
		t.Fatalf("NewGatewayMux: %v", err)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func defaultDeps() *server.ServerDeps {
	return &server.ServerDeps{
		Query:         &fakeQuery{},
		Submitter:     &fakeSubmitter{},
		Core:          fakeStatus{},
		HealthChecker: observability.NewHealthChecker(),
		Metrics:       observability.NewMetricsWith(prometheus.NewRegistry()),
	}
}

func do(t *testing.T, method, url, body string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

// =============================================================================
// Queries
// =============================================================================

func TestGateway_GetReserves(t *testing.T) {
	srv := newTestServer(t, defaultDeps())

	code, body := do(t, "GET", srv.URL+"/v1/markets/punks/reserves", "", nil)
	if code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", code, body)
	}
	var got []query.ReserveResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].TotalDeposits != "1000" {
		t.Errorf("got %+v, want one reserve with 1000 deposited", got)
	}

	code, _ = do(t, "GET", srv.URL+"/v1/markets/apes/reserves", "", nil)
	if code != http.StatusNotFound {
		t.Errorf("got %d, want 404", code)
	}
}

func TestGateway_GetObligation(t *testing.T) {
	srv := newTestServer(t, defaultDeps())

	code, _ := do(t, "GET", srv.URL+"/v1/obligations/"+obligationID.String(), "", nil)
	if code != http.StatusOK {
		t.Errorf("got %d, want 200", code)
	}
	code, _ = do(t, "GET", srv.URL+"/v1/obligations/"+uuid.NewString(), "", nil)
	if code != http.StatusNotFound {
		t.Errorf("got %d, want 404", code)
	}
	code, _ = do(t, "GET", srv.URL+"/v1/obligations/not-a-uuid", "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}

func TestGateway_JournalPaging(t *testing.T) {
	deps := defaultDeps()
	fq := deps.Query.(*fakeQuery)
	srv := newTestServer(t, deps)

	url := fmt.Sprintf("%s/v1/accounts/%s/journals?limit=5&before_sequence=17", srv.URL, uuid.NewString())
	code, body := do(t, "GET", url, "", nil)
	if code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", code, body)
	}
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("got %s, want empty array", body)
	}
	if fq.lastLimit != 5 || fq.lastBefore == nil || *fq.lastBefore != 17 {
		t.Errorf("got limit %d before %v, want 5 and 17", fq.lastLimit, fq.lastBefore)
	}

	code, _ = do(t, "GET", srv.URL+"/v1/accounts/"+uuid.NewString()+"/journals?limit=ten", "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}

func TestGateway_Status(t *testing.T) {
	deps := defaultDeps()
	deps.HealthChecker.SetReady(true)
	srv := newTestServer(t, deps)

	code, body := do(t, "GET", srv.URL+"/v1/status", "", nil)
	if code != http.StatusOK {
		t.Fatalf("got %d, want 200", code)
	}
	var got struct {
		Sequence int64 `json:"sequence"`
		Ready    bool  `json:"ready"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != 41 || !got.Ready {
		t.Errorf("got %+v, want sequence 41 and ready", got)
	}
}

// =============================================================================
// Submission
// =============================================================================

func revokeBody() string {
	return `{"request_id":"r-1","signer":"550e8400-e29b-41d4-a716-446655440000","slot":1,"timestamp":1,"source_sequence":0,"market":"punks"}`
}

func TestGateway_Submit(t *testing.T) {
	srv := newTestServer(t, defaultDeps())

	code, body := do(t, "POST", srv.URL+"/v1/instructions/revoke_bid", revokeBody(), nil)
	if code != http.StatusAccepted {
		t.Fatalf("got %d, want 202 (%s)", code, body)
	}
	if !strings.Contains(body, `"idempotency_key":"r-1"`) {
		t.Errorf("response %s missing idempotency key", body)
	}
}

func TestGateway_SubmitErrors(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		body    string
		verdict error
		want    int
	}{
		{"unknown type", "/v1/instructions/fly", revokeBody(), nil, http.StatusNotFound},
		{"malformed", "/v1/instructions/revoke_bid", `{"market":`, nil, http.StatusBadRequest},
		{"domain rejection", "/v1/instructions/revoke_bid", revokeBody(), state.ErrBidNotFound, http.StatusNotFound},
		{"unhealthy", "/v1/instructions/revoke_bid", revokeBody(), fmt.Errorf("borrow: %w", state.ErrObligationUnhealthy), http.StatusUnprocessableEntity},
		{"unauthorized", "/v1/instructions/revoke_bid", revokeBody(), state.ErrUnauthorized, http.StatusForbidden},
		{"timeout", "/v1/instructions/revoke_bid", revokeBody(), context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", "/v1/instructions/revoke_bid", revokeBody(), errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := defaultDeps()
			deps.Submitter = &fakeSubmitter{err: tc.verdict}
			srv := newTestServer(t, deps)

			code, body := do(t, "POST", srv.URL+tc.path, tc.body, nil)
			if code != tc.want {
				t.Errorf("got %d, want %d (%s)", code, tc.want, body)
			}
		})
	}
}

// =============================================================================
// Admin
// =============================================================================

func TestGateway_AdminRequiresToken(t *testing.T) {
	deps := defaultDeps()
	deps.AdminToken = "s3cret"
	rebuilt := false
	deps.RebuildProjections = func(context.Context) error {
		rebuilt = true
		return nil
	}
	srv := newTestServer(t, deps)

	code, _ := do(t, "POST", srv.URL+"/v1/admin/projections/rebuild", "", nil)
	if code != http.StatusForbidden {
		t.Errorf("got %d, want 403 without token", code)
	}
	code, _ = do(t, "POST", srv.URL+"/v1/admin/projections/rebuild", "", map[string]string{"X-Admin-Token": "wrong"})
	if code != http.StatusForbidden {
		t.Errorf("got %d, want 403 with wrong token", code)
	}
	if rebuilt {
		t.Fatal("rebuild ran without a valid token")
	}

	code, _ = do(t, "POST", srv.URL+"/v1/admin/projections/rebuild", "", map[string]string{"X-Admin-Token": "s3cret"})
	if code != http.StatusAccepted || !rebuilt {
		t.Errorf("got %d rebuilt=%v, want 202 and rebuilt", code, rebuilt)
	}
}

func TestGateway_AdminDisabledWithoutToken(t *testing.T) {
	srv := newTestServer(t, defaultDeps())

	code, _ := do(t, "GET", srv.URL+"/v1/admin/integrity", "", map[string]string{"X-Admin-Token": ""})
	if code != http.StatusForbidden {
		t.Errorf("got %d, want 403", code)
	}
}

func TestGateway_AdminIntegrityAndSnapshot(t *testing.T) {
	deps := defaultDeps()
	deps.AdminToken = "t"
	deps.TakeSnapshot = func(context.Context) (int64, error) { return 120, nil }
	srv := newTestServer(t, deps)
	auth := map[string]string{"X-Admin-Token": "t"}

	code, body := do(t, "GET", srv.URL+"/v1/admin/integrity", "", auth)
	if code != http.StatusOK || !strings.Contains(body, `"as_of_sequence":9`) {
		t.Errorf("got %d %s, want healthy report", code, body)
	}
	code, body = do(t, "POST", srv.URL+"/v1/admin/snapshots", "", auth)
	if code != http.StatusAccepted || !strings.Contains(body, `"sequence":120`) {
		t.Errorf("got %d %s, want snapshot at 120", code, body)
	}
	code, _ = do(t, "GET", srv.URL+"/v1/admin/event-log", "", auth)
	if code != http.StatusNotImplemented {
		t.Errorf("got %d, want 501 when event log source is absent", code)
	}
}
