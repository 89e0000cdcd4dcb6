package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/txledger/internal/clock"
	"github.com/smallbiznis/txledger/internal/config"
	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	eventrepo "github.com/smallbiznis/txledger/internal/event/repository"
	"github.com/smallbiznis/txledger/internal/observability"
	"github.com/smallbiznis/txledger/internal/redaction"
	"github.com/smallbiznis/txledger/internal/testutil"
	"github.com/smallbiznis/txledger/internal/transaction/repository"
	"github.com/smallbiznis/txledger/internal/transaction/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type testServer struct {
	srv        *Server
	reconciler *service.Reconciler
	clock      *clock.FakeClock
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(base.Add(time.Hour))
	repo := repository.New(repository.Options{})
	events := eventrepo.Provide()
	cfg := config.Config{Upsert: config.UpsertConfig{Timeout: 5 * time.Second}}

	reconciler := service.NewReconciler(service.ReconcilerParams{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Cfg: cfg, Events: events, Repo: repo,
	})
	search := service.NewSearchService(service.SearchServiceParams{
		DB:     db,
		Log:    zap.NewNop(),
		Tuning: config.NewStaticTuningHolder(config.DefaultTuning()),
		Repo:   repo,
		Events: events,
	})

	s := NewServer(ServerParams{
		Engine:     NewEngine(zap.NewNop(), observability.Config{}, nil),
		Cfg:        cfg,
		DB:         db,
		Search:     search,
		Reconciler: reconciler,
		Watermarks: redaction.NewWatermarkRepository(),
	})
	s.RegisterRoutes()
	return testServer{srv: s, reconciler: reconciler, clock: clk}
}

func (ts testServer) publish(t *testing.T, externalID, resourceType, eventType, parent string, at time.Time, details string) {
	t.Helper()
	raw := []byte(fmt.Sprintf(`{
		"timestamp": %q,
		"resource_external_id": %q,
		"parent_resource_external_id": %q,
		"resource_type": %q,
		"event_type": %q,
		"event_details": %s
	}`, at.Format(time.RFC3339Nano), externalID, parent, resourceType, eventType, details))
	ev, err := eventdomain.ParseMessage(raw, ts.clock.Now())
	require.NoError(t, err)
	_, err = ts.reconciler.Apply(context.Background(), ev)
	require.NoError(t, err)
}

func (ts testServer) do(t *testing.T, method, target string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.srv.engine.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func (ts testServer) seed(t *testing.T) {
	t.Helper()
	ts.publish(t, "pay_1", "payment", "PAYMENT_CREATED", "", base,
		`{"gateway_account_id":"acc_1","amount":1000,"reference":"order-1","card_brand":"visa","last_digits_card_number":"4242"}`)
	ts.publish(t, "pay_1", "payment", "AUTHORISATION_REJECTED", "", base.Add(time.Minute), `{}`)
	ts.publish(t, "pay_2", "payment", "PAYMENT_CREATED", "", base.Add(time.Second),
		`{"gateway_account_id":"acc_2","amount":500}`)
	ts.publish(t, "ref_1", "refund", "REFUND_CREATED_BY_USER", "pay_2", base.Add(2*time.Second),
		`{"gateway_account_id":"acc_2","amount":100,"refunded_by":"user_9"}`)
}

func errorBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	return e
}

func TestGetTransactionRendersVersionedState(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction/pay_1?status_version=2")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pay_1", data["external_id"])
	st := data["state"].(map[string]any)
	assert.Equal(t, "FAILED_REJECTED", st["name"])
	assert.Equal(t, "declined", st["status"])
	assert.Equal(t, true, st["finished"])
	card := data["card_details"].(map[string]any)
	assert.Equal(t, "4242", card["last_digits_card_number"])

	code, body = ts.do(t, http.MethodGet, "/v1/transaction/pay_1?status_version=1")
	require.Equal(t, http.StatusOK, code)
	st = body["data"].(map[string]any)["state"].(map[string]any)
	assert.Equal(t, "failed", st["status"])
	assert.Equal(t, "P0010", st["code"])
}

func TestGetTransactionRefundView(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction/ref_1")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "REFUND", data["transaction_type"])
	assert.Equal(t, "pay_2", data["payment_external_id"])
	assert.Equal(t, "user_9", data["refunded_by"])
}

func TestGetTransactionNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errorBody(t, body)["type"])

	code, _ = ts.do(t, http.MethodGet, "/v1/transaction/pay_1?account_id=acc_2")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSearchTransactions(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction?account_id=acc_2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, false, body["total_capped"])
	items := body["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "ref_1", items[0].(map[string]any)["external_id"])

	code, body = ts.do(t, http.MethodGet, "/v1/transaction?transaction_type=payment&state=declined&status_version=2")
	require.Equal(t, http.StatusOK, code)
	items = body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "pay_1", items[0].(map[string]any)["external_id"])
}

func TestSearchToDateIncludesWholeDay(t *testing.T) {
	ts := newTestServer(t)
	lastMicro := time.Date(2024, 3, 4, 23, 59, 59, 999999000, time.UTC)
	ts.publish(t, "pay_late", "payment", "PAYMENT_CREATED", "", lastMicro, `{"gateway_account_id":"acc_1","amount":1}`)
	ts.publish(t, "pay_next", "payment", "PAYMENT_CREATED", "", lastMicro.Add(time.Microsecond), `{"gateway_account_id":"acc_1","amount":2}`)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction?to_date=2024-03-04")
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "pay_late", items[0].(map[string]any)["external_id"])

	code, body = ts.do(t, http.MethodGet, "/v1/transaction?from_date=2024-03-05&to_date=2024-03-05")
	require.Equal(t, http.StatusOK, code)
	items = body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "pay_next", items[0].(map[string]any)["external_id"])
}

func TestParseOptionalTime(t *testing.T) {
	lower, err := parseOptionalTime("2024-03-04", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), *lower)

	upper, err := parseOptionalTime("2024-03-04", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *upper)

	instant, err := parseOptionalTime("2024-03-04T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), *instant)

	none, err := parseOptionalTime(" ", true)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseOptionalTime("04/03/2024", false)
	assert.Error(t, err)
}

func TestSearchTransactionsValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		query string
		code  string
	}{
		{"first_digits_card_number=12", "invalid_card_digits"},
		{"transaction_type=AGREEMENT", "invalid_transaction_type"},
		{"from_date=yesterday", "invalid_from_date"},
		{"from_date=2024-02-01&to_date=2024-01-01", "invalid_date_range"},
		{"status_version=9", "invalid_status_version"},
		{"page_size=100000", "invalid_page_size"},
		{"page=-1", "invalid_page"},
		{"page=922337203685477580", "invalid_page"},
		{"metadata_key=order", "invalid_metadata_filter"},
		{"state=nonsense", "invalid_state"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			code, body := ts.do(t, http.MethodGet, "/v1/transaction?"+tc.query)
			require.Equal(t, http.StatusBadRequest, code)
			e := errorBody(t, body)
			assert.Equal(t, "validation_error", e["type"])
			errs := e["errors"].([]any)
			require.NotEmpty(t, errs)
			assert.Equal(t, tc.code, errs[0].(map[string]any)["code"])
		})
	}
}

func TestSearchTransactionsCursorWalk(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	seen := []string{}
	target := "/v1/transaction/cursor?page_size=2"
	for i := 0; i < 5; i++ {
		code, body := ts.do(t, http.MethodGet, target)
		require.Equal(t, http.StatusOK, code)
		for _, it := range body["data"].([]any) {
			seen = append(seen, it.(map[string]any)["external_id"].(string))
		}
		info := body["page_info"].(map[string]any)
		if info["has_more"] != true {
			break
		}
		target = "/v1/transaction/cursor?page_size=2&page_token=" + info["next_page_token"].(string)
	}
	assert.Equal(t, []string{"ref_1", "pay_2", "pay_1"}, seen)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction/cursor?page_token=%21%21")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_cursor", errorBody(t, body)["errors"].([]any)[0].(map[string]any)["code"])

	code, _ = ts.do(t, http.MethodGet, "/v1/transaction/cursor?direction=sideways")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListTransactionEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodGet, "/v1/transaction/pay_1/event")
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "PAYMENT_CREATED", items[0].(map[string]any)["event_type"])
	assert.Equal(t, "AUTHORISATION_REJECTED", items[1].(map[string]any)["event_type"])

	code, _ = ts.do(t, http.MethodGet, "/v1/transaction/missing/event")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetWatermark(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodGet, "/v1/watermark")
	assert.Equal(t, http.StatusNotFound, code)

	at := base.Add(-time.Hour)
	require.NoError(t, ts.srv.watermarks.Advance(context.Background(), ts.srv.db, redaction.WatermarkName, at, base))

	code, body := ts.do(t, http.MethodGet, "/v1/watermark")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, redaction.WatermarkName, data["name"])
	assert.Equal(t, at.Format(time.RFC3339), data["value"])
}

func TestReprojectTransaction(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	code, body := ts.do(t, http.MethodPost, "/internal/transaction/pay_1/reproject")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "skipped", data["result"])
	assert.Equal(t, "unchanged", data["skip_reason"])

	code, _ = ts.do(t, http.MethodPost, "/internal/transaction/missing/reproject")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
