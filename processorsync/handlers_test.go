package processorsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/models/reports"
	"github.com/mmdatafocus/payrecon_backend/testutil"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, time.March, 20, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func processorEvent(t *testing.T, id string, amount int64, currency, customer string) []byte {
	t.Helper()
	obj := map[string]any{
		"id":              "pi_" + id,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        currency,
	}
	if customer != "" {
		obj["customer"] = customer
	}
	b, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    "payment_intent.succeeded",
		"created": testNow.Add(-time.Hour).Unix(),
		"data":    map[string]any{"object": obj},
	})
	require.NoError(t, err)
	return b
}

// staticSource pages through a fixed ascending list.
type staticSource struct {
	mu     sync.Mutex
	events []json.RawMessage
	calls  int
}

func (s *staticSource) ListEvents(_ context.Context, _ models.ProcessorAccount, after string, limit int) (workflow.EventPage, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	start := 0
	ids := make([]string, len(s.events))
	for i, raw := range s.events {
		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &head)
		ids[i] = head.ID
		if head.ID == after {
			start = i + 1
		}
	}
	end := start + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	page := workflow.EventPage{Events: s.events[start:end], HasMore: end < len(s.events)}
	if end > start {
		page.NextCursor = ids[end-1]
	}
	return page, nil
}

type testEnv struct {
	db      *gorm.DB
	router  *gin.Engine
	service *Service
	source  *staticSource
	locker  *workflow.LocalRunLocker
	account models.ProcessorAccount
}

func newTestEnv(t *testing.T, events ...[]byte) *testEnv {
	t.Helper()
	db := testutil.OpenTestDB(t)
	account := testutil.SeedProcessorAccount(t, db, nil)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	src := &staticSource{}
	for _, e := range events {
		src.events = append(src.events, e)
	}
	locker := workflow.NewLocalRunLocker()
	reconciler := &workflow.Reconciler{
		DB:               db,
		Logger:           logger,
		Source:           src,
		Linker:           workflow.EntityLinker{Registry: workflow.GormAccountRegistry{DB: db}, Provider: models.ProcessorProviderStripe},
		Locker:           locker,
		PageSize:         10,
		DefaultMaxEvents: 500,
		LockTTL:          time.Minute,
		Now:              func() time.Time { return testNow },
	}
	thresholds := config.ParityThresholds{Default: decimal.NewFromInt(1), Currencies: map[string]decimal.Decimal{}}
	svc := &Service{
		DB:         db,
		Logger:     logger,
		Reconciler: reconciler,
		Reporter:   reports.NewReporter(db, thresholds),
		Settings: config.Settings{
			WebhookSecret:    testSecret,
			WebhookTolerance: 5 * time.Minute,
			EnablePubSubPush: true,
		},
		Now: func() time.Time { return testNow },
	}
	router := gin.New()
	svc.RegisterRoutes(router)
	return &testEnv{db: db, router: router, service: svc, source: src, locker: locker, account: account}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestSyncHandlerRunsReconciliation(t *testing.T) {
	env := newTestEnv(t,
		processorEvent(t, "evt_1", 100000, "mxn", ""),
		processorEvent(t, "evt_2", 20000, "mxn", "cus_unknown"),
	)

	body := []byte(fmt.Sprintf(`{"processor_account_id": %d}`, env.account.ID))
	w := env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res ReconcileResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.RunStatusSuccess, res.Status)
	assert.Equal(t, 2, res.FetchedEvents)
	assert.Equal(t, 2, res.ProcessedEvents)
	assert.Equal(t, 1, res.UnlinkedEvents)
	assert.Nil(t, res.CursorBefore)
	require.NotNil(t, res.CursorAfter)
	assert.Equal(t, "evt_2", *res.CursorAfter)
	assert.NotEmpty(t, res.RunId)

	w = env.do(t, http.MethodGet, "/api/reconciliation/runs/"+res.RunId, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.ReconciliationRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.TriggeredManual, run.TriggeredBy)
}

func TestSyncHandlerRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"missing account":    `{}`,
		"max events too big": fmt.Sprintf(`{"processor_account_id": %d, "max_events": 6000}`, env.account.ID),
		"not json":           `processor_account_id=1`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/reconciliation/sync", []byte(body), nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSyncHandlerUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/reconciliation/sync", []byte(`{"processor_account_id": 999}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncHandlerConflictWhileRunHeld(t *testing.T) {
	env := newTestEnv(t, processorEvent(t, "evt_1", 100, "usd", ""))

	lease, err := env.locker.Acquire(context.Background(), env.account.ID, time.Minute)
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"processor_account_id": %d}`, env.account.ID))
	w := env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, env.source.calls)

	require.NoError(t, lease.Release(context.Background()))
	w = env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlersValidatePeriod(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/api/reconciliation/summary",
		"/api/reconciliation/lifecycle",
		"/api/reconciliation/unlinked-events",
		"/api/reconciliation/unlinked-events/export",
		"/api/reconciliation/parity-check",
	} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, path+"?period=2026-13", nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			w = env.do(t, http.MethodGet, path+"?period=2026-03", nil, nil)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}
}

func TestReportHandlersDefaultToCurrentMonth(t *testing.T) {
	env := newTestEnv(t, processorEvent(t, "evt_1", 100000, "mxn", ""))
	body := []byte(fmt.Sprintf(`{"processor_account_id": %d}`, env.account.ID))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil).Code)

	w := env.do(t, http.MethodGet, "/api/reconciliation/lifecycle", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary reports.LifecycleSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, models.Period("2026-03"), summary.Period)
	mxn, ok := summary.Currency("MXN")
	require.True(t, ok)
	assert.True(t, mxn.Collected.Equal(decimal.NewFromInt(1000)), mxn.Collected.String())
}

func TestUnlinkedEventsHandlerRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/reconciliation/unlinked-events?period=2026-03&kind=chargeback", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportHandlerServesWorkbook(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/reconciliation/unlinked-events/export?period=2026-03", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "unlinked-events-2026-03.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestRunHistoryHandler(t *testing.T) {
	env := newTestEnv(t, processorEvent(t, "evt_1", 100, "usd", ""))
	body := []byte(fmt.Sprintf(`{"processor_account_id": %d}`, env.account.ID))
	var runIds []string
	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var res ReconcileResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		runIds = append(runIds, res.RunId)
	}

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/reconciliation/runs?processor_account_id=%d&limit=2", env.account.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history RunHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history.Items, 2)

	w = env.do(t, http.MethodGet, "/api/reconciliation/runs?processor_account_id=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/reconciliation/runs/"+runIds[0], nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail RunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, runIds[0], detail.RunId)
	require.Len(t, detail.EventCounts, 1)
	assert.Equal(t, models.EventStatusProcessed, detail.EventCounts[0].Status)
	assert.Equal(t, int64(1), detail.EventCounts[0].Count)

	w = env.do(t, http.MethodGet, "/api/reconciliation/runs/"+runIds[2], nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail = RunDetailResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Empty(t, detail.EventCounts)

	w = env.do(t, http.MethodGet, "/api/reconciliation/runs/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandlerIngestsSignedEvent(t *testing.T) {
	env := newTestEnv(t)
	payload := processorEvent(t, "evt_wh_1", 5000, "usd", "")
	headers := map[string]string{SignatureHeader: SignatureHeaderValue(testNow.Unix(), payload, testSecret)}

	w := env.do(t, http.MethodPost, "/webhooks/processor", payload, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Received)
	assert.Equal(t, "evt_wh_1", res.EventId)
	assert.Equal(t, workflow.OutcomeProcessed, res.Outcome)

	w = env.do(t, http.MethodPost, "/webhooks/processor", payload, headers)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, workflow.OutcomeDuplicate, res.Outcome)

	stored, err := models.GetPaymentEvent(context.Background(), env.db, "evt_wh_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.EventSourceWebhook, stored.Source)
	assert.Equal(t, int64(5000), stored.AmountMinor)
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := processorEvent(t, "evt_wh_2", 5000, "usd", "")

	w := env.do(t, http.MethodPost, "/webhooks/processor", payload, map[string]string{
		SignatureHeader: SignatureHeaderValue(testNow.Unix(), payload, "whsec_other"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stored, err := models.GetPaymentEvent(context.Background(), env.db, "evt_wh_2")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWebhookHandlerWithoutSecret(t *testing.T) {
	env := newTestEnv(t)
	env.service.Settings.WebhookSecret = ""
	payload := processorEvent(t, "evt_wh_3", 5000, "usd", "")
	w := env.do(t, http.MethodPost, "/webhooks/processor", payload, map[string]string{
		SignatureHeader: SignatureHeaderValue(testNow.Unix(), payload, testSecret),
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func pushBody(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	var envelope PubSubPushEnvelope
	envelope.Message.Data = data
	envelope.Message.ID = "msg-1"
	envelope.Subscription = "projects/test/subscriptions/reconcile"
	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	return b
}

func TestPubSubPushHandlerStartsRun(t *testing.T) {
	env := newTestEnv(t, processorEvent(t, "evt_1", 100, "usd", ""))

	w := env.do(t, http.MethodPost, "/pubsub/reconciliation", pushBody(t, ReconcilePubSubPayload{
		ProcessorAccountId: env.account.ID,
		CorrelationId:      "corr-1",
	}), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	runs, err := models.ListReconciliationRuns(context.Background(), env.db, env.account.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggeredPubSub, runs[0].TriggeredBy)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
}

func TestPubSubPushHandlerAcksMalformedAndDisabled(t *testing.T) {
	env := newTestEnv(t, processorEvent(t, "evt_1", 100, "usd", ""))

	w := env.do(t, http.MethodPost, "/pubsub/reconciliation", []byte(`not json`), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, "/pubsub/reconciliation", pushBody(t, map[string]any{"backfill": true}), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.service.Settings.EnablePubSubPush = false
	w = env.do(t, http.MethodPost, "/pubsub/reconciliation", pushBody(t, ReconcilePubSubPayload{ProcessorAccountId: env.account.ID}), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Zero(t, env.source.calls)
}
