package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachops/revenue-engine/api"
	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/redemption"
	"github.com/coachops/revenue-engine/settlement"
	"github.com/coachops/revenue-engine/store/sqlite"
	"github.com/coachops/revenue-engine/webhook"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ldg := ledger.New(store)
	gate := webhook.NewGate(store, store)
	redeemer := redemption.New(redemption.Deps{
		Ledger:      ldg,
		Rules:       store,
		TaxRates:    store,
		Revenue:     store,
		Redemptions: store,
		Audit:       store,
	}, core.DefaultConfig())
	settlements := settlement.NewService(store, store)

	handler := api.NewHandler(store, gate, ldg, redeemer, settlements)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// =============================================================================
// WEBHOOK ENDPOINTS
// =============================================================================

func TestPaymentWebhook_CreditsPointsAndAlwaysAcks(t *testing.T) {
	// GIVEN: A purchase.completed event for 500 points
	// WHEN: Delivered twice (provider retry)
	// THEN: Both deliveries get HTTP 200; the balance reflects one credit

	srv, _ := newTestServer(t)

	event := api.PaymentWebhookRequest{
		EventID:    "ev-1",
		EventType:  "purchase.completed",
		CustomerID: "user-1",
		Points:     500,
		AmountJpy:  550,
	}

	resp := postJSON(t, srv.URL+"/webhooks/payment", event)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack api.WebhookAckDTO
	decodeInto(t, resp, &ack)
	assert.Equal(t, "processed", ack.Outcome)

	resp = postJSON(t, srv.URL+"/webhooks/payment", event)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &ack)
	assert.Equal(t, "duplicate", ack.Outcome)

	var balance api.BalanceDTO
	resp, err := http.Get(srv.URL + "/api/users/user-1/balance")
	require.NoError(t, err)
	decodeInto(t, resp, &balance)
	assert.Equal(t, int64(500), balance.Balance)
}

func TestPaymentWebhook_RefundDebitsPoints(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-1", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
	}).Body.Close()
	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-2", EventType: "charge.refunded", CustomerID: "user-1", Points: 200,
	}).Body.Close()

	var balance api.BalanceDTO
	resp, err := http.Get(srv.URL + "/api/users/user-1/balance")
	require.NoError(t, err)
	decodeInto(t, resp, &balance)
	assert.Equal(t, int64(300), balance.Balance)
}

func TestPaymentWebhook_HandlerFailureStillAcks(t *testing.T) {
	// GIVEN: A purchase event carrying zero points (malformed upstream)
	// WHEN: Delivered
	// THEN: HTTP 200 with outcome=failed, and the event shows up in the
	//       admin failed sweep instead of bouncing back to the provider

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-bad", EventType: "purchase.completed", CustomerID: "user-1", Points: 0,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack api.WebhookAckDTO
	decodeInto(t, resp, &ack)
	assert.Equal(t, "failed", ack.Outcome)

	var failed []api.WebhookEventDTO
	resp, err := http.Get(srv.URL + "/api/admin/webhook-events/failed")
	require.NoError(t, err)
	decodeInto(t, resp, &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, "ev-bad", failed[0].EventID)
}

func TestPaymentWebhook_MissingFieldsRejected(t *testing.T) {
	// A payload that cannot identify its event gets a 400, not an ACK:
	// there is nothing to deduplicate against.
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/webhooks/payment", map[string]string{"event_type": "purchase.completed"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReprocessEvent_RecoversStuckPaymentEvent(t *testing.T) {
	// GIVEN: A payment event that failed with zero points
	// WHEN: An operator reprocesses it with corrected points
	// THEN: The credit lands and the event leaves the failed sweep

	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-stuck", EventType: "purchase.completed", CustomerID: "user-1", Points: 0,
	}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/admin/webhook-events/payment/ev-stuck/reprocess",
		api.PaymentWebhookRequest{
			EventID: "ev-stuck", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
		})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ack api.WebhookAckDTO
	decodeInto(t, resp, &ack)
	assert.Equal(t, "processed", ack.Outcome)

	var balance api.BalanceDTO
	resp, err := http.Get(srv.URL + "/api/users/user-1/balance")
	require.NoError(t, err)
	decodeInto(t, resp, &balance)
	assert.Equal(t, int64(500), balance.Balance)
}

// =============================================================================
// REDEMPTION ENDPOINT
// =============================================================================

func seedRedemptionConfig(t *testing.T, srv *httptest.Server) {
	resp := postJSON(t, srv.URL+"/api/tax-rates", api.CreateTaxRateRequest{
		Name: "consumption-10", Rate: "0.10", EffectiveFrom: "2020-01-01T00:00:00Z",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/rules", api.CreateRuleRequest{
		ScopeType: "global", Percent: "30", EffectiveFrom: "2020-01-01T00:00:00Z",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRedeem_EndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)
	seedRedemptionConfig(t, srv)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-1", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
	}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/redemptions", api.RedeemRequest{
		EndUserID: "user-1", CastID: "cast-1", GiftID: "gift-7",
		GiftName: "Rose Bouquet", CostPoints: 100, PriceExclTax: 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.RedeemResultDTO
	decodeInto(t, resp, &result)
	assert.Equal(t, int64(400), result.NewBalance)
	assert.Equal(t, int64(10), result.TaxJpy)
	assert.Equal(t, int64(30), result.PayoutAmount)
}

func TestRedeem_InsufficientBalanceIs409WithTopUpMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	seedRedemptionConfig(t, srv)

	resp := postJSON(t, srv.URL+"/api/redemptions", api.RedeemRequest{
		EndUserID: "user-poor", CastID: "cast-1", GiftID: "gift-7", CostPoints: 100, PriceExclTax: 100,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body api.ErrorResponse
	decodeInto(t, resp, &body)
	assert.Contains(t, body.Error, "top up")
}

func TestRedeem_MissingConfigurationIs500WithOperatorMessage(t *testing.T) {
	// No tax rate, no rule. The user is told to contact the operator, not
	// shown a balance message, and nothing defaults to zero.
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-1", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
	}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/redemptions", api.RedeemRequest{
		EndUserID: "user-1", CastID: "cast-1", GiftID: "gift-7", CostPoints: 100, PriceExclTax: 100,
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body api.ErrorResponse
	decodeInto(t, resp, &body)
	assert.Contains(t, body.Error, "operator")
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

func TestSettlement_LifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	seedRedemptionConfig(t, srv)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-1", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
	}).Body.Close()
	postJSON(t, srv.URL+"/api/redemptions", api.RedeemRequest{
		EndUserID: "user-1", CastID: "cast-1", GiftID: "gift-7", CostPoints: 100, PriceExclTax: 100,
	}).Body.Close()

	now := time.Now().UTC()
	resp := postJSON(t, srv.URL+"/api/settlements", api.CreateBatchRequest{
		PeriodFrom: now.Add(-time.Hour).Format(time.RFC3339),
		PeriodTo:   now.Add(time.Hour).Format(time.RFC3339),
		CreatedBy:  "staff-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var batch api.BatchDTO
	decodeInto(t, resp, &batch)
	assert.Equal(t, "draft", batch.Status)
	assert.Equal(t, int64(30), batch.TotalAmountJpy)

	// Paying a draft batch is a conflict.
	resp = postJSON(t, srv.URL+"/api/settlements/"+batch.ID+"/pay", api.MarkPaidRequest{Actor: "staff-1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/settlements/"+batch.ID+"/approve", api.ApproveBatchRequest{ApprovedBy: "manager-1"})
	decodeInto(t, resp, &batch)
	assert.Equal(t, "approved", batch.Status)

	resp = postJSON(t, srv.URL+"/api/settlements/"+batch.ID+"/pay", api.MarkPaidRequest{Actor: "manager-1"})
	decodeInto(t, resp, &batch)
	assert.Equal(t, "paid", batch.Status)
}

// =============================================================================
// INBOX ENDPOINT
// =============================================================================

func TestScoreInbox_ReturnsAllConversationsRanked(t *testing.T) {
	// GIVEN: Three conversations across tiers
	// WHEN: Scoring
	// THEN: All three come back, ordered by descending score

	srv, _ := newTestServer(t)

	sla := 60
	resp := postJSON(t, srv.URL+"/api/inbox/score", api.ScoreInboxRequest{
		Conversations: []api.ScoreConversationDTO{
			{ConversationID: "quiet", SentToday: true},
			{ConversationID: "urgent", Unreplied: true, SLARemainingMinutes: &sla},
			{ConversationID: "idle", SentToday: false},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scored []api.ScoredConversationDTO
	decodeInto(t, resp, &scored)
	require.Len(t, scored, 3, "scoring orders, never filters")
	assert.Equal(t, "urgent", scored[0].ConversationID)
	assert.Equal(t, "idle", scored[1].ConversationID)
	assert.Equal(t, "quiet", scored[2].ConversationID)
}

// =============================================================================
// AUDIT ENDPOINT
// =============================================================================

func TestQueryAudit_RecordsWebhookProcessing(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/webhooks/payment", api.PaymentWebhookRequest{
		EventID: "ev-1", EventType: "purchase.completed", CustomerID: "user-1", Points: 500,
	}).Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/api/admin/audit?target_type=webhook_event", srv.URL))
	require.NoError(t, err)

	var entries []api.AuditEntryDTO
	decodeInto(t, resp, &entries)
	require.NotEmpty(t, entries)
	assert.Equal(t, "payment/ev-1", entries[0].TargetID)
	assert.True(t, entries[0].Success)
}
