/*
handlers.go - HTTP API handlers for the revenue engine

PURPOSE:
  Exposes the revenue engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Webhooks:
    POST   /webhooks/payment             Payment provider events
    POST   /webhooks/messaging           Messaging platform events

  Users:
    GET    /api/users/{id}/balance       Derived point balance
    GET    /api/users/{id}/ledger        Point ledger history

  Redemption:
    POST   /api/redemptions              Redeem a gift

  Rules / tax rates:
    GET    /api/rules                    List payout rules
    POST   /api/rules                    Create payout rule
    POST   /api/rules/{id}/deactivate    Deactivate rule
    GET    /api/tax-rates                List tax rates
    POST   /api/tax-rates                Create tax rate

  Settlement:
    POST   /api/settlements              Create draft batch for a period
    GET    /api/settlements              List batches
    GET    /api/settlements/{id}         Batch detail
    GET    /api/settlements/{id}/calculations
    POST   /api/settlements/{id}/approve draft -> approved
    POST   /api/settlements/{id}/pay     approved -> paid

  Inbox:
    POST   /api/inbox/score              Rank conversations for triage

  Admin:
    GET    /api/admin/webhook-events/failed
    POST   /api/admin/webhook-events/{provider}/{eventID}/reprocess
    GET    /api/admin/audit

ERROR HANDLING:
  Domain errors map to HTTP status by category:
  - 400: Validation errors, invalid input
  - 404: Entity not found
  - 409: Conflict (duplicate, insufficient balance, wrong-state transition)
  - 500: Configuration errors (logged loudly) and internal errors
  - 502: Downstream provider failures

  EXCEPTION: webhook endpoints always return 200 once the payload parses,
  regardless of internal outcome, so providers stop retrying. Failures
  land on the event record for the admin sweep instead.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/inbox"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/payout"
	"github.com/coachops/revenue-engine/redemption"
	"github.com/coachops/revenue-engine/settlement"
	"github.com/coachops/revenue-engine/store/sqlite"
	"github.com/coachops/revenue-engine/webhook"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Gate        *webhook.Gate
	Ledger      *ledger.Ledger
	Redeemer    *redemption.Orchestrator
	Settlements *settlement.Service
	Weights     inbox.Weights

	validate *validator.Validate
}

// NewHandler creates a new handler wired to the given collaborators.
func NewHandler(store *sqlite.Store, gate *webhook.Gate, ldg *ledger.Ledger,
	redeemer *redemption.Orchestrator, settlements *settlement.Service) *Handler {
	return &Handler{
		Store:       store,
		Gate:        gate,
		Ledger:      ldg,
		Redeemer:    redeemer,
		Settlements: settlements,
		Weights:     inbox.DefaultWeights(),
		validate:    validator.New(),
	}
}

// =============================================================================
// WEBHOOK ENDPOINTS
// =============================================================================

// PaymentWebhook handles POST /webhooks/payment.
//
// Supported event types:
//
//	purchase.completed, subscription.renewed  -> credit points (purchase)
//	charge.refunded                           -> debit points (refund)
//	charge.chargeback                         -> debit points (chargeback)
//
// Unrecognized event types are recorded and ACKed without ledger effect,
// so new provider events never bounce.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	outcome, err := h.Gate.Process(r.Context(), "payment", req.EventID, req.EventType, func(ctx context.Context) error {
		return h.applyPaymentEvent(ctx, req)
	})
	if err != nil {
		// Bookkeeping failure, not a handler failure: the event was never
		// recorded, so the provider SHOULD retry.
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAckDTO{Outcome: string(outcome)})
}

// applyPaymentEvent is the domain effect behind the idempotency gate.
func (h *Handler) applyPaymentEvent(ctx context.Context, req PaymentWebhookRequest) error {
	var (
		delta  int64
		reason ledger.Reason
		action string
	)
	switch req.EventType {
	case "purchase.completed", "subscription.renewed":
		delta, reason, action = req.Points, ledger.ReasonPurchase, core.AuditPointsCredited
	case "charge.refunded":
		delta, reason, action = -req.Points, ledger.ReasonRefund, core.AuditPointsDebited
	case "charge.chargeback":
		delta, reason, action = -req.Points, ledger.ReasonChargeback, core.AuditPointsDebited
	default:
		// Record-and-ack. The event row preserves the type for later triage.
		return nil
	}

	if req.Points <= 0 {
		return fmt.Errorf("%w: event %s carries no points", core.ErrValidation, req.EventID)
	}
	_, err := h.Ledger.Append(ctx, req.CustomerID, delta, reason, "payment_event", req.EventID)
	if err := ignoreDuplicateReference(err); err != nil {
		return err
	}

	core.Emit(ctx, h.Store, core.AuditEntry{
		Action:     action,
		TargetType: "ledger_entry",
		TargetID:   req.EventID,
		Success:    true,
		Metadata: map[string]string{
			"end_user_id": req.CustomerID,
			"delta":       strconv.FormatInt(delta, 10),
			"reason":      string(reason),
		},
		ActorID: core.SystemActor(),
	})
	return nil
}

// ignoreDuplicateReference treats an already-applied ledger entry as success.
// The gate normally prevents this, but a reprocess after a partial failure
// may re-run a handler whose debit already landed.
func ignoreDuplicateReference(err error) error {
	if errors.Is(err, core.ErrDuplicateReference) {
		return nil
	}
	return err
}

// MessagingWebhook handles POST /webhooks/messaging. Message content and
// delivery live elsewhere; this endpoint exists so messaging events pass
// the same at-most-once gate and show up in the same failed-event sweep.
func (h *Handler) MessagingWebhook(w http.ResponseWriter, r *http.Request) {
	var req MessagingWebhookRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	outcome, err := h.Gate.Process(r.Context(), "messaging", req.EventID, req.EventType, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAckDTO{Outcome: string(outcome)})
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// GetBalance handles GET /api/users/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{EndUserID: id, Balance: balance})
}

// GetLedger handles GET /api/users/{id}/ledger.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.Ledger.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, LedgerEntryDTO{
			ID:          e.ID,
			EndUserID:   e.EndUserID,
			DeltaPoints: e.DeltaPoints,
			Reason:      string(e.Reason),
			RefType:     e.RefType,
			RefID:       e.RefID,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REDEMPTION ENDPOINT
// =============================================================================

// Redeem handles POST /api/redemptions.
//
// Two failure modes get distinct, user-actionable responses:
//   - insufficient balance -> 409 with a top-up message
//   - missing tax rate / payout rule -> 500 with a contact-operator
//     message, logged loudly; never silently defaulted
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Redeemer.Redeem(r.Context(), redemption.Request{
		EndUserID:    req.EndUserID,
		CastID:       req.CastID,
		GiftID:       req.GiftID,
		GiftName:     req.GiftName,
		GiftCategory: req.GiftCategory,
		CostPoints:   req.CostPoints,
		PriceExclTax: req.PriceExclTax,
	})
	if err != nil {
		var insufficient *core.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			writeError(w, http.StatusConflict,
				"Not enough points. Please top up and try again.", err)
		case core.IsConfigError(err):
			log.Printf("ALERT redemption blocked by missing configuration: %v", err)
			writeError(w, http.StatusInternalServerError,
				"Redemption cannot be completed right now. Please contact the operator.", err)
		default:
			writeDomainError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, RedeemResultDTO{
		RedemptionID:   result.RedemptionID,
		NewBalance:     result.NewBalance,
		TaxJpy:         result.Tax.TaxJpy,
		AmountInclTax:  result.Tax.AmountInclTax,
		RuleID:         result.RuleID,
		PercentApplied: result.PercentApplied,
		PayoutAmount:   result.PayoutAmount,
		RevenueEventID: result.RevenueEventID,
	})
}

// =============================================================================
// RULE AND TAX RATE ENDPOINTS
// =============================================================================

// ListRules handles GET /api/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]RuleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, toRuleDTO(rule))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule handles POST /api/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	percent, err := decimal.NewFromString(req.Percent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid percent", err)
		return
	}
	from, err := time.Parse(time.RFC3339, req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (want RFC3339)", err)
		return
	}
	var to *time.Time
	if req.EffectiveTo != "" {
		t, err := time.Parse(time.RFC3339, req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to (want RFC3339)", err)
			return
		}
		to = &t
	}

	scope := payout.ScopeType(req.ScopeType)
	if scope != payout.ScopeGlobal && req.CastID == "" {
		writeError(w, http.StatusBadRequest, "cast_id is required for non-global scopes", nil)
		return
	}
	needsKey := scope == payout.ScopeCastGift || scope == payout.ScopeCastGiftCategory || scope == payout.ScopeCastPlan
	if needsKey && req.ScopeKey == "" {
		writeError(w, http.StatusBadRequest, "scope_key is required for this scope type", nil)
		return
	}

	rule := payout.Rule{
		ID:            uuid.NewString(),
		RuleType:      req.RuleType,
		ScopeType:     scope,
		CastID:        req.CastID,
		ScopeKey:      req.ScopeKey,
		Percent:       percent,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.InsertRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}
	core.Emit(r.Context(), h.Store, core.AuditEntry{
		Action:     core.AuditRuleCreated,
		TargetType: "payout_rule",
		TargetID:   rule.ID,
		Success:    true,
		Metadata:   map[string]string{"scope_type": string(rule.ScopeType), "percent": rule.Percent.String()},
		ActorID:    core.SystemActor(),
	})
	writeJSON(w, http.StatusCreated, toRuleDTO(rule))
}

// DeactivateRule handles POST /api/rules/{id}/deactivate. Rules are never
// deleted; deactivation preserves the history behind percent snapshots.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeactivateRule(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	core.Emit(r.Context(), h.Store, core.AuditEntry{
		Action:     core.AuditRuleDeactivated,
		TargetType: "payout_rule",
		TargetID:   id,
		Success:    true,
		ActorID:    core.SystemActor(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListTaxRates handles GET /api/tax-rates.
func (h *Handler) ListTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Store.TaxRates(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TaxRateDTO, 0, len(rates))
	for _, rate := range rates {
		dtos = append(dtos, TaxRateDTO{
			ID:            rate.ID,
			Name:          rate.Name,
			Rate:          rate.Rate.String(),
			EffectiveFrom: rate.EffectiveFrom.Format(time.RFC3339),
			Active:        rate.Active,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTaxRate handles POST /api/tax-rates.
func (h *Handler) CreateTaxRate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaxRateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	from, err := time.Parse(time.RFC3339, req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (want RFC3339)", err)
		return
	}

	tr := payout.TaxRate{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Rate:          rate,
		EffectiveFrom: from,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.InsertTaxRate(r.Context(), tr); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TaxRateDTO{
		ID:            tr.ID,
		Name:          tr.Name,
		Rate:          tr.Rate.String(),
		EffectiveFrom: tr.EffectiveFrom.Format(time.RFC3339),
		Active:        tr.Active,
	})
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// CreateBatch handles POST /api/settlements.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	from, err := time.Parse(time.RFC3339, req.PeriodFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_from (want RFC3339)", err)
		return
	}
	to, err := time.Parse(time.RFC3339, req.PeriodTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_to (want RFC3339)", err)
		return
	}

	batch, err := h.Settlements.CreateBatch(r.Context(), from, to, req.CreatedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// ListBatches handles GET /api/settlements.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Settlements.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		dtos = append(dtos, toBatchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch handles GET /api/settlements/{id}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := h.Settlements.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*batch))
}

// GetBatchCalculations handles GET /api/settlements/{id}/calculations.
func (h *Handler) GetBatchCalculations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	calcs, err := h.Settlements.Calculations(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CalculationDTO, 0, len(calcs))
	for _, c := range calcs {
		dtos = append(dtos, CalculationDTO{
			ID:              c.ID,
			RevenueEventID:  c.RevenueEventID,
			CastID:          c.CastID,
			RuleID:          c.RuleID,
			PercentSnapshot: c.PercentSnapshot.String(),
			AmountJpy:       c.AmountJpy,
			CalculatedAt:    c.CalculatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveBatch handles POST /api/settlements/{id}/approve.
func (h *Handler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	var req ApproveBatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Settlements.Approve(r.Context(), id, req.ApprovedBy); err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := h.Settlements.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*batch))
}

// MarkBatchPaid handles POST /api/settlements/{id}/pay.
func (h *Handler) MarkBatchPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Settlements.MarkPaid(r.Context(), id, req.Actor); err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := h.Settlements.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*batch))
}

// =============================================================================
// INBOX ENDPOINT
// =============================================================================

// ScoreInbox handles POST /api/inbox/score. Scores every submitted
// conversation and returns them highest-priority first. Scoring orders
// the queue, it never filters: the response has one row per input row.
func (h *Handler) ScoreInbox(w http.ResponseWriter, r *http.Request) {
	var req ScoreInboxRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	scored := make([]ScoredConversationDTO, 0, len(req.Conversations))
	for _, c := range req.Conversations {
		score := inbox.ScoreWith(h.Weights, inbox.ScoreInput{
			Unreplied:           c.Unreplied,
			SentToday:           c.SentToday,
			SLARemainingMinutes: c.SLARemainingMinutes,
			PlanTierRank:        c.PlanTierRank,
			HasRisk:             c.HasRisk,
			IsPaused:            c.IsPaused,
			IsUnreported:        c.IsUnreported,
		})
		scored = append(scored, ScoredConversationDTO{
			ConversationID: c.ConversationID,
			Score:          score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	writeJSON(w, http.StatusOK, scored)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ListFailedEvents handles GET /api/admin/webhook-events/failed.
func (h *Handler) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.Gate.ListFailed(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]WebhookEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toWebhookEventDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReprocessEvent handles POST /api/admin/webhook-events/{provider}/{eventID}/reprocess.
// Re-runs the domain handler for an event stuck in the failed state. The
// ledger's reference uniqueness makes a retried credit/debit a no-op if
// the original attempt got that far.
func (h *Handler) ReprocessEvent(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	eventID := chi.URLParam(r, "eventID")

	var req PaymentWebhookRequest
	if provider == "payment" {
		if !h.decodeAndValidate(w, r, &req) {
			return
		}
		if req.EventID != eventID {
			writeError(w, http.StatusBadRequest, "Body event_id does not match URL", nil)
			return
		}
	}

	handler := func(ctx context.Context) error { return nil }
	if provider == "payment" {
		handler = func(ctx context.Context) error {
			return h.applyPaymentEvent(ctx, req)
		}
	}

	outcome, err := h.Gate.Reprocess(r.Context(), provider, eventID, handler)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAckDTO{Outcome: string(outcome)})
}

// QueryAudit handles GET /api/admin/audit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.AuditFilter{
		Action:     q.Get("action"),
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
	}
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	entries, err := h.Store.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			ID:         e.ID,
			Action:     e.Action,
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Success:    e.Success,
			Metadata:   e.Metadata,
			ActorID:    e.ActorID,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing a 400 itself on failure. Returns false if the
// handler should stop.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeDomainError maps the error taxonomy to HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case core.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case core.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case core.IsConfigError(err):
		log.Printf("ALERT missing operational configuration: %v", err)
		writeError(w, http.StatusInternalServerError, "Operational configuration missing", err)
	case errors.Is(err, core.ErrExternal):
		writeError(w, http.StatusBadGateway, "Downstream service failure", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func toRuleDTO(r payout.Rule) RuleDTO {
	dto := RuleDTO{
		ID:            r.ID,
		RuleType:      r.RuleType,
		ScopeType:     string(r.ScopeType),
		CastID:        r.CastID,
		ScopeKey:      r.ScopeKey,
		Percent:       r.Percent.String(),
		EffectiveFrom: r.EffectiveFrom.Format(time.RFC3339),
		Active:        r.Active,
	}
	if r.EffectiveTo != nil {
		dto.EffectiveTo = r.EffectiveTo.Format(time.RFC3339)
	}
	return dto
}

func toBatchDTO(b settlement.Batch) BatchDTO {
	dto := BatchDTO{
		ID:             b.ID,
		PeriodFrom:     b.PeriodFrom.Format(time.RFC3339),
		PeriodTo:       b.PeriodTo.Format(time.RFC3339),
		Status:         string(b.Status),
		TotalAmountJpy: b.TotalAmountJpy,
		CreatedBy:      b.CreatedBy,
		ApprovedBy:     b.ApprovedBy,
	}
	if b.ApprovedAt != nil {
		dto.ApprovedAt = b.ApprovedAt.Format(time.RFC3339)
	}
	if b.PaidAt != nil {
		dto.PaidAt = b.PaidAt.Format(time.RFC3339)
	}
	return dto
}

func toWebhookEventDTO(e webhook.EventRecord) WebhookEventDTO {
	dto := WebhookEventDTO{
		Provider:     e.Provider,
		EventID:      e.EventID,
		EventType:    e.EventType,
		ReceivedAt:   e.ReceivedAt.Format(time.RFC3339),
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
	}
	if e.ProcessedAt != nil {
		dto.ProcessedAt = e.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
