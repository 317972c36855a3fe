/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  validate.Struct before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// PaymentWebhookRequest is the payment provider's event envelope. Only the
// fields the engine consumes: subscriber identity, plan identity, and
// purchase metadata.
type PaymentWebhookRequest struct {
	EventID    string `json:"event_id" validate:"required"`
	EventType  string `json:"event_type" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	PlanCode   string `json:"plan_code"`
	Points     int64  `json:"points"`
	AmountJpy  int64  `json:"amount_jpy"`
}

// MessagingWebhookRequest is the messaging platform's event envelope.
// Message content is out of scope; only identity and event type matter here.
type MessagingWebhookRequest struct {
	EventID   string `json:"event_id" validate:"required"`
	EventType string `json:"event_type" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
}

// WebhookAckDTO acknowledges an event. Always returned with HTTP 200 so
// the provider stops retrying regardless of internal outcome.
type WebhookAckDTO struct {
	Outcome string `json:"outcome"`
}

// WebhookEventDTO is one event record in the operator sweep.
type WebhookEventDTO struct {
	Provider     string `json:"provider"`
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	ReceivedAt   string `json:"received_at"`
	ProcessedAt  string `json:"processed_at,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

type BalanceDTO struct {
	EndUserID string `json:"end_user_id"`
	Balance   int64  `json:"balance"`
}

type LedgerEntryDTO struct {
	ID          int64  `json:"id"`
	EndUserID   string `json:"end_user_id"`
	DeltaPoints int64  `json:"delta_points"`
	Reason      string `json:"reason"`
	RefType     string `json:"ref_type,omitempty"`
	RefID       string `json:"ref_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedeemRequest struct {
	EndUserID    string `json:"end_user_id" validate:"required"`
	CastID       string `json:"cast_id" validate:"required"`
	GiftID       string `json:"gift_id" validate:"required"`
	GiftName     string `json:"gift_name"`
	GiftCategory string `json:"gift_category"`
	CostPoints   int64  `json:"cost_points" validate:"gte=0"`
	PriceExclTax int64  `json:"price_excl_tax" validate:"gte=0"`
}

type RedeemResultDTO struct {
	RedemptionID   string `json:"redemption_id"`
	NewBalance     int64  `json:"new_balance"`
	TaxJpy         int64  `json:"tax_jpy"`
	AmountInclTax  int64  `json:"amount_incl_tax"`
	RuleID         string `json:"rule_id"`
	PercentApplied string `json:"percent_applied"`
	PayoutAmount   int64  `json:"payout_amount_jpy"`
	RevenueEventID string `json:"revenue_event_id"`
}

// =============================================================================
// RULES AND TAX RATES
// =============================================================================

type CreateRuleRequest struct {
	RuleType      string `json:"rule_type"`
	ScopeType     string `json:"scope_type" validate:"required,oneof=global cast cast_gift cast_gift_category cast_plan"`
	CastID        string `json:"cast_id"`
	ScopeKey      string `json:"scope_key"`
	Percent       string `json:"percent" validate:"required"`
	EffectiveFrom string `json:"effective_from" validate:"required"`
	EffectiveTo   string `json:"effective_to"`
}

type RuleDTO struct {
	ID            string `json:"id"`
	RuleType      string `json:"rule_type,omitempty"`
	ScopeType     string `json:"scope_type"`
	CastID        string `json:"cast_id,omitempty"`
	ScopeKey      string `json:"scope_key,omitempty"`
	Percent       string `json:"percent"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	Active        bool   `json:"active"`
}

type CreateTaxRateRequest struct {
	Name          string `json:"name" validate:"required"`
	Rate          string `json:"rate" validate:"required"`
	EffectiveFrom string `json:"effective_from" validate:"required"`
}

type TaxRateDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Rate          string `json:"rate"`
	EffectiveFrom string `json:"effective_from"`
	Active        bool   `json:"active"`
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type CreateBatchRequest struct {
	PeriodFrom string `json:"period_from" validate:"required"`
	PeriodTo   string `json:"period_to" validate:"required"`
	CreatedBy  string `json:"created_by" validate:"required"`
}

type ApproveBatchRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
}

type MarkPaidRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type BatchDTO struct {
	ID             string `json:"id"`
	PeriodFrom     string `json:"period_from"`
	PeriodTo       string `json:"period_to"`
	Status         string `json:"status"`
	TotalAmountJpy int64  `json:"total_amount_jpy"`
	CreatedBy      string `json:"created_by"`
	ApprovedBy     string `json:"approved_by,omitempty"`
	ApprovedAt     string `json:"approved_at,omitempty"`
	PaidAt         string `json:"paid_at,omitempty"`
}

type CalculationDTO struct {
	ID              string `json:"id"`
	RevenueEventID  string `json:"revenue_event_id"`
	CastID          string `json:"cast_id"`
	RuleID          string `json:"rule_id"`
	PercentSnapshot string `json:"percent_snapshot"`
	AmountJpy       int64  `json:"amount_jpy"`
	CalculatedAt    string `json:"calculated_at"`
}

// =============================================================================
// INBOX
// =============================================================================

// ScoreConversationDTO is one conversation to rank.
type ScoreConversationDTO struct {
	ConversationID      string `json:"conversation_id" validate:"required"`
	Unreplied           bool   `json:"unreplied"`
	SentToday           bool   `json:"sent_today"`
	SLARemainingMinutes *int   `json:"sla_remaining_minutes"`
	PlanTierRank        int    `json:"plan_tier_rank"`
	HasRisk             bool   `json:"has_risk"`
	IsPaused            bool   `json:"is_paused"`
	IsUnreported        bool   `json:"is_unreported"`
}

type ScoreInboxRequest struct {
	Conversations []ScoreConversationDTO `json:"conversations" validate:"required,dive"`
}

// ScoredConversationDTO is one ranked conversation, highest score first.
type ScoredConversationDTO struct {
	ConversationID string `json:"conversation_id"`
	Score          int    `json:"score"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Success    bool              `json:"success"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ActorID    *string           `json:"actor_id"`
	CreatedAt  string            `json:"created_at"`
}
