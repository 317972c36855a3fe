/*
audit.go - Audit trail types and best-effort emission

PURPOSE:
  Every state-changing operation in the engine emits one audit record.
  A nil ActorID signals a system/automated actor (webhook-driven), which
  distinguishes it from staff-driven actions.

BEST-EFFORT CONTRACT:
  The audit write exists for observability. Its failure must never abort
  the primary operation, but must be surfaced in logs. Use Emit() to get
  this behavior instead of calling AuditLog.Append directly.

SEE ALSO:
  - store/sqlite/sqlite.go: Persistent AuditLog implementation
*/
package core

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

// AuditEntry records one state-changing action.
type AuditEntry struct {
	ID         string
	Action     string
	TargetType string
	TargetID   string
	Success    bool
	Metadata   map[string]string
	ActorID    *string // nil = system/automated actor
	CreatedAt  time.Time
}

// Audit actions emitted by the engine.
const (
	AuditWebhookProcessed   = "webhook_processed"
	AuditWebhookFailed      = "webhook_failed"
	AuditWebhookReprocessed = "webhook_reprocessed"
	AuditPointsCredited     = "points_credited"
	AuditPointsDebited      = "points_debited"
	AuditGiftRedeemed       = "gift_redeemed"
	AuditBatchCreated       = "settlement_batch_created"
	AuditBatchApproved      = "settlement_batch_approved"
	AuditBatchPaid          = "settlement_batch_paid"
	AuditRuleCreated        = "payout_rule_created"
	AuditRuleDeactivated    = "payout_rule_deactivated"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows an audit query.
type AuditFilter struct {
	Action     string
	TargetType string
	TargetID   string
	Limit      int
}

// =============================================================================
// BEST-EFFORT EMISSION
// =============================================================================

// Emit appends an audit entry, logging (not propagating) any failure.
// A nil log is a no-op, which keeps audit wiring optional in tests.
func Emit(ctx context.Context, audit AuditLog, entry AuditEntry) {
	if audit == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := audit.Append(ctx, entry); err != nil {
		log.Printf("audit append failed for %s %s/%s: %v",
			entry.Action, entry.TargetType, entry.TargetID, err)
	}
}

// SystemActor is the ActorID for automated actions. Always nil by definition;
// this named helper makes call sites read clearly.
func SystemActor() *string { return nil }

// StaffActor wraps a staff identifier for audit attribution.
func StaffActor(id string) *string { return &id }
