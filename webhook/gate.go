/*
gate.go - Idempotency gate for inbound provider events

PURPOSE:
  Deduplicates inbound payment and messaging provider events so each is
  applied at most once despite provider retries. The sole deduplication
  mechanism is a unique (provider, eventId) constraint enforced by the
  store - no in-memory cache. Under concurrent delivery of the same event
  from two processes, the store, not the application, arbitrates the race.

ALGORITHM:
  1. Insert an EventRecord keyed by (provider, eventId)
  2. Unique violation -> return Duplicate WITHOUT invoking the handler
  3. Insert succeeded -> invoke the handler
  4. Handler success  -> mark the record success=true
  5. Handler failure  -> mark success=false with the captured message and
     return Failed; the handler error is recorded, never re-thrown, so
     the webhook endpoint can always send a definitive ACK and avoid
     provider-side retry storms

KNOWN LIMITATION (explicit, by inheritance):
  A redelivery of an event whose prior attempt failed is NOT automatically
  retried - the unique-key insert fails at the first statement. Failed
  events require the out-of-band path: ListFailed for the operator sweep
  and Reprocess to run the handler again against the existing record.

SEE ALSO:
  - store/sqlite/sqlite.go: EventRecord persistence and the unique key
  - api/handlers.go: Webhook endpoints that always ACK
*/
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coachops/revenue-engine/core"
)

// =============================================================================
// EVENT RECORD
// =============================================================================

// EventRecord tracks one inbound provider event. Created on first sight,
// updated once on handler completion, never deleted.
type EventRecord struct {
	Provider     string
	EventID      string
	EventType    string
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
	Success      *bool // nil until the handler has run
	ErrorMessage string
}

// Outcome is the result of routing an event through the gate.
type Outcome string

const (
	// OutcomeProcessed means the handler ran and succeeded.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate means the event was seen before; the handler did not run.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed means the handler ran and failed; the failure is recorded
	// on the event record for the out-of-band sweep.
	OutcomeFailed Outcome = "failed"
)

// Handler applies the domain effect of one event.
type Handler func(ctx context.Context) error

// RecordStore persists event records. The Insert uniqueness on
// (provider, eventId) is the load-bearing correctness mechanism.
type RecordStore interface {
	// InsertEvent creates the record. Returns core.ErrDuplicateEvent when
	// (provider, eventId) already exists.
	InsertEvent(ctx context.Context, rec EventRecord) error

	// CompleteEvent marks the record processed. Called exactly once per
	// handler run.
	CompleteEvent(ctx context.Context, provider, eventID string, success bool, errorMessage string) error

	// GetEvent returns the record, or nil if absent.
	GetEvent(ctx context.Context, provider, eventID string) (*EventRecord, error)

	// ListFailedEvents returns records with success=false for the operator sweep.
	ListFailedEvents(ctx context.Context, limit int) ([]EventRecord, error)
}

// =============================================================================
// GATE
// =============================================================================

// Gate wraps a handler with before/after event bookkeeping.
type Gate struct {
	records RecordStore
	audit   core.AuditLog
}

func NewGate(records RecordStore, audit core.AuditLog) *Gate {
	return &Gate{records: records, audit: audit}
}

// Process applies handler at most once for (provider, eventID).
//
// The returned error is non-nil only for bookkeeping failures (the insert
// itself failing for a non-duplicate reason). A handler failure yields
// (OutcomeFailed, nil): it is persisted on the record, not propagated,
// because the caller must always ACK the provider.
func (g *Gate) Process(ctx context.Context, provider, eventID, eventType string, handler Handler) (Outcome, error) {
	if provider == "" || eventID == "" {
		return OutcomeFailed, fmt.Errorf("%w: provider and event id are required", core.ErrValidation)
	}

	rec := EventRecord{
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now().UTC(),
	}
	if err := g.records.InsertEvent(ctx, rec); err != nil {
		if errors.Is(err, core.ErrDuplicateEvent) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("%w: recording webhook event: %v", core.ErrUnknown, err)
	}

	return g.run(ctx, provider, eventID, eventType, handler, core.AuditWebhookProcessed, core.AuditWebhookFailed)
}

// Reprocess runs the handler again for an event whose prior attempt failed.
// This is the out-of-band path for stuck events; it refuses to touch
// unknown or already-successful events.
func (g *Gate) Reprocess(ctx context.Context, provider, eventID string, handler Handler) (Outcome, error) {
	rec, err := g.records.GetEvent(ctx, provider, eventID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: loading webhook event: %v", core.ErrUnknown, err)
	}
	if rec == nil {
		return OutcomeFailed, fmt.Errorf("%w: webhook event %s/%s", core.ErrNotFound, provider, eventID)
	}
	if rec.Success == nil || *rec.Success {
		return OutcomeFailed, fmt.Errorf("%w: event %s/%s is not in a failed state", core.ErrConflict, provider, eventID)
	}

	return g.run(ctx, provider, eventID, rec.EventType, handler, core.AuditWebhookReprocessed, core.AuditWebhookFailed)
}

// ListFailed exposes the operator sweep over stuck events.
func (g *Gate) ListFailed(ctx context.Context, limit int) ([]EventRecord, error) {
	return g.records.ListFailedEvents(ctx, limit)
}

func (g *Gate) run(ctx context.Context, provider, eventID, eventType string, handler Handler, okAction, failAction string) (Outcome, error) {
	handlerErr := invoke(ctx, handler)

	success := handlerErr == nil
	message := ""
	if handlerErr != nil {
		message = handlerErr.Error()
	}
	if err := g.records.CompleteEvent(ctx, provider, eventID, success, message); err != nil {
		log.Printf("webhook: completing event %s/%s: %v", provider, eventID, err)
	}

	action := okAction
	if !success {
		action = failAction
	}
	core.Emit(ctx, g.audit, core.AuditEntry{
		Action:     action,
		TargetType: "webhook_event",
		TargetID:   provider + "/" + eventID,
		Success:    success,
		Metadata:   map[string]string{"event_type": eventType, "error": message},
		ActorID:    core.SystemActor(),
	})

	if !success {
		return OutcomeFailed, nil
	}
	return OutcomeProcessed, nil
}

// invoke runs the handler, converting a panic into an error so a broken
// handler is recorded on the event instead of crossing the gate.
func invoke(ctx context.Context, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx)
}
