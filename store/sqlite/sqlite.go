/*
Package sqlite provides the SQLite-backed implementation of every storage
interface in the engine.

PURPOSE:
  One Store implements ledger.Store, webhook.RecordStore, settlement.Store,
  core.AuditLog and the redemption orchestrator's sources. In production
  the same patterns apply to PostgreSQL - only minor dialect differences.

UNIQUENESS AS CORRECTNESS:
  The unique constraints here are load-bearing correctness mechanisms,
  not data hygiene:
  - webhook_events PRIMARY KEY (provider, event_id): the at-most-once
    guarantee for inbound events
  - ledger_entries UNIQUE (ref_type, ref_id, reason): idempotent
    redemption/refund application under retry
  - payout_calculations UNIQUE (revenue_event_id, cast_id): exactly one
    calculation per revenue event and cast
  Batch exclusivity needs no index: stamping settlement_batch_id makes
  the claim query exclude already-claimed rows.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch ledger_entries or revenue_events.
  Corrections are compensating entries. Webhook records get exactly one
  completion update; payout rules are soft-deactivated, never deleted.

CONCURRENCY:
  sync.RWMutex for in-process safety; SQLite WAL mode for readers not
  blocking the single writer. With PostgreSQL, database-level concurrency
  control replaces the mutex.

SEE ALSO:
  - ledger/ledger.go, webhook/gate.go, settlement/settlement.go:
    The interfaces implemented here
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/payout"
	"github.com/coachops/revenue-engine/redemption"
	"github.com/coachops/revenue-engine/settlement"
	"github.com/coachops/revenue-engine/webhook"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and a :memory:
	// database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Inbound provider events (idempotency gate bookkeeping)
	-- The composite primary key IS the deduplication mechanism.
	CREATE TABLE IF NOT EXISTS webhook_events (
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		received_at TEXT NOT NULL,
		processed_at TEXT,
		success BOOLEAN,
		error_message TEXT,
		PRIMARY KEY (provider, event_id)
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_events_failed
		ON webhook_events(success) WHERE success = FALSE;

	-- Point ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		end_user_id TEXT NOT NULL,
		delta_points INTEGER NOT NULL,
		reason TEXT NOT NULL,
		ref_type TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(end_user_id);

	-- CRITICAL: one entry per (ref, reason). A redemption debit and its
	-- refund credit share a ref_id but differ in reason; a second
	-- identical debit for the same ref is rejected here, not in code.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_ref
		ON ledger_entries(ref_type, ref_id, reason)
		WHERE ref_id != '';

	-- Revenue-share rules (soft-deactivated, never deleted)
	CREATE TABLE IF NOT EXISTS payout_rules (
		id TEXT PRIMARY KEY,
		rule_type TEXT NOT NULL DEFAULT '',
		scope_type TEXT NOT NULL,
		cast_id TEXT NOT NULL DEFAULT '',
		scope_key TEXT NOT NULL DEFAULT '',
		percent TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payout_rules_scope
		ON payout_rules(scope_type, cast_id, scope_key);

	-- Tax rates
	CREATE TABLE IF NOT EXISTS tax_rates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rate TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Revenue events (immutable)
	CREATE TABLE IF NOT EXISTS revenue_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		end_user_id TEXT NOT NULL,
		cast_id TEXT NOT NULL DEFAULT '',
		occurred_on TEXT NOT NULL,
		amount_excl_tax INTEGER NOT NULL,
		tax_rate_id TEXT NOT NULL,
		tax_jpy INTEGER NOT NULL,
		amount_incl_tax INTEGER NOT NULL,
		source_ref_type TEXT NOT NULL,
		source_ref_id TEXT NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_revenue_events_source
		ON revenue_events(source_ref_type, source_ref_id, event_type);

	-- Payout calculations
	-- CRITICAL: exactly one calculation per (revenue event, cast).
	CREATE TABLE IF NOT EXISTS payout_calculations (
		id TEXT PRIMARY KEY,
		revenue_event_id TEXT NOT NULL,
		cast_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		percent_snapshot TEXT NOT NULL,
		amount_jpy INTEGER NOT NULL,
		calculated_at TEXT NOT NULL,
		settlement_batch_id TEXT,
		UNIQUE (revenue_event_id, cast_id)
	);

	CREATE INDEX IF NOT EXISTS idx_payout_calculations_unbatched
		ON payout_calculations(calculated_at) WHERE settlement_batch_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_payout_calculations_batch
		ON payout_calculations(settlement_batch_id);

	-- Redemptions (anchor rows)
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		end_user_id TEXT NOT NULL,
		cast_id TEXT NOT NULL,
		gift_id TEXT NOT NULL,
		gift_name TEXT NOT NULL DEFAULT '',
		gift_category TEXT NOT NULL DEFAULT '',
		cost_points INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_user_created
		ON redemptions(end_user_id, created_at);

	-- Settlement batches
	CREATE TABLE IF NOT EXISTS settlement_batches (
		id TEXT PRIMARY KEY,
		period_from TEXT NOT NULL,
		period_to TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		total_amount_jpy INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		paid_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlement_batches_status
		ON settlement_batches(status);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		metadata_json TEXT,
		actor_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_target
		ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WEBHOOK EVENT STORE (webhook.RecordStore interface)
// =============================================================================

// InsertEvent creates the event record. The (provider, event_id) primary
// key arbitrates concurrent delivery of the same event.
func (s *Store) InsertEvent(ctx context.Context, rec webhook.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, received_at)
		 VALUES (?, ?, ?, ?)`,
		rec.Provider, rec.EventID, rec.EventType,
		rec.ReceivedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

// CompleteEvent marks the record processed. The single permitted update.
func (s *Store) CompleteEvent(ctx context.Context, provider, eventID string, success bool, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events
		 SET processed_at = ?, success = ?, error_message = ?
		 WHERE provider = ? AND event_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), success, nullString(errorMessage),
		provider, eventID,
	)
	return err
}

// GetEvent returns the record, or nil if absent.
func (s *Store) GetEvent(ctx context.Context, provider, eventID string) (*webhook.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, event_id, event_type, received_at, processed_at, success, error_message
		 FROM webhook_events WHERE provider = ? AND event_id = ?`,
		provider, eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanEventRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListFailedEvents returns stuck events for the operator sweep.
func (s *Store) ListFailedEvents(ctx context.Context, limit int) ([]webhook.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, event_id, event_type, received_at, processed_at, success, error_message
		 FROM webhook_events WHERE success = FALSE
		 ORDER BY received_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []webhook.EventRecord
	for rows.Next() {
		rec, err := scanEventRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanEventRecord(rows *sql.Rows) (webhook.EventRecord, error) {
	var (
		rec          webhook.EventRecord
		receivedAt   string
		processedAt  sql.NullString
		success      sql.NullBool
		errorMessage sql.NullString
	)
	if err := rows.Scan(&rec.Provider, &rec.EventID, &rec.EventType,
		&receivedAt, &processedAt, &success, &errorMessage); err != nil {
		return rec, fmt.Errorf("failed to scan webhook event: %w", err)
	}

	rec.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, processedAt.String)
		rec.ProcessedAt = &t
	}
	if success.Valid {
		v := success.Bool
		rec.Success = &v
	}
	rec.ErrorMessage = errorMessage.String
	return rec, nil
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// AppendEntry persists one ledger entry. The ONLY write on the ledger.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (end_user_id, delta_points, reason, ref_type, ref_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EndUserID, e.DeltaPoints, string(e.Reason), e.RefType, e.RefID,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, core.ErrDuplicateReference
		}
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return res.LastInsertId()
}

// SumDeltas derives the balance: SUM over all of the user's entries.
func (s *Store) SumDeltas(ctx context.Context, endUserID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(delta_points), 0) FROM ledger_entries WHERE end_user_id = ?",
		endUserID,
	).Scan(&sum)
	return sum, err
}

// EntriesByUser returns the user's full history, oldest first.
func (s *Store) EntriesByUser(ctx context.Context, endUserID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, end_user_id, delta_points, reason, ref_type, ref_id, created_at
		 FROM ledger_entries WHERE end_user_id = ?
		 ORDER BY id ASC`,
		endUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			reason    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EndUserID, &e.DeltaPoints, &reason, &e.RefType, &e.RefID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = ledger.Reason(reason)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYOUT RULE STORE
// =============================================================================

// InsertRule creates a rule. Rules are immutable once created.
func (s *Store) InsertRule(ctx context.Context, r payout.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var effectiveTo *string
	if r.EffectiveTo != nil {
		t := r.EffectiveTo.Format(time.RFC3339Nano)
		effectiveTo = &t
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payout_rules
		 (id, rule_type, scope_type, cast_id, scope_key, percent, effective_from, effective_to, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RuleType, string(r.ScopeType), r.CastID, r.ScopeKey,
		r.Percent.String(), r.EffectiveFrom.Format(time.RFC3339Nano), effectiveTo,
		r.Active, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ActiveRules returns all active rules. Window filtering happens in the
// resolver, which also needs rules whose window opens in the future.
func (s *Store) ActiveRules(ctx context.Context) ([]payout.Rule, error) {
	return s.queryRules(ctx,
		`SELECT id, rule_type, scope_type, cast_id, scope_key, percent, effective_from, effective_to, active, created_at
		 FROM payout_rules WHERE active = TRUE ORDER BY created_at ASC`)
}

// ListRules returns every rule, active or not (admin view).
func (s *Store) ListRules(ctx context.Context) ([]payout.Rule, error) {
	return s.queryRules(ctx,
		`SELECT id, rule_type, scope_type, cast_id, scope_key, percent, effective_from, effective_to, active, created_at
		 FROM payout_rules ORDER BY created_at ASC`)
}

// DeactivateRule is the soft delete: active=false, row preserved for audit.
func (s *Store) DeactivateRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE payout_rules SET active = FALSE WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: payout rule %s", core.ErrNotFound, id)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]payout.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []payout.Rule
	for rows.Next() {
		var (
			r             payout.Rule
			scopeType     string
			percent       string
			effectiveFrom string
			effectiveTo   sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&r.ID, &r.RuleType, &scopeType, &r.CastID, &r.ScopeKey,
			&percent, &effectiveFrom, &effectiveTo, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout rule: %w", err)
		}
		r.ScopeType = payout.ScopeType(scopeType)
		r.Percent = mustParseDecimal(percent)
		r.EffectiveFrom, _ = time.Parse(time.RFC3339Nano, effectiveFrom)
		if effectiveTo.Valid {
			t, _ := time.Parse(time.RFC3339Nano, effectiveTo.String)
			r.EffectiveTo = &t
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// TAX RATE STORE
// =============================================================================

func (s *Store) InsertTaxRate(ctx context.Context, r payout.TaxRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tax_rates (id, name, rate, effective_from, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Rate.String(), r.EffectiveFrom.Format(time.RFC3339Nano),
		r.Active, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// TaxRates returns all rates; resolution picks the applicable one.
func (s *Store) TaxRates(ctx context.Context) ([]payout.TaxRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, rate, effective_from, active, created_at
		 FROM tax_rates ORDER BY effective_from ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []payout.TaxRate
	for rows.Next() {
		var (
			r             payout.TaxRate
			rate          string
			effectiveFrom string
			createdAt     string
		)
		if err := rows.Scan(&r.ID, &r.Name, &rate, &effectiveFrom, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tax rate: %w", err)
		}
		r.Rate = mustParseDecimal(rate)
		r.EffectiveFrom, _ = time.Parse(time.RFC3339Nano, effectiveFrom)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// REVENUE STORE (redemption.RevenueStore interface)
// =============================================================================

func (s *Store) SaveRevenueEvent(ctx context.Context, ev payout.RevenueEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, _ := json.Marshal(ev.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revenue_events
		 (id, event_type, end_user_id, cast_id, occurred_on, amount_excl_tax, tax_rate_id,
		  tax_jpy, amount_incl_tax, source_ref_type, source_ref_id, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.EndUserID, ev.CastID,
		ev.OccurredOn.Format(time.RFC3339Nano),
		ev.AmountExclTax, ev.TaxRateID, ev.TaxJpy, ev.AmountInclTax,
		ev.SourceRefType, ev.SourceRefID, string(metadataJSON),
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: revenue event for %s/%s already recorded",
				core.ErrConflict, ev.SourceRefType, ev.SourceRefID)
		}
		return fmt.Errorf("failed to insert revenue event: %w", err)
	}
	return nil
}

func (s *Store) SaveCalculation(ctx context.Context, c payout.Calculation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payout_calculations
		 (id, revenue_event_id, cast_id, rule_id, percent_snapshot, amount_jpy, calculated_at, settlement_batch_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RevenueEventID, c.CastID, c.RuleID,
		c.PercentSnapshot.String(), c.AmountJpy,
		c.CalculatedAt.Format(time.RFC3339Nano), c.SettlementBatchID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: calculation for event %s and cast %s already exists",
				core.ErrConflict, c.RevenueEventID, c.CastID)
		}
		return fmt.Errorf("failed to insert payout calculation: %w", err)
	}
	return nil
}

// =============================================================================
// REDEMPTION STORE (redemption.RedemptionStore interface)
// =============================================================================

func (s *Store) SaveRedemption(ctx context.Context, r redemption.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO redemptions
		 (id, end_user_id, cast_id, gift_id, gift_name, gift_category, cost_points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EndUserID, r.CastID, r.GiftID, r.GiftName, r.GiftCategory,
		r.CostPoints, r.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) CountRedemptionsSince(ctx context.Context, endUserID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM redemptions WHERE end_user_id = ? AND created_at >= ?",
		endUserID, since.Format(time.RFC3339Nano),
	).Scan(&count)
	return count, err
}

// =============================================================================
// SETTLEMENT STORE (settlement.Store interface)
// =============================================================================

func (s *Store) InsertBatch(ctx context.Context, b settlement.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlement_batches
		 (id, period_from, period_to, status, total_amount_jpy, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PeriodFrom.Format(time.RFC3339Nano), b.PeriodTo.Format(time.RFC3339Nano),
		string(b.Status), b.TotalAmountJpy, b.CreatedBy,
		b.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// ClaimCalculations stamps unbatched calculations in [from, to] with the
// batch ID. The WHERE settlement_batch_id IS NULL clause is what makes
// re-running creation over an overlapping period exclude rows a previous
// batch already claimed.
func (s *Store) ClaimCalculations(ctx context.Context, batchID string, from, to time.Time) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE payout_calculations
		 SET settlement_batch_id = ?
		 WHERE settlement_batch_id IS NULL
		   AND calculated_at >= ? AND calculated_at <= ?`,
		batchID, from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to claim calculations: %w", err)
	}
	claimed, _ := res.RowsAffected()

	var total int64
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount_jpy), 0) FROM payout_calculations WHERE settlement_batch_id = ?",
		batchID,
	).Scan(&total)
	if err != nil {
		return int(claimed), 0, err
	}
	return int(claimed), total, nil
}

func (s *Store) SetBatchTotal(ctx context.Context, batchID string, totalJpy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE settlement_batches SET total_amount_jpy = ? WHERE id = ?",
		totalJpy, batchID,
	)
	return err
}

// TransitionBatch advances the state machine with a conditional update:
// the status predicate in the WHERE clause means a wrong-state attempt
// affects zero rows and mutates nothing.
func (s *Store) TransitionBatch(ctx context.Context, id string, from, to settlement.Status, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	switch to {
	case settlement.StatusApproved:
		res, err = s.db.ExecContext(ctx,
			`UPDATE settlement_batches
			 SET status = ?, approved_by = ?, approved_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), actor, at.Format(time.RFC3339Nano), id, string(from),
		)
	case settlement.StatusPaid:
		res, err = s.db.ExecContext(ctx,
			`UPDATE settlement_batches
			 SET status = ?, paid_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), at.Format(time.RFC3339Nano), id, string(from),
		)
	default:
		return fmt.Errorf("%w: no transition targets %s", core.ErrValidation, to)
	}
	if err != nil {
		return fmt.Errorf("failed to transition batch: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		var current string
		scanErr := s.db.QueryRowContext(ctx,
			"SELECT status FROM settlement_batches WHERE id = ?", id,
		).Scan(&current)
		if scanErr == sql.ErrNoRows {
			return fmt.Errorf("%w: settlement batch %s", core.ErrNotFound, id)
		}
		if scanErr != nil {
			return scanErr
		}
		return &core.TransitionError{BatchID: id, Current: current, Target: string(to)}
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*settlement.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectBatch+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBatch(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context) ([]settlement.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectBatch+" ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []settlement.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

const selectBatch = `
	SELECT id, period_from, period_to, status, total_amount_jpy,
	       created_by, approved_by, approved_at, paid_at, created_at
	FROM settlement_batches`

func scanBatch(rows *sql.Rows) (settlement.Batch, error) {
	var (
		b          settlement.Batch
		status     string
		periodFrom string
		periodTo   string
		approvedAt sql.NullString
		paidAt     sql.NullString
		createdAt  string
	)
	if err := rows.Scan(&b.ID, &periodFrom, &periodTo, &status, &b.TotalAmountJpy,
		&b.CreatedBy, &b.ApprovedBy, &approvedAt, &paidAt, &createdAt); err != nil {
		return b, fmt.Errorf("failed to scan settlement batch: %w", err)
	}
	b.Status = settlement.Status(status)
	b.PeriodFrom, _ = time.Parse(time.RFC3339Nano, periodFrom)
	b.PeriodTo, _ = time.Parse(time.RFC3339Nano, periodTo)
	if approvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, approvedAt.String)
		b.ApprovedAt = &t
	}
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, paidAt.String)
		b.PaidAt = &t
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return b, nil
}

func (s *Store) CalculationsForBatch(ctx context.Context, batchID string) ([]payout.Calculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, revenue_event_id, cast_id, rule_id, percent_snapshot, amount_jpy, calculated_at, settlement_batch_id
		 FROM payout_calculations WHERE settlement_batch_id = ?
		 ORDER BY calculated_at ASC`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calcs []payout.Calculation
	for rows.Next() {
		var (
			c            payout.Calculation
			percent      string
			calculatedAt string
			batch        sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.RevenueEventID, &c.CastID, &c.RuleID,
			&percent, &c.AmountJpy, &calculatedAt, &batch); err != nil {
			return nil, fmt.Errorf("failed to scan payout calculation: %w", err)
		}
		c.PercentSnapshot = mustParseDecimal(percent)
		c.CalculatedAt, _ = time.Parse(time.RFC3339Nano, calculatedAt)
		if batch.Valid {
			v := batch.String
			c.SettlementBatchID = &v
		}
		calcs = append(calcs, c)
	}
	return calcs, rows.Err()
}

// =============================================================================
// AUDIT LOG (core.AuditLog interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entry.ID
	if id == "" {
		id = fmt.Sprintf("audit-%d", time.Now().UTC().UnixNano())
	}
	metadataJSON, _ := json.Marshal(entry.Metadata)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, target_type, target_id, success, metadata_json, actor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, entry.Action, entry.TargetType, entry.TargetID, entry.Success,
		string(metadataJSON), entry.ActorID,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) Query(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []any
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.TargetType != "" {
		clauses = append(clauses, "target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, filter.TargetID)
	}

	query := "SELECT id, action, target_type, target_id, success, metadata_json, actor_id, created_at FROM audit_log"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		var (
			e            core.AuditEntry
			metadataJSON sql.NullString
			actorID      sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.TargetType, &e.TargetID, &e.Success,
			&metadataJSON, &actorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		if actorID.Valid {
			v := actorID.String
			e.ActorID = &v
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"webhook_events", "ledger_entries", "payout_rules", "tax_rates",
		"revenue_events", "payout_calculations", "redemptions",
		"settlement_batches", "audit_log",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
