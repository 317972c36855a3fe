package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *ledger.Ledger {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.New(store)
}

// =============================================================================
// BALANCE DERIVATION
// =============================================================================

func TestLedger_BalanceIsSumOfDeltas(t *testing.T) {
	// GIVEN: Credits and debits appended in arbitrary order
	// WHEN: Reading the balance
	// THEN: It equals the sum of all deltas; there is no stored balance to drift

	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-1", 1000, ledger.ReasonPurchase, "payment_event", "ev-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", -300, ledger.ReasonGiftRedeem, "redemption", "red-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", 500, ledger.ReasonPurchase, "payment_event", "ev-2")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", -200, ledger.ReasonRefund, "payment_event", "ev-3")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestLedger_EmptyUserHasZeroBalance(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedger_BalancesAreIsolatedByUser(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-a", 100, ledger.ReasonPurchase, "payment_event", "ev-a")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-b", 700, ledger.ReasonPurchase, "payment_event", "ev-b")
	require.NoError(t, err)

	a, err := l.Balance(ctx, "user-a")
	require.NoError(t, err)
	b, err := l.Balance(ctx, "user-b")
	require.NoError(t, err)

	assert.Equal(t, int64(100), a)
	assert.Equal(t, int64(700), b)
}

// =============================================================================
// REFERENCE UNIQUENESS
// =============================================================================

func TestLedger_DuplicateReferenceRejected(t *testing.T) {
	// GIVEN: A debit already recorded for (redemption, red-1, gift_redeem)
	// WHEN: Appending the same reference again (retry after timeout)
	// THEN: The second append fails and the balance reflects one debit only

	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-1", 1000, ledger.ReasonPurchase, "payment_event", "ev-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", -300, ledger.ReasonGiftRedeem, "redemption", "red-1")
	require.NoError(t, err)

	_, err = l.Append(ctx, "user-1", -300, ledger.ReasonGiftRedeem, "redemption", "red-1")
	assert.True(t, errors.Is(err, core.ErrDuplicateReference))
	assert.True(t, core.IsConflict(err))

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)
}

func TestLedger_SameRefDifferentReasonAllowed(t *testing.T) {
	// GIVEN: A purchase credit for payment event ev-1
	// WHEN: A refund debit later references the same event
	// THEN: Both entries coexist; uniqueness is per (refType, refId, reason)

	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-1", 500, ledger.ReasonPurchase, "payment_event", "ev-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", -500, ledger.ReasonRefund, "payment_event", "ev-1")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedger_EmptyRefNotDeduplicated(t *testing.T) {
	// GIVEN: Two manual adjustments with no reference
	// WHEN: Both are appended
	// THEN: Both land; empty references carry no uniqueness claim

	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-1", 50, ledger.ReasonAdminAdjust, "", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", 50, ledger.ReasonAdminAdjust, "", "")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_RejectsInvalidInput(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "", 100, ledger.ReasonPurchase, "", "")
	assert.True(t, core.IsValidation(err), "empty user")

	_, err = l.Append(ctx, "user-1", 0, ledger.ReasonPurchase, "", "")
	assert.True(t, core.IsValidation(err), "zero delta")

	_, err = l.Append(ctx, "user-1", 100, ledger.Reason("bogus"), "", "")
	assert.True(t, core.IsValidation(err), "unknown reason")
}

// =============================================================================
// HISTORY
// =============================================================================

func TestLedger_EntriesReturnedOldestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "user-1", 100, ledger.ReasonPurchase, "payment_event", "ev-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, "user-1", -30, ledger.ReasonGiftRedeem, "redemption", "red-1")
	require.NoError(t, err)

	entries, err := l.Entries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// IDs are monotonic; oldest first means ascending IDs.
	assert.Less(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, ledger.ReasonPurchase, entries[0].Reason)
	assert.Equal(t, int64(-30), entries[1].DeltaPoints)
}
