package webhook_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/store/sqlite"
	"github.com/coachops/revenue-engine/webhook"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestGate(t *testing.T) *webhook.Gate {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return webhook.NewGate(store, store)
}

func okHandler(calls *int) webhook.Handler {
	return func(ctx context.Context) error {
		*calls++
		return nil
	}
}

// =============================================================================
// AT-MOST-ONCE DELIVERY
// =============================================================================

func TestGate_DuplicateEventNotReapplied(t *testing.T) {
	// GIVEN: A payment event already processed successfully
	// WHEN: The provider redelivers the same (provider, eventId)
	// THEN: The handler does not run again and the outcome is duplicate

	gate := newTestGate(t)
	ctx := context.Background()
	calls := 0

	outcome, err := gate.Process(ctx, "payment", "ev-1", "purchase.completed", okHandler(&calls))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)
	assert.Equal(t, 1, calls)

	outcome, err = gate.Process(ctx, "payment", "ev-1", "purchase.completed", okHandler(&calls))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, calls, "handler must not run for a duplicate")
}

func TestGate_SameEventIDDifferentProviderIsIndependent(t *testing.T) {
	// Uniqueness is (provider, eventId), not eventId alone.
	gate := newTestGate(t)
	ctx := context.Background()
	calls := 0

	_, err := gate.Process(ctx, "payment", "ev-1", "x", okHandler(&calls))
	require.NoError(t, err)
	_, err = gate.Process(ctx, "messaging", "ev-1", "y", okHandler(&calls))
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestGate_RequiresProviderAndEventID(t *testing.T) {
	gate := newTestGate(t)

	_, err := gate.Process(context.Background(), "", "ev-1", "x", okHandler(new(int)))
	assert.True(t, core.IsValidation(err))

	_, err = gate.Process(context.Background(), "payment", "", "x", okHandler(new(int)))
	assert.True(t, core.IsValidation(err))
}

// =============================================================================
// FAILURE RECORDING
// =============================================================================

func TestGate_HandlerFailureRecordedNotPropagated(t *testing.T) {
	// GIVEN: A handler that fails
	// WHEN: Processing the event
	// THEN: The outcome is failed with a nil error (caller must still ACK),
	//       and the failure is visible in the failed-event sweep

	gate := newTestGate(t)
	ctx := context.Background()

	outcome, err := gate.Process(ctx, "payment", "ev-bad", "purchase.completed", func(ctx context.Context) error {
		return errors.New("downstream exploded")
	})
	require.NoError(t, err, "handler failure must not surface as a gate error")
	assert.Equal(t, webhook.OutcomeFailed, outcome)

	failed, err := gate.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "ev-bad", failed[0].EventID)
	assert.Contains(t, failed[0].ErrorMessage, "downstream exploded")
	require.NotNil(t, failed[0].Success)
	assert.False(t, *failed[0].Success)
}

func TestGate_FailedEventNotAutoRetriedOnRedelivery(t *testing.T) {
	// GIVEN: An event whose first attempt failed
	// WHEN: The provider redelivers it
	// THEN: The redelivery is a duplicate; recovery is the reprocess path,
	//       never an implicit retry

	gate := newTestGate(t)
	ctx := context.Background()
	calls := 0

	_, err := gate.Process(ctx, "payment", "ev-bad", "x", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.NoError(t, err)

	outcome, err := gate.Process(ctx, "payment", "ev-bad", "x", okHandler(&calls))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, calls)
}

func TestGate_PanickingHandlerRecordedAsFailure(t *testing.T) {
	gate := newTestGate(t)
	ctx := context.Background()

	outcome, err := gate.Process(ctx, "payment", "ev-panic", "x", func(ctx context.Context) error {
		panic("nil map write")
	})
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeFailed, outcome)

	failed, err := gate.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "panic")
}

// =============================================================================
// REPROCESSING
// =============================================================================

func TestGate_ReprocessRecoversFailedEvent(t *testing.T) {
	// GIVEN: An event stuck in the failed state
	// WHEN: An operator reprocesses it with a now-working handler
	// THEN: The handler runs, the record flips to success, and the event
	//       leaves the failed sweep

	gate := newTestGate(t)
	ctx := context.Background()

	_, err := gate.Process(ctx, "payment", "ev-stuck", "x", func(ctx context.Context) error {
		return errors.New("transient")
	})
	require.NoError(t, err)

	calls := 0
	outcome, err := gate.Reprocess(ctx, "payment", "ev-stuck", okHandler(&calls))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, outcome)
	assert.Equal(t, 1, calls)

	failed, err := gate.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestGate_ReprocessRefusesUnknownEvent(t *testing.T) {
	gate := newTestGate(t)

	_, err := gate.Reprocess(context.Background(), "payment", "no-such", okHandler(new(int)))
	assert.True(t, core.IsNotFound(err))
}

func TestGate_ReprocessRefusesSuccessfulEvent(t *testing.T) {
	gate := newTestGate(t)
	ctx := context.Background()

	_, err := gate.Process(ctx, "payment", "ev-ok", "x", okHandler(new(int)))
	require.NoError(t, err)

	_, err = gate.Reprocess(ctx, "payment", "ev-ok", okHandler(new(int)))
	assert.True(t, core.IsConflict(err))
}
