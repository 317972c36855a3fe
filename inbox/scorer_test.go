package inbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coachops/revenue-engine/inbox"
)

func minutes(n int) *int { return &n }

// =============================================================================
// TIER DOMINANCE
// =============================================================================

func TestScore_UnrepliedAlwaysBeatsNotSentToday(t *testing.T) {
	// GIVEN: An unreplied conversation with every within-tier factor at its
	//        minimum, and a not-sent-today conversation maxed out
	// WHEN: Scoring both
	// THEN: The unreplied one still ranks higher; tiers never interleave

	worstUnreplied := inbox.Score(inbox.ScoreInput{
		Unreplied:           true,
		SLARemainingMinutes: minutes(100000), // deadline far away, zero urgency
		PlanTierRank:        0,
	})
	bestNotSent := inbox.Score(inbox.ScoreInput{
		SentToday:    false,
		PlanTierRank: 20,
		HasRisk:      true,
		IsUnreported: true,
	})

	assert.Greater(t, worstUnreplied, bestNotSent)
}

func TestScore_NotSentTodayBeatsRepliedToday(t *testing.T) {
	notSent := inbox.Score(inbox.ScoreInput{SentToday: false})
	replied := inbox.Score(inbox.ScoreInput{SentToday: true, HasRisk: true, IsUnreported: true})

	assert.Greater(t, notSent, replied)
}

func TestScore_RepliedTodayNoModifiersIsZero(t *testing.T) {
	assert.Equal(t, 0, inbox.Score(inbox.ScoreInput{SentToday: true}))
}

// =============================================================================
// SLA URGENCY
// =============================================================================

func TestScore_LessSLATimeMeansHigherScore(t *testing.T) {
	// Urgency grows as the deadline approaches and caps when overdue.
	base := inbox.ScoreInput{Unreplied: true}

	far := base
	far.SLARemainingMinutes = minutes(1200)
	near := base
	near.SLARemainingMinutes = minutes(60)
	overdue := base
	overdue.SLARemainingMinutes = minutes(-30)
	wayOverdue := base
	wayOverdue.SLARemainingMinutes = minutes(-99999)

	assert.Greater(t, inbox.Score(near), inbox.Score(far))
	assert.Greater(t, inbox.Score(overdue), inbox.Score(near))
	assert.Equal(t, inbox.Score(wayOverdue), inbox.Score(overdue),
		"urgency is clamped at the window size")
}

func TestScore_NilSLAContributesNothing(t *testing.T) {
	// GIVEN: Twin unreplied conversations, one with no SLA, one with the
	//        deadline exactly at the window edge
	// WHEN: Scoring both
	// THEN: They tie; a missing SLA is zero urgency, not an error

	noSLA := inbox.Score(inbox.ScoreInput{Unreplied: true})
	edge := inbox.Score(inbox.ScoreInput{Unreplied: true, SLARemainingMinutes: minutes(1440)})

	assert.Equal(t, edge, noSLA)
}

// =============================================================================
// MODIFIERS
// =============================================================================

func TestScore_RiskAddsFixedBonus(t *testing.T) {
	// Twin conversations differing only in hasRisk differ by exactly 500.
	plain := inbox.ScoreInput{Unreplied: true, SLARemainingMinutes: minutes(300), PlanTierRank: 2}
	risky := plain
	risky.HasRisk = true

	assert.Equal(t, inbox.Score(plain)+500, inbox.Score(risky))
}

func TestScore_PausedCanGoNegative(t *testing.T) {
	// A paused, replied-today conversation sinks below zero and therefore
	// below every active conversation. Ordering signal, not a filter.
	score := inbox.Score(inbox.ScoreInput{SentToday: true, IsPaused: true})
	assert.Negative(t, score)
}

func TestScore_UnreportedAddsSmallBonus(t *testing.T) {
	plain := inbox.ScoreInput{SentToday: false}
	unreported := plain
	unreported.IsUnreported = true

	assert.Equal(t, inbox.Score(plain)+150, inbox.Score(unreported))
}

func TestScore_PlanTierIsMonotonic(t *testing.T) {
	low := inbox.Score(inbox.ScoreInput{Unreplied: true, PlanTierRank: 1})
	high := inbox.Score(inbox.ScoreInput{Unreplied: true, PlanTierRank: 3})

	assert.Greater(t, high, low)
}

// =============================================================================
// CUSTOM WEIGHTS
// =============================================================================

func TestScoreWith_CustomWeights(t *testing.T) {
	w := inbox.Weights{
		UnrepliedBase:    100,
		NotSentTodayBase: 50,
		SLAWindowMinutes: 10,
		PlanTierWeight:   1,
		RiskBonus:        5,
		PausedPenalty:    30,
		UnreportedBonus:  2,
	}

	got := inbox.ScoreWith(w, inbox.ScoreInput{
		Unreplied:           true,
		SLARemainingMinutes: minutes(4), // urgency 6
		PlanTierRank:        3,
		HasRisk:             true,
	})

	assert.Equal(t, 100+6+3+5, got)
}
