/*
scorer.go - Inbox priority scoring

PURPOSE:
  Ranks conversations for the staff triage queue. Pure function: total
  (defined for every input, including a nil SLA), side-effect-free, used
  only to ORDER the queue, never to gate visibility.

TIERING (each tier strictly dominates the next):
  Unreplied (user sent the latest message):  base 10000
      + urgency from SLA time remaining (less remaining -> higher)
      + plan-priority weight
  Not sent today, nothing unreplied:         base 5000
      + plan-priority weight
  Replied today:                             base 0

  With the default weights, within-tier factors are bounded well below
  the 5000-point tier gap, so tier order always holds.

MODIFIERS (additive, independent of tier):
  hasRisk      +500 fixed
  isPaused     -penalty large enough to push a positive score negative
  isUnreported +small fixed bonus (messaging without check-in activity)
*/
package inbox

// ScoreInput describes one conversation's triage-relevant state.
type ScoreInput struct {
	// Unreplied: the user sent the most recent message and no reply went out.
	Unreplied bool
	// SentToday: staff sent something today (only consulted when not unreplied).
	SentToday bool
	// SLARemainingMinutes until the reply SLA lapses. Negative = overdue.
	// nil = no SLA applies; contributes no urgency.
	SLARemainingMinutes *int
	// PlanTierRank is the configured plan priority, 0 = lowest. The plan
	// weight is monotonic in this rank.
	PlanTierRank int
	HasRisk      bool
	IsPaused     bool
	IsUnreported bool
}

// Weights makes the scoring constants explicit configuration.
type Weights struct {
	UnrepliedBase    int
	NotSentTodayBase int
	// SLAWindowMinutes bounds the SLA urgency contribution: urgency is
	// window minus remaining, clamped to [0, window].
	SLAWindowMinutes int
	PlanTierWeight   int
	RiskBonus        int
	PausedPenalty    int
	UnreportedBonus  int
}

// DefaultWeights returns the production constants. PlanTierWeight and
// SLAWindowMinutes keep within-tier spread under the 5000 tier gap for
// any realistic plan rank.
func DefaultWeights() Weights {
	return Weights{
		UnrepliedBase:    10000,
		NotSentTodayBase: 5000,
		SLAWindowMinutes: 1440,
		PlanTierWeight:   50,
		RiskBonus:        500,
		PausedPenalty:    3000,
		UnreportedBonus:  150,
	}
}

// Score ranks with the default weights. Higher = more urgent.
func Score(in ScoreInput) int {
	return ScoreWith(DefaultWeights(), in)
}

// ScoreWith ranks with explicit weights.
func ScoreWith(w Weights, in ScoreInput) int {
	score := 0

	switch {
	case in.Unreplied:
		score = w.UnrepliedBase + slaUrgency(w, in.SLARemainingMinutes) + in.PlanTierRank*w.PlanTierWeight
	case !in.SentToday:
		score = w.NotSentTodayBase + in.PlanTierRank*w.PlanTierWeight
	default:
		// Replied today: base near zero. Modifiers below may push negative.
	}

	if in.HasRisk {
		score += w.RiskBonus
	}
	if in.IsPaused {
		score -= w.PausedPenalty
	}
	if in.IsUnreported {
		score += w.UnreportedBonus
	}

	return score
}

// slaUrgency maps remaining minutes to urgency: overdue or nearly-due
// conversations approach the full window, distant deadlines approach zero.
func slaUrgency(w Weights, remaining *int) int {
	if remaining == nil {
		return 0
	}
	u := w.SLAWindowMinutes - *remaining
	if u < 0 {
		return 0
	}
	if u > w.SLAWindowMinutes {
		return w.SLAWindowMinutes
	}
	return u
}
