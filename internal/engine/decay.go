package engine

import (
	"math"
	"time"

	"github.com/reveriehq/reverie/pkg/types"
)

// DecayModel holds the constants of the strength and confidence recurrence
// applied by the confidence-update pass. The zero value is unusable; build
// one with DefaultDecayModel or from configuration.
type DecayModel struct {
	// HalfLifeDays is the number of days for strength to halve without
	// reinforcement. At 30 days an unreinforced memory sits at 0.5; at 60
	// days, 0.25.
	HalfLifeDays float64

	// ReinforcementBoost is added to strength per reinforcement, counted up
	// to 10 times. Heavily reinforced memories keep a floor of up to 0.2.
	ReinforcementBoost float64

	// ContradictionPenalty is subtracted from confidence once per recorded
	// contradiction.
	ContradictionPenalty float64

	// ConfidenceFloor is the lowest confidence the pass will assign, so a
	// heavily contradicted memory stays visible instead of vanishing to 0.
	ConfidenceFloor float64
}

// DefaultDecayModel returns the documented default curve.
func DefaultDecayModel() DecayModel {
	return DecayModel{
		HalfLifeDays:         30,
		ReinforcementBoost:   0.02,
		ContradictionPenalty: 0.1,
		ConfidenceFloor:      0.05,
	}
}

// Strength returns the memory's recomputed strength at the given instant:
// exponential decay from the last reinforcement plus a capped reinforcement
// floor, clamped to [0, 1]. The result decreases monotonically with age
// absent reinforcement.
func (d DecayModel) Strength(m *types.Memory, now time.Time) float64 {
	days := m.DaysSinceReinforcement(now)
	if days < 0 {
		days = 0
	}
	decayed := math.Pow(2, -days/d.HalfLifeDays)

	reinforcements := float64(m.ReinforcementCount)
	if reinforcements > 10 {
		reinforcements = 10
	}

	return clamp(decayed+reinforcements*d.ReinforcementBoost, 0, 1)
}

// Confidence returns the memory's recomputed confidence: the current value
// minus a penalty per contradiction, plus a small capped reinforcement bonus,
// clamped to [ConfidenceFloor, 1].
func (d DecayModel) Confidence(m *types.Memory) float64 {
	penalty := d.ContradictionPenalty * float64(len(m.Contradictions))
	bonus := math.Min(float64(m.ReinforcementCount)*0.01, 0.05)
	return clamp(m.Confidence-penalty+bonus, d.ConfidenceFloor, 1)
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
