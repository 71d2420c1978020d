package consensus

import (
	"sort"

	"github.com/aedpos-network/aedpos/lib"
)

/*
	EVIL MINER HANDLING:

	Detection is a pure function over a completed round: a miner whose missed time slot counter
	crossed the policy threshold is marked evil. Replacement pairs evil miners with externally
	supplied alternatives; when the alternatives run short the excess evil miners are still
	removed from the active set without a substitute. A detected miner never stays active, even
	if the miner count shrinks below the nominal target.
*/

// DetectEvilMiners() returns the miners of a round whose missed slot count crossed the threshold
func DetectEvilMiners(round *Round, maximumMissedBlocks uint64) map[string]struct{} {
	evil := make(map[string]struct{})
	if round == nil || maximumMissedBlocks == 0 {
		return evil
	}
	for m, slot := range round.MinerSlots {
		if slot.MissedTimeSlots >= maximumMissedBlocks {
			evil[m] = struct{}{}
		}
	}
	return evil
}

// ReplacementPlan is the deterministic pairing of evil miners with alternatives
type ReplacementPlan struct {
	Evil         map[string]struct{}     // every detected evil miner
	Replacements map[string]lib.HexBytes // evil miner -> substitute, for as many alternatives as exist
	Dropped      []string                // evil miners removed without a substitute
}

// BuildReplacementPlan() pairs evil miners with alternatives in deterministic (sorted) order;
// evil miners beyond the alternatives' length land in Dropped rather than staying active
func BuildReplacementPlan(evil map[string]struct{}, alternatives []lib.HexBytes) *ReplacementPlan {
	plan := &ReplacementPlan{
		Evil:         evil,
		Replacements: make(map[string]lib.HexBytes),
	}
	sortedEvil := make([]string, 0, len(evil))
	for m := range evil {
		sortedEvil = append(sortedEvil, m)
	}
	sort.Strings(sortedEvil)
	for i, m := range sortedEvil {
		if i < len(alternatives) {
			plan.Replacements[m] = alternatives[i]
			continue
		}
		plan.Dropped = append(plan.Dropped, m)
	}
	return plan
}

// IsEmpty() reports whether the plan changes the miner set at all
func (p *ReplacementPlan) IsEmpty() bool {
	return p == nil || len(p.Evil) == 0
}

// ExpectedMinerSet() computes the miner identifier set a successor round must schedule:
// the base set minus every evil miner, plus the assigned substitutes
func (p *ReplacementPlan) ExpectedMinerSet(base *Round) map[string]struct{} {
	expected := make(map[string]struct{}, base.MinerCount())
	for m := range base.MinerSlots {
		expected[m] = struct{}{}
	}
	if p.IsEmpty() {
		return expected
	}
	for m := range p.Evil {
		delete(expected, m)
	}
	for _, alt := range p.Replacements {
		expected[alt.String()] = struct{}{}
	}
	return expected
}
