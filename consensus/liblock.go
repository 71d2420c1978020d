package consensus

import (
	"sort"
)

/*
	LAST IRREVERSIBLE BLOCK:

	Each miner reports, with every block it produces, the height it believes is irreversible.
	The calculator collects those implied heights from the previous round, restricted to miners
	who also mined the current round, and advances the LIB to the lower-third order statistic
	once a two-thirds-plus-one quorum of samples exists. Without quorum the LIB holds its prior
	confirmed value; it never resets to zero and never decreases.
*/

// LibResult is the outcome of one LIB computation
type LibResult struct {
	Height uint64 // the confirmed irreversible height after this cycle
	Round  uint64 // the round number the confirmation belongs to
	Moved  bool   // whether the height advanced this cycle
}

// CalculateLib() derives the LIB from the two most recent committed rounds; confirmed carries
// the previously committed height so an insufficient quorum holds rather than resets it
func CalculateLib(current, previous *Round, confirmedHeight, confirmedRound uint64, quorum int) LibResult {
	held := LibResult{Height: confirmedHeight, Round: confirmedRound}
	// on an uninitialized boundary (the very first round) there is nothing to compute
	if current == nil || previous == nil || quorum <= 0 {
		return held
	}
	minedNow := current.MinedMiners()
	heights := make([]uint64, 0, len(previous.MinerSlots))
	for m, slot := range previous.MinerSlots {
		if _, mined := minedNow[m]; !mined {
			continue
		}
		// a zero implied height means the miner never set one this lifecycle
		if slot.ImpliedIrreversibleBlockHeight == 0 {
			continue
		}
		heights = append(heights, slot.ImpliedIrreversibleBlockHeight)
	}
	if len(heights) < quorum {
		return held
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	libHeight := heights[(len(heights)-1)/3]
	// the calculator itself enforces monotonicity rather than trusting caller discipline
	if libHeight <= confirmedHeight {
		return held
	}
	return LibResult{Height: libHeight, Round: previous.RoundNumber, Moved: true}
}
