package consensus

import (
	"fmt"

	"github.com/aedpos-network/aedpos/lib"
)

// TimeSlotPolicy defines and enforces per-miner mining windows; it is pure policy over
// immutable round snapshots and a caller supplied notion of time, never a live wall clock
type TimeSlotPolicy struct {
	IntervalMS           uint64 // the width of a single slot
	MaxTinyBlocks        uint64 // additional blocks allowed inside one slot
	ToleranceMS          uint64 // allowed skew between claimed mining time and block header time
	MaxFutureDriftMS     uint64 // how far a header time may run ahead of the local clock
	LibLagSeverityRounds uint64 // LIB lag before the tiny block allowance is throttled
}

// NewTimeSlotPolicy() builds the policy from the consensus configuration
func NewTimeSlotPolicy(c lib.ConsensusConfig) TimeSlotPolicy {
	return TimeSlotPolicy{
		IntervalMS:           c.MiningIntervalMS,
		MaxTinyBlocks:        c.MaxTinyBlocksCount,
		ToleranceMS:          c.TinyBlockToleranceMS,
		MaxFutureDriftMS:     c.MaxFutureDriftMS,
		LibLagSeverityRounds: c.LibLagSeverityRounds,
	}
}

// ExpectedWindow() returns the half open window [start, end) assigned to a slot
func (p TimeSlotPolicy) ExpectedWindow(round *Round, slot *MinerSlot) (start, end uint64) {
	start = round.StartTime + slot.Order*p.IntervalMS
	end = start + p.IntervalMS
	return
}

// RoundEndTime() returns the start of the extra block slot that terminates the round
func (p TimeSlotPolicy) RoundEndTime(round *Round) uint64 {
	return round.StartTime + (uint64(round.MinerCount())+1)*p.IntervalMS
}

// ValidateMiningTime() checks a claimed mining time against the miner's assigned window;
// tiny blocks additionally enjoy the round termination extension when the miner is the
// designated extra block producer
func (p TimeSlotPolicy) ValidateMiningTime(round *Round, slot *MinerSlot, claimed uint64, tiny bool) lib.ErrorI {
	start, end := p.ExpectedWindow(round, slot)
	if claimed >= start && claimed < end {
		return nil
	}
	if tiny && slot.IsExtraBlockProducer {
		// the terminator may keep producing tiny blocks through the extra block slot
		roundEnd := p.RoundEndTime(round)
		if claimed >= roundEnd && claimed < roundEnd+p.IntervalMS {
			return nil
		}
	}
	return lib.ErrTimeSlotViolation(fmt.Sprintf("claimed time %d is outside the window [%d, %d) of miner %s", claimed, start, end, slot.PubKey))
}

// ValidateHeaderTime() binds the claimed mining time to the block it accompanies: the claimed
// time must sit within a fixed tolerance of the block header time, the header time must be
// strictly after the previous block's, and it may not run further into the future than the
// allowed drift from the caller supplied local time
func (p TimeSlotPolicy) ValidateHeaderTime(claimed, headerTime, prevHeaderTime, localTime uint64) lib.ErrorI {
	if headerTime <= prevHeaderTime {
		return lib.ErrHeaderTimeNotMonotonic()
	}
	if localTime != 0 && headerTime > localTime+p.MaxFutureDriftMS {
		return lib.ErrHeaderTimeTooFarInFuture()
	}
	if diffAbs(claimed, headerTime) > p.ToleranceMS {
		return lib.ErrTimeSlotViolation(fmt.Sprintf("claimed time %d deviates from the header time %d beyond the tolerance %dms", claimed, headerTime, p.ToleranceMS))
	}
	return nil
}

// MaxBlocksCount() returns the tiny block allowance for the current round, shrinking it while
// the LIB lags behind so a fast miner cannot widen the irreversibility gap
func (p TimeSlotPolicy) MaxBlocksCount(currentRoundNumber, libRoundNumber uint64) uint64 {
	if libRoundNumber == 0 || currentRoundNumber <= libRoundNumber {
		return p.MaxTinyBlocks
	}
	lag := currentRoundNumber - libRoundNumber
	if lag <= p.LibLagSeverityRounds {
		return p.MaxTinyBlocks
	}
	allowed := p.MaxTinyBlocks / (lag - p.LibLagSeverityRounds + 1)
	if allowed == 0 {
		allowed = 1
	}
	return allowed
}

// ArrangeAbnormalMiningTime() computes the next legitimate time a miner that missed its own
// window may mine: the extra block slot when it is the designated terminator, otherwise its
// own slot in the successor round
func (p TimeSlotPolicy) ArrangeAbnormalMiningTime(round *Round, slot *MinerSlot, currentTime uint64) uint64 {
	roundEnd := p.RoundEndTime(round)
	if slot.IsExtraBlockProducer && currentTime < roundEnd {
		return roundEnd
	}
	// the successor round starts at the current round's end
	next := roundEnd + slot.Order*p.IntervalMS
	for next <= currentTime {
		// skip whole rounds until the arranged slot is in the future
		next += (uint64(round.MinerCount()) + 1) * p.IntervalMS
	}
	return next
}

// diffAbs() returns |a - b| for unsigned operands
func diffAbs(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
