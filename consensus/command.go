package consensus

import (
	"github.com/aedpos-network/aedpos/lib"
)

/*
	COMMAND PROVIDER:

	A miner asks the engine what to do next given the committed round and the current time.
	The answer is a behaviour plus the arranged time to act on it; the provider is a pure read
	over committed state, so asking never mutates anything and two honest nodes with the same
	state and clock compute the same command.
*/

// ConsensusBehaviour enumerates what a miner should do next
type ConsensusBehaviour string

const (
	UpdateValueBehaviour ConsensusBehaviour = "update_value" // publish commitments in the own slot
	TinyBlockBehaviour   ConsensusBehaviour = "tiny_block"   // produce an additional block in the own slot
	NextRoundBehaviour   ConsensusBehaviour = "next_round"   // terminate the round
	NextTermBehaviour    ConsensusBehaviour = "next_term"    // terminate the round and the term
	NothingBehaviour     ConsensusBehaviour = "nothing"      // wait for the arranged time
)

// ConsensusCommand tells a miner what to do and when
type ConsensusCommand struct {
	Behaviour          ConsensusBehaviour `json:"behaviour"`
	ArrangedMiningTime uint64             `json:"arrangedMiningTime"` // unix ms the behaviour becomes valid
	MiningDueTime      uint64             `json:"miningDueTime"`      // unix ms the behaviour stops being valid
}

// GetConsensusCommand() computes the next behaviour for a miner at the given time; currentTime
// is caller supplied so replaying nodes stay deterministic
func (e *Engine) GetConsensusCommand(miner lib.HexBytes, currentTime uint64) (*ConsensusCommand, lib.ErrorI) {
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return nil, err
	}
	slot, err := base.GetSlot(miner)
	if err != nil {
		return nil, err
	}
	chainStart, err := e.store.ChainStartTime()
	if err != nil {
		return nil, err
	}
	start, end := e.policy.ExpectedWindow(base, slot)
	roundEnd := e.policy.RoundEndTime(base)
	switch {
	case len(slot.OutValue) == 0 && currentTime < end:
		// the slot has not been claimed this round; the miner publishes at its expected time
		arranged := start
		if currentTime > arranged {
			arranged = currentTime
		}
		return &ConsensusCommand{Behaviour: UpdateValueBehaviour, ArrangedMiningTime: arranged, MiningDueTime: end}, nil
	case len(slot.OutValue) != 0 && currentTime < end:
		// already published; fill the remainder of the window with tiny blocks if allowed
		allowed := e.policy.MaxBlocksCount(base.RoundNumber, base.ConfirmedIrreversibleRound)
		if slot.ProducedTinyBlocks < allowed {
			return &ConsensusCommand{Behaviour: TinyBlockBehaviour, ArrangedMiningTime: currentTime, MiningDueTime: end}, nil
		}
	case slot.IsExtraBlockProducer && currentTime >= roundEnd:
		return e.terminationCommand(base, chainStart, roundEnd, currentTime)
	case !slot.IsExtraBlockProducer && currentTime >= roundEnd+e.policy.IntervalMS:
		// the terminator's extension lapsed; any miner may terminate
		return e.terminationCommand(base, chainStart, currentTime, currentTime)
	}
	// out of window and not authorized to terminate yet: wait for the arranged abnormal time
	arranged := e.policy.ArrangeAbnormalMiningTime(base, slot, currentTime)
	return &ConsensusCommand{Behaviour: NothingBehaviour, ArrangedMiningTime: arranged, MiningDueTime: arranged + e.policy.IntervalMS}, nil
}

// terminationCommand() decides between a plain round termination and a term change
func (e *Engine) terminationCommand(base *Round, chainStart, arranged, currentTime uint64) (*ConsensusCommand, lib.ErrorI) {
	behaviour := NextRoundBehaviour
	if IsTimeToChangeTerm(base, chainStart, currentTime, e.cfg.PeriodSeconds, e.cfg.MinersCountOfConsent(base.MinerCount())) {
		behaviour = NextTermBehaviour
	}
	return &ConsensusCommand{
		Behaviour:          behaviour,
		ArrangedMiningTime: arranged,
		MiningDueTime:      arranged + e.policy.IntervalMS,
	}, nil
}
