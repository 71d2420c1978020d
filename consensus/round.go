package consensus

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/lib/crypto"
)

/*
	ROUND MODEL:

	A Round is one scheduling epoch: every active miner owns exactly one ordered time slot and the
	designated extra block producer terminates the round. A Term is a higher level epoch spanning
	many rounds, bounded by blockchain age, at which the miner list may be refreshed.

	A committed Round must always satisfy:
	- the slot orders form exactly the set {1..N} (no duplicates, no gaps)
	- exactly one slot is the extra block producer
	- the successor's round number is exactly predecessor + 1
	- out values and signatures are write-once per miner per round
*/

// Round is the atomic unit of consensus scheduling
type Round struct {
	RoundNumber                 uint64                `json:"roundNumber"`                 // strictly previous + 1 on every commit
	TermNumber                  uint64                `json:"termNumber"`                  // increases only on a NextTerm commit
	StartTime                   uint64                `json:"startTime"`                   // unix ms; every slot window derives from this
	BlockchainAge               uint64                `json:"blockchainAge"`               // seconds since the recorded blockchain start at round creation
	MinerSlots                  map[string]*MinerSlot `json:"minerSlots"`                  // miner public key (hex) -> slot; selected by order, not map position
	ExtraBlockProducer          string                `json:"extraBlockProducer"`          // hex key of the miner designated to terminate this round
	ConfirmedIrreversibleHeight uint64                `json:"confirmedIrreversibleHeight"` // last known LIB height, monotonically non-decreasing
	ConfirmedIrreversibleRound  uint64                `json:"confirmedIrreversibleRound"`  // last known LIB round, monotonically non-decreasing
	MinerListJustChanged        bool                  `json:"minerListJustChanged"`        // true only on the first round after a term change with a new miner set
}

// MinerSlot is the per-miner state within a Round
type MinerSlot struct {
	PubKey                         lib.HexBytes `json:"pubKey"`                         // the miner's public key identifier
	Order                          uint64       `json:"order"`                          // position in [1, N], unique and contiguous across the round
	ExpectedMiningTime             uint64       `json:"expectedMiningTime"`             // unix ms: round start + order * mining interval
	ActualMiningTimes              []uint64     `json:"actualMiningTimes"`              // unix ms timestamps of blocks this miner actually produced, append only
	ProducedBlocks                 uint64       `json:"producedBlocks"`                 // blocks produced within this round
	ProducedTinyBlocks             uint64       `json:"producedTinyBlocks"`             // tiny blocks produced within the current slot
	MissedTimeSlots                uint64       `json:"missedTimeSlots"`                // slots this miner failed to mine in, scoped to the term
	BlocksBeforeRound              uint64       `json:"blocksBeforeRound"`              // explicit carry of blocks produced before this round started
	OutValue                       lib.HexBytes `json:"outValue"`                       // commitment, write-once per round
	Signature                      lib.HexBytes `json:"signature"`                      // schedule seed, write-once per round
	PreviousInValue                lib.HexBytes `json:"previousInValue"`                // the revealed in-value of the prior round
	SupposedOrderOfNextRound       uint64       `json:"supposedOrderOfNextRound"`       // order derived from the signature, before collision resolution
	FinalOrderOfNextRound          uint64       `json:"finalOrderOfNextRound"`          // order this miner occupies in the successor round
	ImpliedIrreversibleBlockHeight uint64       `json:"impliedIrreversibleBlockHeight"` // the height this miner believes is irreversible
	IsExtraBlockProducer           bool         `json:"isExtraBlockProducer"`           // true for exactly one slot per round
}

// GetSlot() returns the slot owned by the given miner or a permission error
func (x *Round) GetSlot(miner lib.HexBytes) (*MinerSlot, lib.ErrorI) {
	slot, found := x.MinerSlots[miner.String()]
	if !found {
		return nil, lib.ErrMinerNotInRound(miner.String())
	}
	return slot, nil
}

// MinerCount() returns the number of slots in the round
func (x *Round) MinerCount() int { return len(x.MinerSlots) }

// Miners() returns the miner identifiers ordered by slot order
func (x *Round) Miners() []string {
	miners := make([]string, 0, len(x.MinerSlots))
	for m := range x.MinerSlots {
		miners = append(miners, m)
	}
	sort.Slice(miners, func(i, j int) bool {
		return x.MinerSlots[miners[i]].Order < x.MinerSlots[miners[j]].Order
	})
	return miners
}

// SlotByOrder() returns the slot holding the given order or nil when absent
func (x *Round) SlotByOrder(order uint64) *MinerSlot {
	for _, slot := range x.MinerSlots {
		if slot.Order == order {
			return slot
		}
	}
	return nil
}

// MinedMiners() returns the set of miners who published their out value this round
func (x *Round) MinedMiners() map[string]struct{} {
	mined := make(map[string]struct{})
	for m, slot := range x.MinerSlots {
		if len(slot.OutValue) != 0 {
			mined[m] = struct{}{}
		}
	}
	return mined
}

// SameMinerSet() reports whether the other round schedules the identical miner identifier set
func (x *Round) SameMinerSet(other *Round) bool {
	if len(x.MinerSlots) != len(other.MinerSlots) {
		return false
	}
	for m := range x.MinerSlots {
		if _, found := other.MinerSlots[m]; !found {
			return false
		}
	}
	return true
}

// TotalMissedSlots() sums the missed time slot counters over every slot
func (x *Round) TotalMissedSlots() (total uint64) {
	for _, slot := range x.MinerSlots {
		total += slot.MissedTimeSlots
	}
	return
}

// LatestActualMiningTime() returns the last appended mining time of a slot or 0 when none exists
func (x *MinerSlot) LatestActualMiningTime() uint64 {
	if len(x.ActualMiningTimes) == 0 {
		return 0
	}
	return x.ActualMiningTimes[len(x.ActualMiningTimes)-1]
}

// TotalProducedBlocks() returns the lifetime block count using the explicit carry field
func (x *MinerSlot) TotalProducedBlocks() uint64 {
	return x.BlocksBeforeRound + x.ProducedBlocks
}

// CheckBasic() validates the structural invariants that must hold for any round:
// a non-empty slot map keyed consistently, orders forming exactly {1..N}, and a
// single extra block producer matching the round's designation
func (x *Round) CheckBasic() lib.ErrorI {
	if x == nil || len(x.MinerSlots) == 0 {
		return lib.ErrEmptyMinerList()
	}
	n := uint64(len(x.MinerSlots))
	seen := make(map[uint64]string, n)
	producers := 0
	for key, slot := range x.MinerSlots {
		if slot == nil {
			return lib.ErrInvalidRound(fmt.Sprintf("slot %s is nil", key))
		}
		if slot.PubKey.String() != key {
			return lib.ErrInvalidRound(fmt.Sprintf("slot key %s does not match the slot public key %s", key, slot.PubKey))
		}
		// range check before any use of the order as an index
		if slot.Order < 1 || slot.Order > n {
			return lib.ErrOrderInvariantViolation(fmt.Sprintf("order %d of miner %s is outside [1, %d]", slot.Order, key, n))
		}
		if holder, duplicate := seen[slot.Order]; duplicate {
			return lib.ErrOrderInvariantViolation(fmt.Sprintf("order %d is held by both %s and %s", slot.Order, holder, key))
		}
		seen[slot.Order] = key
		if slot.IsExtraBlockProducer {
			producers++
			if key != x.ExtraBlockProducer {
				return lib.ErrInvalidRound(fmt.Sprintf("slot %s is flagged producer but the round designates %s", key, x.ExtraBlockProducer))
			}
		}
	}
	// a full map with unique in-range orders is necessarily contiguous {1..N}
	if producers != 1 {
		return lib.ErrInvalidRound(fmt.Sprintf("expected exactly one extra block producer, got %d", producers))
	}
	return nil
}

// Copy() returns a deep copy of the round so validators always read an immutable snapshot
func (x *Round) Copy() *Round {
	if x == nil {
		return nil
	}
	c := *x
	c.MinerSlots = make(map[string]*MinerSlot, len(x.MinerSlots))
	for m, slot := range x.MinerSlots {
		c.MinerSlots[m] = slot.Copy()
	}
	return &c
}

// Copy() returns a deep copy of the slot
func (x *MinerSlot) Copy() *MinerSlot {
	if x == nil {
		return nil
	}
	c := *x
	c.PubKey = append(lib.HexBytes{}, x.PubKey...)
	c.ActualMiningTimes = append([]uint64{}, x.ActualMiningTimes...)
	c.OutValue = append(lib.HexBytes{}, x.OutValue...)
	c.Signature = append(lib.HexBytes{}, x.Signature...)
	c.PreviousInValue = append(lib.HexBytes{}, x.PreviousInValue...)
	return &c
}

// Equal() compares two slots semantically; nil and empty byte fields are equivalent
func (x *MinerSlot) Equal(y *MinerSlot) bool {
	if x == nil || y == nil {
		return x == y
	}
	if !bytes.Equal(x.PubKey, y.PubKey) || x.Order != y.Order || x.ExpectedMiningTime != y.ExpectedMiningTime ||
		x.ProducedBlocks != y.ProducedBlocks || x.ProducedTinyBlocks != y.ProducedTinyBlocks ||
		x.MissedTimeSlots != y.MissedTimeSlots || x.BlocksBeforeRound != y.BlocksBeforeRound ||
		x.SupposedOrderOfNextRound != y.SupposedOrderOfNextRound || x.FinalOrderOfNextRound != y.FinalOrderOfNextRound ||
		x.ImpliedIrreversibleBlockHeight != y.ImpliedIrreversibleBlockHeight || x.IsExtraBlockProducer != y.IsExtraBlockProducer {
		return false
	}
	if !bytes.Equal(x.OutValue, y.OutValue) || !bytes.Equal(x.Signature, y.Signature) || !bytes.Equal(x.PreviousInValue, y.PreviousInValue) {
		return false
	}
	if len(x.ActualMiningTimes) != len(y.ActualMiningTimes) {
		return false
	}
	for i, t := range x.ActualMiningTimes {
		if y.ActualMiningTimes[i] != t {
			return false
		}
	}
	return true
}

// String() returns a short log friendly summary of the round
func (x *Round) String() string {
	return fmt.Sprintf("round=%d term=%d miners=%d producer=%s lib=%d",
		x.RoundNumber, x.TermNumber, len(x.MinerSlots), lib.Truncate(x.ExtraBlockProducer, 10), x.ConfirmedIrreversibleHeight)
}

// GenerateFirstRound() builds round 1 of term 1 from an initial miner list: slot orders are
// assigned by the hash of each public key so the genesis schedule is deterministic but not
// proposer controlled, and the first ordered miner is designated extra block producer
func GenerateFirstRound(miners []lib.HexBytes, startTime, miningIntervalMS uint64) (*Round, lib.ErrorI) {
	if len(miners) == 0 {
		return nil, lib.ErrEmptyMinerList()
	}
	// order the miner list by the hash of the public key
	sorted := make([]lib.HexBytes, len(miners))
	copy(sorted, miners)
	sort.Slice(sorted, func(i, j int) bool {
		return crypto.HashString(sorted[i]) < crypto.HashString(sorted[j])
	})
	round := &Round{
		RoundNumber: 1,
		TermNumber:  1,
		StartTime:   startTime,
		MinerSlots:  make(map[string]*MinerSlot, len(sorted)),
	}
	for i, pub := range sorted {
		key := pub.String()
		if _, duplicate := round.MinerSlots[key]; duplicate {
			return nil, lib.ErrInvalidRound(fmt.Sprintf("duplicate miner %s in the genesis list", key))
		}
		order := uint64(i + 1)
		round.MinerSlots[key] = &MinerSlot{
			PubKey:               append(lib.HexBytes{}, pub...),
			Order:                order,
			ExpectedMiningTime:   startTime + order*miningIntervalMS,
			IsExtraBlockProducer: i == 0,
		}
		if i == 0 {
			round.ExtraBlockProducer = key
		}
	}
	return round, round.CheckBasic()
}
