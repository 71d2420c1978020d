package consensus

import (
	"bytes"
	"math"

	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/lib/crypto"
)

/*
	SIGNATURE SCHEDULING:

	1) Signature chain: a miner's per-round signature is its revealed in-value XOR folded with
	   every signature of the previous round. XOR is commutative and associative, so the fold is
	   order independent, and a nil signature is the defined zero element.

	2) Order derivation: the next-round order of a miner is a simple modulo over its signature,
	   reproducible by any validator from public data. The proposer never chooses its own order.

	3) Validation contract: a proposed signature is accepted only when re-deriving it over the
	   authoritative previous round yields the identical value. A signature that does not
	   re-derive is rejected outright, which closes the re-roll-my-order attack.
*/

// CalculateSignature() folds the in-value with every slot signature of the previous round
func CalculateSignature(previous *Round, inValue []byte) lib.HexBytes {
	out := crypto.XOR(nil, inValue)
	if previous == nil {
		return out
	}
	for _, slot := range previous.MinerSlots {
		out = crypto.XOR(out, slot.Signature)
	}
	return out
}

// DeriveOrder() maps a signature onto an order in [1, minerCount]
func DeriveOrder(signature []byte, minerCount int) uint64 {
	if minerCount <= 0 || len(signature) == 0 {
		return 0
	}
	v := crypto.HashToInt64(signature)
	if v == math.MinInt64 {
		v = math.MaxInt64
	} else if v < 0 {
		v = -v
	}
	return uint64(v)%uint64(minerCount) + 1
}

// ValidateSignature() re-derives the signature from the authoritative previous round and the
// miner's revealed in-value, rejecting any proposed value that does not match
func ValidateSignature(previous *Round, previousInValue, proposed lib.HexBytes) lib.ErrorI {
	if len(proposed) == 0 {
		return lib.ErrInvalidSignature()
	}
	if !bytes.Equal(CalculateSignature(previous, previousInValue), proposed) {
		return lib.ErrInvalidSignature()
	}
	return nil
}

// ResolveNextRoundOrder() turns a supposed order into a final order by walking forward
// (cyclically) past orders already claimed by other miners of the round; the result is the
// first free order at or after the supposed one
func ResolveNextRoundOrder(round *Round, miner string, supposed uint64) uint64 {
	n := uint64(round.MinerCount())
	if n == 0 || supposed == 0 {
		return 0
	}
	taken := make(map[uint64]bool, n)
	for m, slot := range round.MinerSlots {
		if m == miner {
			continue
		}
		if slot.FinalOrderOfNextRound != 0 {
			taken[slot.FinalOrderOfNextRound] = true
		}
	}
	order := supposed
	for i := uint64(0); i < n; i++ {
		if !taken[order] {
			return order
		}
		order = order%n + 1
	}
	// every order claimed by others: the round is oversubscribed and the caller must reject
	return 0
}

// DeriveExtraBlockProducer() deterministically selects the successor round's terminator from
// the signature the first ordered miner of the successor published during the current round;
// when no such signature exists (miner never mined, or fresh miner list) the seed degenerates
// to the hash of the public key so the choice stays deterministic and proposer independent
func DeriveExtraBlockProducer(next, current *Round) string {
	first := next.SlotByOrder(1)
	if first == nil {
		return ""
	}
	seed := crypto.Hash(first.PubKey)
	if current != nil {
		if slot, found := current.MinerSlots[first.PubKey.String()]; found && len(slot.Signature) != 0 {
			seed = slot.Signature
		}
	}
	order := DeriveOrder(crypto.Hash(seed), next.MinerCount())
	producer := next.SlotByOrder(order)
	if producer == nil {
		return ""
	}
	return producer.PubKey.String()
}
