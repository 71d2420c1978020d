package consensus

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aedpos-network/aedpos/lib"
)

/*
	This file defines the collaborators the consensus core depends on but does not implement.
	The election and treasury services are compile time wired references: their identity is
	never taken from the data being validated.
*/

// BlockEnv carries the read-only inputs the surrounding block production environment supplies
// to every validator and transition; the core never derives these itself and never reads a
// live wall clock, which keeps execution deterministic across replaying nodes
type BlockEnv struct {
	Sender        lib.HexBytes // the recovered public key of the block producer
	BlockHeight   uint64       // the height of the block being produced
	BlockTime     uint64       // the block header time in unix ms
	PrevBlockTime uint64       // the previous block's header time in unix ms
	LocalTime     uint64       // the environment's receive time, bounding future drift (0 disables the bound)
}

// ElectionService is the external election collaborator; internals are out of scope here
type ElectionService interface {
	// GetReplacementCandidates() returns alternative miners for the evil set; the list may be
	// shorter than the evil set, in which case excess evil miners are dropped without substitute
	GetReplacementCandidates(evil map[string]struct{}, currentMiners map[string]struct{}) ([]lib.HexBytes, error)
	// NotifyEvilMiner() reports a detected evil miner, fire and forget
	NotifyEvilMiner(miner lib.HexBytes)
	// ConfirmNewTermMinerList() returns the authoritative miner list for a new term so a
	// proposer supplied list is never trusted verbatim
	ConfirmNewTermMinerList(termNumber uint64) ([]lib.HexBytes, error)
}

// TreasuryService is the external reward collaborator, notified on round completion
type TreasuryService interface {
	NotifyRoundCompleted(roundNumber uint64, minedMiners []lib.HexBytes) error
}

// notifier wraps the fire and forget collaborator calls with a bounded retry so a flaky
// external service never blocks or fails a consensus transition
type notifier struct {
	treasury TreasuryService
	log      lib.LoggerI
}

// roundCompleted() dispatches the treasury notification in the background; the consensus core
// neither waits for nor validates a response
func (n *notifier) roundCompleted(roundNumber uint64, minedMiners []lib.HexBytes) {
	if n.treasury == nil {
		return
	}
	go func() {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 30 * time.Second
		if err := backoff.Retry(func() error {
			return n.treasury.NotifyRoundCompleted(roundNumber, minedMiners)
		}, b); err != nil {
			n.log.Warnf("treasury notification for round %d dropped: %s", roundNumber, err.Error())
		}
	}()
}
