package consensus

import (
	"bytes"
	"fmt"

	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/lib/crypto"
)

/*
	VALIDATION PIPELINE:

	An ordered chain of stateless validators checks a proposed round transition against the
	committed base round before any state mutation. Every validator receives two immutable
	snapshots, the authoritative base and the proposal, and compares fields between them; no
	validator ever applies untrusted data to the base and validates the result, since that
	recover-then-validate ordering corrupts the comparison baseline.

	The pipeline short circuits on the first failure and surfaces the typed reason to the
	calling block execution environment; it never silently passes on ambiguous input.
*/

// TransitionKind enumerates the four consensus state transitions
type TransitionKind string

const (
	UpdateValueTransition TransitionKind = "update_value"
	TinyBlockTransition   TransitionKind = "tiny_block"
	NextRoundTransition   TransitionKind = "next_round"
	NextTermTransition    TransitionKind = "next_term"
)

// ValidationContext is the read-only input to every validator
type ValidationContext struct {
	Kind           TransitionKind   // which transition is being validated
	Base           *Round           // the committed round, authoritative and immutable
	Previous       *Round           // the round before Base; nil when Base is round 1
	Proposed       *Round           // the proposed transition result
	Env            *BlockEnv        // block environment inputs (sender, height, times)
	ChainStartTime uint64           // unix ms of the recorded blockchain start
	Plan           *ReplacementPlan // engine derived evil miner replacement plan (NextRound)
	NewTermMiners  []lib.HexBytes   // election confirmed miner list (NextTerm only)
}

// Validator checks one aspect of a proposed transition
type Validator interface {
	Name() string
	Validate(ctx *ValidationContext) lib.ErrorI
}

// Pipeline composes the validators per transition kind
type Pipeline struct {
	cfg    lib.ConsensusConfig
	byKind map[TransitionKind][]Validator
	log    lib.LoggerI
}

// NewPipeline() wires the validator chains for every transition kind
func NewPipeline(cfg lib.ConsensusConfig, log lib.LoggerI) *Pipeline {
	policy := NewTimeSlotPolicy(cfg)
	permission := &miningPermissionValidator{}
	timeSlot := &timeSlotValidator{policy: policy}
	continuous := &continuousBlocksValidator{policy: policy}
	updateValue := &updateValueValidator{}
	tinyBlock := &tinyBlockValidator{}
	orders := &orderUniquenessValidator{}
	termination := &roundTerminationValidator{policy: policy, cfg: cfg}
	continuity := &minerListContinuityValidator{cfg: cfg}
	return &Pipeline{
		cfg: cfg,
		log: log,
		byKind: map[TransitionKind][]Validator{
			UpdateValueTransition: {permission, timeSlot, updateValue},
			TinyBlockTransition:   {permission, timeSlot, continuous, tinyBlock},
			NextRoundTransition:   {permission, termination, orders, continuity},
			NextTermTransition:    {permission, termination, orders, continuity},
		},
	}
}

// Validate() runs the chain for the context's kind, rejecting on the first failure
func (p *Pipeline) Validate(ctx *ValidationContext) lib.ErrorI {
	if ctx == nil || ctx.Base == nil || ctx.Proposed == nil || ctx.Env == nil {
		return lib.ErrInvalidArgument()
	}
	chain, found := p.byKind[ctx.Kind]
	if !found {
		return lib.ErrUnknownTransition()
	}
	for _, v := range chain {
		if err := v.Validate(ctx); err != nil {
			p.log.Debugf("%s rejected a %s transition from %s: %s", v.Name(), ctx.Kind, ctx.Env.Sender, err.Error())
			return err
		}
	}
	return nil
}

// MINING PERMISSION

// miningPermissionValidator requires the sender to own a slot in the base round, with a narrow
// grace window into the previous round right after a miner list change
type miningPermissionValidator struct{}

func (v *miningPermissionValidator) Name() string { return "MiningPermissionValidator" }

func (v *miningPermissionValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	sender := ctx.Env.Sender.String()
	if _, found := ctx.Base.MinerSlots[sender]; found {
		return nil
	}
	if ctx.Base.MinerListJustChanged && ctx.Previous != nil {
		if _, found := ctx.Previous.MinerSlots[sender]; found {
			return nil
		}
	}
	return lib.ErrMinerNotInRound(sender)
}

// TIME SLOT

// timeSlotValidator binds the claimed mining time to the block that carries it and checks it
// against the sender's assigned window in the base round
type timeSlotValidator struct {
	policy TimeSlotPolicy
}

func (v *timeSlotValidator) Name() string { return "TimeSlotValidator" }

func (v *timeSlotValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	baseSlot, err := ctx.Base.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	proposedSlot, err := ctx.Proposed.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	claimed := proposedSlot.LatestActualMiningTime()
	if claimed == 0 {
		return lib.ErrTimeSlotViolation("the proposal carries no actual mining time")
	}
	// the claimed time is only meaningful when bound to the block's own header time
	if err = v.policy.ValidateHeaderTime(claimed, ctx.Env.BlockTime, ctx.Env.PrevBlockTime, ctx.Env.LocalTime); err != nil {
		return err
	}
	return v.policy.ValidateMiningTime(ctx.Base, baseSlot, claimed, ctx.Kind == TinyBlockTransition)
}

// CONTINUOUS BLOCKS

// continuousBlocksValidator rejects a miner exceeding the tiny block allowance, using the
// <= 0 remaining boundary so the cap cannot be overshot by one
type continuousBlocksValidator struct {
	policy TimeSlotPolicy
}

func (v *continuousBlocksValidator) Name() string { return "ContinuousBlocksValidator" }

func (v *continuousBlocksValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	baseSlot, err := ctx.Base.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	allowed := v.policy.MaxBlocksCount(ctx.Base.RoundNumber, ctx.Base.ConfirmedIrreversibleRound)
	if remaining := int64(allowed) - int64(baseSlot.ProducedTinyBlocks); remaining <= 0 {
		return lib.ErrTinyBlockCapExceeded(ctx.Env.Sender.String())
	}
	return nil
}

// UPDATE VALUE

// updateValueValidator enforces the write-once commitment rule, re-derives the proposed
// signature and next-round order from the authoritative previous round, pins the implied
// irreversible height to the produced block, and confirms the proposal touches nothing
// beyond the sender's own slot
type updateValueValidator struct{}

func (v *updateValueValidator) Name() string { return "UpdateValueValidator" }

func (v *updateValueValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	sender := ctx.Env.Sender.String()
	baseSlot, err := ctx.Base.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	proposedSlot, err := ctx.Proposed.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	// write-once: a set out value or signature is never overwritten within the round
	if len(baseSlot.OutValue) != 0 || len(baseSlot.Signature) != 0 {
		return lib.ErrDuplicateSubmission(sender)
	}
	if len(proposedSlot.OutValue) == 0 || len(proposedSlot.Signature) == 0 {
		return lib.ErrInvalidRound("an update value must carry an out value and a signature")
	}
	// the signature must re-derive from the authoritative previous round; round 1 has no
	// previous signatures to fold, so its commitments bootstrap the chain unchecked
	if ctx.Previous != nil {
		if len(proposedSlot.PreviousInValue) == 0 {
			return lib.ErrInvalidSignature()
		}
		// the revealed in-value must open the commitment published in the previous round
		if prevSlot, found := ctx.Previous.MinerSlots[sender]; found && len(prevSlot.OutValue) != 0 {
			if !bytes.Equal(crypto.Hash(proposedSlot.PreviousInValue), prevSlot.OutValue) {
				return lib.ErrInvalidSignature()
			}
		}
		if err = ValidateSignature(ctx.Previous, proposedSlot.PreviousInValue, proposedSlot.Signature); err != nil {
			return err
		}
	}
	// the next-round order is derived, never caller chosen
	supposed := DeriveOrder(proposedSlot.Signature, ctx.Base.MinerCount())
	if proposedSlot.SupposedOrderOfNextRound != supposed {
		return lib.ErrOrderInvariantViolation(fmt.Sprintf("supposed order %d does not re-derive to %d", proposedSlot.SupposedOrderOfNextRound, supposed))
	}
	if final := ResolveNextRoundOrder(ctx.Base, sender, supposed); proposedSlot.FinalOrderOfNextRound != final {
		return lib.ErrOrderInvariantViolation(fmt.Sprintf("final order %d does not resolve to %d", proposedSlot.FinalOrderOfNextRound, final))
	}
	// the implied irreversible height is exactly the height being produced, and never decreases
	if proposedSlot.ImpliedIrreversibleBlockHeight != ctx.Env.BlockHeight {
		return lib.ErrInvalidImpliedHeight(proposedSlot.ImpliedIrreversibleBlockHeight, ctx.Env.BlockHeight)
	}
	if proposedSlot.ImpliedIrreversibleBlockHeight < baseSlot.ImpliedIrreversibleBlockHeight {
		return lib.ErrImpliedHeightDecreased(proposedSlot.ImpliedIrreversibleBlockHeight, baseSlot.ImpliedIrreversibleBlockHeight)
	}
	// the actual mining times are append only and owned by the sender
	if err = validateAppendedMiningTime(baseSlot, proposedSlot); err != nil {
		return err
	}
	if proposedSlot.ProducedBlocks != baseSlot.ProducedBlocks+1 {
		return lib.ErrInvalidRound("an update value increments the produced block counter by exactly one")
	}
	if proposedSlot.BlocksBeforeRound != baseSlot.BlocksBeforeRound || proposedSlot.ProducedTinyBlocks != baseSlot.ProducedTinyBlocks {
		return lib.ErrInvalidRound("an update value must not rewrite historical block counters")
	}
	if proposedSlot.Order != baseSlot.Order || proposedSlot.IsExtraBlockProducer != baseSlot.IsExtraBlockProducer {
		return lib.ErrInvalidRound("an update value must not reassign the sender's slot")
	}
	return validateUntouchedBeyondSender(ctx)
}

// TINY BLOCK

// tinyBlockValidator requires a prior update value this round (round 1 bootstrap excepted)
// and confirms the proposal only appends one mining time and bumps the slot counters
type tinyBlockValidator struct{}

func (v *tinyBlockValidator) Name() string { return "TinyBlockValidator" }

func (v *tinyBlockValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	sender := ctx.Env.Sender.String()
	baseSlot, err := ctx.Base.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	proposedSlot, err := ctx.Proposed.GetSlot(ctx.Env.Sender)
	if err != nil {
		return err
	}
	if len(baseSlot.OutValue) == 0 && ctx.Base.RoundNumber != 1 {
		return lib.ErrMissingUpdateValue(sender)
	}
	if err = validateAppendedMiningTime(baseSlot, proposedSlot); err != nil {
		return err
	}
	if proposedSlot.ProducedTinyBlocks != baseSlot.ProducedTinyBlocks+1 || proposedSlot.ProducedBlocks != baseSlot.ProducedBlocks+1 {
		return lib.ErrInvalidRound("a tiny block increments the tiny and produced block counters by exactly one")
	}
	if proposedSlot.BlocksBeforeRound != baseSlot.BlocksBeforeRound {
		return lib.ErrInvalidRound("a tiny block must not rewrite historical block counters")
	}
	// a tiny block never changes the consensus commitments
	if !bytes.Equal(proposedSlot.OutValue, baseSlot.OutValue) ||
		!bytes.Equal(proposedSlot.Signature, baseSlot.Signature) ||
		!bytes.Equal(proposedSlot.PreviousInValue, baseSlot.PreviousInValue) {
		return lib.ErrDuplicateSubmission(sender)
	}
	if proposedSlot.Order != baseSlot.Order || proposedSlot.IsExtraBlockProducer != baseSlot.IsExtraBlockProducer ||
		proposedSlot.SupposedOrderOfNextRound != baseSlot.SupposedOrderOfNextRound ||
		proposedSlot.FinalOrderOfNextRound != baseSlot.FinalOrderOfNextRound {
		return lib.ErrInvalidRound("a tiny block must not reassign the sender's slot")
	}
	if proposedSlot.ImpliedIrreversibleBlockHeight < baseSlot.ImpliedIrreversibleBlockHeight {
		return lib.ErrImpliedHeightDecreased(proposedSlot.ImpliedIrreversibleBlockHeight, baseSlot.ImpliedIrreversibleBlockHeight)
	}
	return validateUntouchedBeyondSender(ctx)
}

// ORDER UNIQUENESS

// orderUniquenessValidator rejects a successor round whose order assignments are not a
// bijection onto {1..N}; the comparison extracts the scalar order values, never de-duplicates
// slot records structurally
type orderUniquenessValidator struct{}

func (v *orderUniquenessValidator) Name() string { return "OrderUniquenessValidator" }

func (v *orderUniquenessValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	if err := ctx.Proposed.CheckBasic(); err != nil {
		return err
	}
	if ctx.Kind != NextRoundTransition {
		return nil
	}
	// miners who mined the base round keep the final order their signature resolved to;
	// the scalar duplicate scan completes before any per-slot check so the outcome does not
	// depend on map iteration order
	mined := ctx.Base.MinedMiners()
	seen := make(map[uint64]string)
	for _, m := range ctx.Base.Miners() {
		if _, ok := mined[m]; !ok {
			continue
		}
		finalOrder := ctx.Base.MinerSlots[m].FinalOrderOfNextRound
		if finalOrder == 0 {
			continue
		}
		if holder, duplicate := seen[finalOrder]; duplicate {
			return lib.ErrOrderInvariantViolation(fmt.Sprintf("final order %d claimed by both %s and %s", finalOrder, holder, m))
		}
		seen[finalOrder] = m
	}
	for m := range mined {
		finalOrder := ctx.Base.MinerSlots[m].FinalOrderOfNextRound
		if finalOrder == 0 {
			continue
		}
		proposedSlot, found := ctx.Proposed.MinerSlots[m]
		if !found {
			// the miner was removed by the replacement plan; continuity validates the removal
			continue
		}
		// a final order can exceed the successor's size after a removal; builders clamp those
		if finalOrder > uint64(ctx.Proposed.MinerCount()) {
			continue
		}
		if proposedSlot.Order != finalOrder {
			return lib.ErrOrderInvariantViolation(fmt.Sprintf("miner %s must hold its resolved order %d, not %d", m, finalOrder, proposedSlot.Order))
		}
	}
	return nil
}

// ROUND TERMINATION

// roundTerminationValidator checks the +1 increments, the fresh null commitments of a new
// round, the terminator's authorization, the deterministic extra block producer designation,
// and, for a term change, independently re-derives the time based threshold at execution time
type roundTerminationValidator struct {
	policy TimeSlotPolicy
	cfg    lib.ConsensusConfig
}

func (v *roundTerminationValidator) Name() string { return "RoundTerminationValidator" }

func (v *roundTerminationValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	base, proposed := ctx.Base, ctx.Proposed
	if proposed.RoundNumber != base.RoundNumber+1 {
		return lib.ErrRoundSequenceViolation(fmt.Sprintf("round number %d must be exactly %d", proposed.RoundNumber, base.RoundNumber+1))
	}
	switch ctx.Kind {
	case NextRoundTransition:
		if proposed.TermNumber != base.TermNumber {
			return lib.ErrRoundSequenceViolation("a next round must not change the term number")
		}
	case NextTermTransition:
		if proposed.TermNumber != base.TermNumber+1 {
			return lib.ErrRoundSequenceViolation(fmt.Sprintf("term number %d must be exactly %d", proposed.TermNumber, base.TermNumber+1))
		}
		// the two-thirds time consensus condition is re-derived here, at execution time,
		// never merely asserted by the proposer
		if !IsTimeToChangeTerm(base, ctx.ChainStartTime, ctx.Env.BlockTime, v.cfg.PeriodSeconds, v.cfg.MinersCountOfConsent(base.MinerCount())) {
			return lib.ErrTermThresholdNotMet()
		}
	}
	// a freshly initialized round carries no commitments and no mining history of its own
	for m, slot := range proposed.MinerSlots {
		if len(slot.OutValue) != 0 || len(slot.Signature) != 0 || len(slot.PreviousInValue) != 0 {
			return lib.ErrStaleCommitments()
		}
		if len(slot.ActualMiningTimes) != 0 || slot.ProducedBlocks != 0 || slot.ProducedTinyBlocks != 0 ||
			slot.SupposedOrderOfNextRound != 0 || slot.FinalOrderOfNextRound != 0 {
			return lib.ErrInvalidRound("a new round starts with reset per-round slot state")
		}
		if slot.ExpectedMiningTime != proposed.StartTime+slot.Order*v.policy.IntervalMS {
			return lib.ErrTimeSlotViolation(fmt.Sprintf("the expected mining time of %s does not match its order", m))
		}
		switch ctx.Kind {
		case NextTermTransition:
			if slot.MissedTimeSlots != 0 || slot.BlocksBeforeRound != 0 || slot.ImpliedIrreversibleBlockHeight != 0 {
				return lib.ErrInvalidRound("a new term starts with reset per-term counters")
			}
		case NextRoundTransition:
			// counters carry forward: missed slots accumulate, produced blocks move to history
			baseSlot, found := base.MinerSlots[m]
			if !found {
				if slot.MissedTimeSlots != 0 || slot.BlocksBeforeRound != 0 || slot.ImpliedIrreversibleBlockHeight != 0 {
					return lib.ErrInvalidRound("a replacement miner starts with reset counters")
				}
				continue
			}
			expectedMissed := baseSlot.MissedTimeSlots
			if len(baseSlot.OutValue) == 0 {
				expectedMissed++
			}
			if slot.MissedTimeSlots != expectedMissed {
				return lib.ErrInvalidRound(fmt.Sprintf("the missed slot counter of %s must carry to %d", m, expectedMissed))
			}
			if slot.BlocksBeforeRound != baseSlot.TotalProducedBlocks() {
				return lib.ErrInvalidRound(fmt.Sprintf("the produced block history of %s must carry to %d", m, baseSlot.TotalProducedBlocks()))
			}
			// the implied height is derived by the miner itself, never planted by the terminator
			if slot.ImpliedIrreversibleBlockHeight != baseSlot.ImpliedIrreversibleBlockHeight {
				return lib.ErrInvalidRound(fmt.Sprintf("the implied irreversible height of %s must carry unchanged to %d", m, baseSlot.ImpliedIrreversibleBlockHeight))
			}
		}
	}
	// terminator authorization: the designated extra block producer, the round 1 fallback,
	// or any miner once the terminator's own extension window has lapsed
	sender := ctx.Env.Sender.String()
	if sender != base.ExtraBlockProducer && base.RoundNumber != 1 &&
		ctx.Env.BlockTime < v.policy.RoundEndTime(base)+v.policy.IntervalMS {
		return lib.ErrWrongExtraBlockProducer(sender)
	}
	// the successor's terminator is derived, never chosen by the proposer
	if expected := DeriveExtraBlockProducer(proposed, base); proposed.ExtraBlockProducer != expected {
		return lib.ErrInvalidRound(fmt.Sprintf("extra block producer %s does not derive to %s", proposed.ExtraBlockProducer, expected))
	}
	// LIB never regresses across a commit
	if proposed.ConfirmedIrreversibleHeight < base.ConfirmedIrreversibleHeight ||
		proposed.ConfirmedIrreversibleRound < base.ConfirmedIrreversibleRound {
		return lib.ErrRoundSequenceViolation("the confirmed irreversible height must not decrease")
	}
	if proposed.StartTime != ctx.Env.BlockTime {
		return lib.ErrRoundSequenceViolation("the successor round starts at the terminating block's time")
	}
	if ctx.Env.BlockTime > ctx.ChainStartTime {
		if proposed.BlockchainAge != (ctx.Env.BlockTime-ctx.ChainStartTime)/1000 {
			return lib.ErrInvalidRound("the blockchain age does not derive from the terminating block's time")
		}
	}
	return nil
}

// MINER LIST CONTINUITY

// minerListContinuityValidator requires the proposed miner identifier set to be identical to
// the base round's unless the change is justified: an engine derived replacement plan for a
// next round, or the election confirmed list for a new term
type minerListContinuityValidator struct {
	cfg lib.ConsensusConfig
}

func (v *minerListContinuityValidator) Name() string { return "MinerListContinuityValidator" }

func (v *minerListContinuityValidator) Validate(ctx *ValidationContext) lib.ErrorI {
	proposedSet := make(map[string]struct{}, ctx.Proposed.MinerCount())
	for m := range ctx.Proposed.MinerSlots {
		proposedSet[m] = struct{}{}
	}
	switch ctx.Kind {
	case NextTermTransition:
		// the new term's list comes from the election collaborator, never the proposer
		if len(ctx.NewTermMiners) == 0 {
			return lib.ErrEmptyMinerList()
		}
		confirmed := make(map[string]struct{}, len(ctx.NewTermMiners))
		for _, m := range ctx.NewTermMiners {
			confirmed[m.String()] = struct{}{}
		}
		if !sameSet(proposedSet, confirmed) {
			return lib.ErrMinerListChanged()
		}
		changed := !ctx.Proposed.SameMinerSet(ctx.Base)
		if ctx.Proposed.MinerListJustChanged != changed {
			return lib.ErrInvalidRound("the miner list change flag does not match the set difference")
		}
		return nil
	default:
		// re-derive the evil set locally so a proposer cannot smuggle removals it invented
		detected := DetectEvilMiners(ctx.Base, v.cfg.MaximumMissedBlocks)
		if ctx.Plan != nil && !sameSet(ctx.Plan.Evil, detected) {
			return lib.ErrMinerListChanged()
		}
		expected := ctx.Plan.ExpectedMinerSet(ctx.Base)
		if !sameSet(proposedSet, expected) {
			return lib.ErrMinerListChanged()
		}
		if ctx.Proposed.MinerListJustChanged {
			return lib.ErrInvalidRound("only a term change may flag a miner list change")
		}
		return nil
	}
}

// IsTimeToChangeTerm() reports whether a quorum of miners' latest actual mining times have
// crossed into a blockchain-age period beyond the one the current term number implies
func IsTimeToChangeTerm(base *Round, chainStartMS, blockTimeMS, periodSeconds uint64, quorum int) bool {
	if periodSeconds == 0 || blockTimeMS < chainStartMS {
		return false
	}
	periodMS := periodSeconds * 1000
	// the block terminating the term must itself be past the boundary
	if (blockTimeMS-chainStartMS)/periodMS < base.TermNumber {
		return false
	}
	votes := 0
	for _, slot := range base.MinerSlots {
		latest := slot.LatestActualMiningTime()
		if latest < chainStartMS {
			continue
		}
		if (latest-chainStartMS)/periodMS >= base.TermNumber {
			votes++
		}
	}
	return votes >= quorum
}

// validateAppendedMiningTime() confirms the proposed slot's mining times are the base slot's
// with exactly one later timestamp appended: own-timestamp-only, monotonic per miner
func validateAppendedMiningTime(baseSlot, proposedSlot *MinerSlot) lib.ErrorI {
	if len(proposedSlot.ActualMiningTimes) != len(baseSlot.ActualMiningTimes)+1 {
		return lib.ErrTimeSlotViolation("exactly one actual mining time must be appended")
	}
	for i, t := range baseSlot.ActualMiningTimes {
		if proposedSlot.ActualMiningTimes[i] != t {
			return lib.ErrTimeSlotViolation("historical actual mining times must not be rewritten")
		}
	}
	appended := proposedSlot.LatestActualMiningTime()
	if prev := baseSlot.LatestActualMiningTime(); appended <= prev {
		return lib.ErrTimeSlotViolation("actual mining times must be monotonically increasing")
	}
	return nil
}

// validateUntouchedBeyondSender() confirms an in-round update changes nothing outside the
// sender's own slot: not the round header fields and not any other miner's slot
func validateUntouchedBeyondSender(ctx *ValidationContext) lib.ErrorI {
	base, proposed := ctx.Base, ctx.Proposed
	if proposed.RoundNumber != base.RoundNumber || proposed.TermNumber != base.TermNumber ||
		proposed.StartTime != base.StartTime || proposed.BlockchainAge != base.BlockchainAge ||
		proposed.ExtraBlockProducer != base.ExtraBlockProducer ||
		proposed.MinerListJustChanged != base.MinerListJustChanged ||
		proposed.ConfirmedIrreversibleHeight != base.ConfirmedIrreversibleHeight ||
		proposed.ConfirmedIrreversibleRound != base.ConfirmedIrreversibleRound {
		return lib.ErrInvalidRound("an in-round update must not change the round header fields")
	}
	if !proposed.SameMinerSet(base) {
		return lib.ErrMinerListChanged()
	}
	sender := ctx.Env.Sender.String()
	for m, baseSlot := range base.MinerSlots {
		if m == sender {
			continue
		}
		if !baseSlot.Equal(proposed.MinerSlots[m]) {
			return lib.ErrInvalidRound(fmt.Sprintf("an in-round update from %s must not touch the slot of %s", sender, m))
		}
	}
	return nil
}

// sameSet() reports whether two string sets hold the identical members
func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for m := range a {
		if _, found := b[m]; !found {
			return false
		}
	}
	return true
}
