package consensus

import (
	"sort"

	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/lib/crypto"
)

/*
	TRANSITION ENGINE:

	The engine is the sole writer of the round store. Every transition re-reads the
	authoritative committed state, runs the full validation pipeline over immutable snapshots,
	and only then commits, so a rejected proposal leaves no partial state behind. The engine is
	invoked synchronously, once per incoming block, by a single threaded deterministic executor;
	there is no internal concurrency to coordinate.
*/

// RoundStore is the persistence boundary of the committed rounds; the engine is its only writer
type RoundStore interface {
	// GetRound() returns a retained historical round by number
	GetRound(roundNumber uint64) (*Round, lib.ErrorI)
	// GetCurrentRound() returns the committed round; ErrRoundNotFound pre genesis
	GetCurrentRound() (*Round, lib.ErrorI)
	// GetPreviousRound() returns the round before current; ErrRoundNotFound when current is round 1
	GetPreviousRound() (*Round, lib.ErrorI)
	// CommitRound() atomically replaces the current round state
	CommitRound(round *Round) lib.ErrorI
	// PruneBefore() drops rounds below the floor, always retaining the genesis adjacent round
	PruneBefore(roundNumber uint64) lib.ErrorI
	// ChainStartTime() returns the recorded blockchain start in unix ms
	ChainStartTime() (uint64, lib.ErrorI)
	// SetChainStartTime() records the blockchain start; genesis only
	SetChainStartTime(startTime uint64) lib.ErrorI
}

// Engine executes the UpdateValue / TinyBlock / NextRound / NextTerm transitions
type Engine struct {
	cfg       lib.ConsensusConfig
	retention uint64
	policy    TimeSlotPolicy
	pipeline  *Pipeline
	store     RoundStore
	election  ElectionService
	notify    *notifier
	metrics   *lib.Metrics
	log       lib.LoggerI
}

// New() wires the engine with its store and external collaborators; the election and treasury
// references are fixed at construction, never taken from validated data
func New(c lib.Config, store RoundStore, election ElectionService, treasury TreasuryService, metrics *lib.Metrics, log lib.LoggerI) *Engine {
	return &Engine{
		cfg:       c.ConsensusConfig,
		retention: c.StoreConfig.RoundRetention,
		policy:    NewTimeSlotPolicy(c.ConsensusConfig),
		pipeline:  NewPipeline(c.ConsensusConfig, log),
		store:     store,
		election:  election,
		notify:    &notifier{treasury: treasury, log: log},
		metrics:   metrics,
		log:       log,
	}
}

// Genesis() initializes the chain with round 1 of term 1 built from the initial miner list
func (e *Engine) Genesis(miners []lib.HexBytes, startTime uint64) lib.ErrorI {
	if _, err := e.store.GetCurrentRound(); err == nil {
		return lib.ErrRoundSequenceViolation("the chain is already initialized")
	}
	round, err := GenerateFirstRound(miners, startTime, e.cfg.MiningIntervalMS)
	if err != nil {
		return err
	}
	if err = e.store.SetChainStartTime(startTime); err != nil {
		return err
	}
	if err = e.store.CommitRound(round); err != nil {
		return err
	}
	e.log.Infof("genesis committed: %s", round.String())
	e.metrics.UpdateRound(round.RoundNumber, round.TermNumber, 0, round.MinerCount())
	return nil
}

// ProcessUpdateValue() validates and commits a miner's in-round commitment publication
func (e *Engine) ProcessUpdateValue(env *BlockEnv, proposed *Round) lib.ErrorI {
	return e.process(UpdateValueTransition, env, proposed)
}

// ProcessTinyBlock() validates and commits an additional block inside the sender's slot
func (e *Engine) ProcessTinyBlock(env *BlockEnv, proposed *Round) lib.ErrorI {
	return e.process(TinyBlockTransition, env, proposed)
}

// ProcessNextRound() validates and commits a round termination
func (e *Engine) ProcessNextRound(env *BlockEnv, proposed *Round) lib.ErrorI {
	return e.process(NextRoundTransition, env, proposed)
}

// ProcessNextTerm() validates and commits a round and term termination
func (e *Engine) ProcessNextTerm(env *BlockEnv, proposed *Round) lib.ErrorI {
	return e.process(NextTermTransition, env, proposed)
}

// process() is the single commit-or-reject path shared by every transition kind
func (e *Engine) process(kind TransitionKind, env *BlockEnv, proposed *Round) lib.ErrorI {
	// the authoritative state is re-read immediately before each transition
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return err
	}
	previous, err := e.store.GetPreviousRound()
	if err != nil {
		if err.Code() != lib.CodeRoundNotFound || err.Module() != lib.ConsensusModule {
			return err
		}
		previous = nil
	}
	chainStart, err := e.store.ChainStartTime()
	if err != nil {
		return err
	}
	ctx := &ValidationContext{
		Kind:           kind,
		Base:           base,
		Previous:       previous,
		Proposed:       proposed,
		Env:            env,
		ChainStartTime: chainStart,
	}
	switch kind {
	case NextRoundTransition:
		if ctx.Plan, err = e.replacementPlan(base); err != nil {
			return err
		}
	case NextTermTransition:
		miners, er := e.election.ConfirmNewTermMinerList(base.TermNumber + 1)
		if er != nil {
			return lib.ErrElectionServiceUnavailable(er)
		}
		ctx.NewTermMiners = miners
	}
	if err = e.pipeline.Validate(ctx); err != nil {
		e.metrics.Rejected(string(kind))
		return err
	}
	// 100% of the pipeline approved: build the committed state from the validated proposal
	committed := proposed.Copy()
	switch kind {
	case UpdateValueTransition:
		// LIB is re-derived from the two most recent rounds on every update value
		result := CalculateLib(committed, previous, base.ConfirmedIrreversibleHeight, base.ConfirmedIrreversibleRound,
			e.cfg.MinersCountOfConsent(base.MinerCount()))
		committed.ConfirmedIrreversibleHeight, committed.ConfirmedIrreversibleRound = result.Height, result.Round
		if result.Moved {
			e.log.Infof("LIB advanced to height %d (round %d)", result.Height, result.Round)
		}
	case TinyBlockTransition:
		e.metrics.TinyBlock()
	}
	if err = e.store.CommitRound(committed); err != nil {
		return err
	}
	// external side effects fire only for a committed termination
	if kind == NextRoundTransition || kind == NextTermTransition {
		e.onRoundTerminated(base, ctx.Plan)
		e.pruneRetired(committed.RoundNumber)
	}
	e.metrics.Accepted(string(kind))
	e.metrics.UpdateRound(committed.RoundNumber, committed.TermNumber, committed.ConfirmedIrreversibleHeight, committed.MinerCount())
	e.log.Debugf("%s committed by %s: %s", kind, lib.Truncate(env.Sender.String(), 10), committed.String())
	return nil
}

// replacementPlan() detects evil miners over the terminating round and pairs them with
// alternatives from the election collaborator; detection runs opportunistically here, at
// round termination, and a detected miner is removed even when no alternative exists
func (e *Engine) replacementPlan(base *Round) (*ReplacementPlan, lib.ErrorI) {
	evil := DetectEvilMiners(base, e.cfg.MaximumMissedBlocks)
	if len(evil) == 0 {
		return nil, nil
	}
	current := make(map[string]struct{}, base.MinerCount())
	for m := range base.MinerSlots {
		current[m] = struct{}{}
	}
	alternatives, err := e.election.GetReplacementCandidates(evil, current)
	if err != nil {
		return nil, lib.ErrElectionServiceUnavailable(err)
	}
	return BuildReplacementPlan(evil, alternatives), nil
}

// onRoundTerminated() emits the fire and forget round completion side effects
func (e *Engine) onRoundTerminated(base *Round, plan *ReplacementPlan) {
	if !plan.IsEmpty() {
		for m := range plan.Evil {
			pub, _ := lib.NewHexBytesFromString(m)
			e.election.NotifyEvilMiner(pub)
			e.metrics.EvilDetected()
			e.log.Warnf("miner %s marked evil with %d missed slots", lib.Truncate(m, 10), base.MinerSlots[m].MissedTimeSlots)
		}
	}
	mined := make([]lib.HexBytes, 0, base.MinerCount())
	missed := uint64(0)
	for m, slot := range base.MinerSlots {
		if len(slot.OutValue) != 0 {
			pub, _ := lib.NewHexBytesFromString(m)
			mined = append(mined, pub)
		} else {
			missed++
		}
	}
	sort.Slice(mined, func(i, j int) bool { return mined[i].String() < mined[j].String() })
	e.metrics.MissedSlots(missed)
	e.notify.roundCompleted(base.RoundNumber, mined)
}

// pruneRetired() drops rounds that fell out of the retention window
func (e *Engine) pruneRetired(currentRoundNumber uint64) {
	if currentRoundNumber <= e.retention {
		return
	}
	if err := e.store.PruneBefore(currentRoundNumber - e.retention); err != nil {
		e.log.Warnf("pruning below round %d failed: %s", currentRoundNumber-e.retention, err.Error())
	}
}

// PROPOSAL BUILDERS BELOW: the producer side constructs the proposals the pipeline validates;
// building mutates only copies and never touches committed state

// BuildUpdateValue() constructs the proposal a miner submits to publish its commitments: the
// out value commits to the secret in-value, the signature folds the previous round's chain,
// and the next-round orders are derived from that signature
func (e *Engine) BuildUpdateValue(env *BlockEnv, inValue, previousInValue lib.HexBytes) (*Round, lib.ErrorI) {
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return nil, err
	}
	previous, _ := e.store.GetPreviousRound()
	proposed := base.Copy()
	slot, err := proposed.GetSlot(env.Sender)
	if err != nil {
		return nil, err
	}
	if len(slot.OutValue) != 0 || len(slot.Signature) != 0 {
		return nil, lib.ErrDuplicateSubmission(env.Sender.String())
	}
	slot.OutValue = crypto.Hash(inValue)
	if previous != nil {
		slot.PreviousInValue = previousInValue
		slot.Signature = CalculateSignature(previous, previousInValue)
	} else {
		// round 1 bootstraps the chain from the commitment itself
		slot.Signature = crypto.Hash(inValue)
	}
	slot.SupposedOrderOfNextRound = DeriveOrder(slot.Signature, base.MinerCount())
	slot.FinalOrderOfNextRound = ResolveNextRoundOrder(base, env.Sender.String(), slot.SupposedOrderOfNextRound)
	slot.ImpliedIrreversibleBlockHeight = env.BlockHeight
	slot.ActualMiningTimes = append(slot.ActualMiningTimes, env.BlockTime)
	slot.ProducedBlocks++
	return proposed, nil
}

// BuildTinyBlock() constructs the proposal for an additional block inside the sender's slot
func (e *Engine) BuildTinyBlock(env *BlockEnv) (*Round, lib.ErrorI) {
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return nil, err
	}
	proposed := base.Copy()
	slot, err := proposed.GetSlot(env.Sender)
	if err != nil {
		return nil, err
	}
	slot.ActualMiningTimes = append(slot.ActualMiningTimes, env.BlockTime)
	slot.ProducedBlocks++
	slot.ProducedTinyBlocks++
	return proposed, nil
}

// GenerateNextRound() builds the successor round: miners who mined keep the order their
// signature resolved to, miners who did not mine (and replacement substitutes) fill the
// complement of the occupied order set, and the new terminator is derived deterministically
func (e *Engine) GenerateNextRound(env *BlockEnv) (*Round, lib.ErrorI) {
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return nil, err
	}
	chainStart, err := e.store.ChainStartTime()
	if err != nil {
		return nil, err
	}
	plan, err := e.replacementPlan(base)
	if err != nil {
		return nil, err
	}
	expected := plan.ExpectedMinerSet(base)
	n := uint64(len(expected))
	if n == 0 {
		return nil, lib.ErrEmptyMinerList()
	}
	next := &Round{
		RoundNumber:                 base.RoundNumber + 1,
		TermNumber:                  base.TermNumber,
		StartTime:                   env.BlockTime,
		BlockchainAge:               blockchainAge(chainStart, env.BlockTime),
		MinerSlots:                  make(map[string]*MinerSlot, n),
		ConfirmedIrreversibleHeight: base.ConfirmedIrreversibleHeight,
		ConfirmedIrreversibleRound:  base.ConfirmedIrreversibleRound,
	}
	mined := base.MinedMiners()
	// mined miners claim their resolved orders first, in deterministic sequence
	taken := make(map[uint64]bool, n)
	type claim struct {
		miner string
		order uint64
	}
	claims := make([]claim, 0, len(mined))
	for m := range mined {
		if _, keep := expected[m]; !keep {
			continue
		}
		claims = append(claims, claim{miner: m, order: base.MinerSlots[m].FinalOrderOfNextRound})
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].order < claims[j].order })
	for _, c := range claims {
		order := c.order
		// clamp a stale order into range, then walk to the first free one
		if order == 0 || order > n {
			order = 1
		}
		for taken[order] {
			order = order%n + 1
		}
		taken[order] = true
		next.MinerSlots[c.miner] = e.newSlotFromBase(base, c.miner, order, env.BlockTime)
	}
	// everyone else fills the complement in sorted identifier order
	rest := make([]string, 0, int(n)-len(claims))
	for m := range expected {
		if _, claimed := next.MinerSlots[m]; !claimed {
			rest = append(rest, m)
		}
	}
	sort.Strings(rest)
	free := uint64(1)
	for _, m := range rest {
		for taken[free] {
			free++
		}
		taken[free] = true
		next.MinerSlots[m] = e.newSlotFromBase(base, m, free, env.BlockTime)
	}
	next.ExtraBlockProducer = DeriveExtraBlockProducer(next, base)
	if producer, found := next.MinerSlots[next.ExtraBlockProducer]; found {
		producer.IsExtraBlockProducer = true
	}
	return next, next.CheckBasic()
}

// GenerateNextTerm() builds the first round of a new term from the election confirmed miner
// list; per-term counters start from zero and the continuity flag records a changed set
func (e *Engine) GenerateNextTerm(env *BlockEnv) (*Round, lib.ErrorI) {
	base, err := e.store.GetCurrentRound()
	if err != nil {
		return nil, err
	}
	chainStart, err := e.store.ChainStartTime()
	if err != nil {
		return nil, err
	}
	miners, er := e.election.ConfirmNewTermMinerList(base.TermNumber + 1)
	if er != nil {
		return nil, lib.ErrElectionServiceUnavailable(er)
	}
	next, err := GenerateFirstRound(miners, env.BlockTime, e.cfg.MiningIntervalMS)
	if err != nil {
		return nil, err
	}
	next.RoundNumber = base.RoundNumber + 1
	next.TermNumber = base.TermNumber + 1
	next.BlockchainAge = blockchainAge(chainStart, env.BlockTime)
	next.ConfirmedIrreversibleHeight = base.ConfirmedIrreversibleHeight
	next.ConfirmedIrreversibleRound = base.ConfirmedIrreversibleRound
	next.MinerListJustChanged = !next.SameMinerSet(base)
	// re-derive the terminator now that the round numbers and miner set are final
	for _, slot := range next.MinerSlots {
		slot.IsExtraBlockProducer = false
	}
	next.ExtraBlockProducer = DeriveExtraBlockProducer(next, base)
	if producer, found := next.MinerSlots[next.ExtraBlockProducer]; found {
		producer.IsExtraBlockProducer = true
	}
	return next, next.CheckBasic()
}

// newSlotFromBase() carries a miner's counters into the successor round slot: produced block
// history moves into the explicit carry field, and a missed slot increments the term counter
func (e *Engine) newSlotFromBase(base *Round, miner string, order, startTime uint64) *MinerSlot {
	slot := &MinerSlot{
		Order:              order,
		ExpectedMiningTime: startTime + order*e.cfg.MiningIntervalMS,
	}
	baseSlot, found := base.MinerSlots[miner]
	if !found {
		// a replacement substitute starts with a clean history
		pub, _ := lib.NewHexBytesFromString(miner)
		slot.PubKey = pub
		return slot
	}
	slot.PubKey = append(lib.HexBytes{}, baseSlot.PubKey...)
	slot.BlocksBeforeRound = baseSlot.TotalProducedBlocks()
	slot.MissedTimeSlots = baseSlot.MissedTimeSlots
	if len(baseSlot.OutValue) == 0 {
		slot.MissedTimeSlots++
	}
	slot.ImpliedIrreversibleBlockHeight = baseSlot.ImpliedIrreversibleBlockHeight
	return slot
}

// blockchainAge() converts a block time into whole seconds since the chain start
func blockchainAge(chainStartMS, blockTimeMS uint64) uint64 {
	if blockTimeMS <= chainStartMS {
		return 0
	}
	return (blockTimeMS - chainStartMS) / 1000
}
