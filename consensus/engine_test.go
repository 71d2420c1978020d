package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/lib/crypto"
)

func TestEngineGenesis(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, nil)
	require.NoError(t, eng.Genesis(testMiners(4), testStartTime))
	committed, err := store.GetCurrentRound()
	require.NoError(t, err)
	require.EqualValues(t, 1, committed.RoundNumber)
	require.EqualValues(t, 1, committed.TermNumber)
	chainStart, err := store.ChainStartTime()
	require.NoError(t, err)
	require.Equal(t, testStartTime, chainStart)
	// a second genesis over an initialized chain is rejected
	require.ErrorContains(t, eng.Genesis(testMiners(4), testStartTime), "already initialized")
}

// TestEngineRoundLifecycle drives a chain through two full rounds: every miner publishes its
// commitments, the terminator produces the successor, and the LIB advances once a quorum of
// implied heights from the completed round is observable
func TestEngineRoundLifecycle(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, nil)
	require.NoError(t, eng.Genesis(testMiners(4), testStartTime))

	inValues := make(map[string]lib.HexBytes) // miner -> secret in-value per round
	height := uint64(1)
	lastBlockTime := testStartTime

	mineRound := func(round *Round) {
		for _, m := range round.Miners() {
			slot := round.MinerSlots[m]
			env := &BlockEnv{
				Sender:        slot.PubKey,
				BlockHeight:   height,
				BlockTime:     slotWindowTime(round, slot),
				PrevBlockTime: lastBlockTime,
			}
			in := lib.HexBytes(crypto.Hash([]byte("secret-" + m)))
			proposed, err := eng.BuildUpdateValue(env, in, inValues[m])
			require.NoError(t, err)
			require.NoError(t, eng.ProcessUpdateValue(env, proposed))
			inValues[m] = in
			height++
			lastBlockTime = env.BlockTime
		}
	}

	// round 1: all four miners publish
	round1, err := store.GetCurrentRound()
	require.NoError(t, err)
	mineRound(round1)
	committed, err := store.GetCurrentRound()
	require.NoError(t, err)
	require.Len(t, committed.MinedMiners(), 4)
	// no previous round exists, so the LIB holds at zero
	require.Zero(t, committed.ConfirmedIrreversibleHeight)

	// a duplicate publication this round is rejected
	first := minerByOrder(t, committed, 1)
	dupEnv := &BlockEnv{
		Sender:        first,
		BlockHeight:   height,
		BlockTime:     lastBlockTime + 10,
		PrevBlockTime: lastBlockTime,
	}
	_, err = eng.BuildUpdateValue(dupEnv, crypto.Hash([]byte("again")), inValues[first.String()])
	require.ErrorContains(t, err, "duplicate submission")

	// the terminator rolls the round over
	termEnv := &BlockEnv{
		Sender:        committed.MinerSlots[committed.ExtraBlockProducer].PubKey,
		BlockHeight:   height,
		BlockTime:     eng.policy.RoundEndTime(committed) + 10,
		PrevBlockTime: lastBlockTime,
	}
	height++
	lastBlockTime = termEnv.BlockTime
	proposed, err := eng.GenerateNextRound(termEnv)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessNextRound(termEnv, proposed))
	round2, err := store.GetCurrentRound()
	require.NoError(t, err)
	require.EqualValues(t, 2, round2.RoundNumber)
	require.EqualValues(t, 1, round2.TermNumber)
	// produced block history moved into the carry, per round counters reset
	for _, slot := range round2.MinerSlots {
		require.EqualValues(t, 1, slot.BlocksBeforeRound)
		require.Zero(t, slot.ProducedBlocks)
		require.Zero(t, slot.MissedTimeSlots)
		require.Empty(t, slot.OutValue)
	}

	// round 2: the LIB advances once a quorum of round 1 implied heights is confirmed
	mineRound(round2)
	committed, err = store.GetCurrentRound()
	require.NoError(t, err)
	require.NotZero(t, committed.ConfirmedIrreversibleHeight)
	require.EqualValues(t, 1, committed.ConfirmedIrreversibleRound)
	// the LIB is the lower third order statistic of the round 1 implied heights {1,2,3,4}
	require.EqualValues(t, 2, committed.ConfirmedIrreversibleHeight)
}

func TestEngineMissedSlotCarry(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, nil)
	require.NoError(t, eng.Genesis(testMiners(4), testStartTime))
	round1, err := store.GetCurrentRound()
	require.NoError(t, err)
	// only the miner of order 2 publishes; the other three miss their slots
	sender := minerByOrder(t, round1, 2)
	env := &BlockEnv{
		Sender:        sender,
		BlockHeight:   1,
		BlockTime:     slotWindowTime(round1, round1.MinerSlots[sender.String()]),
		PrevBlockTime: testStartTime,
	}
	proposed, err := eng.BuildUpdateValue(env, crypto.Hash([]byte("only")), nil)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessUpdateValue(env, proposed))
	// any miner may terminate round 1 once the round has run out
	committed, err := store.GetCurrentRound()
	require.NoError(t, err)
	termEnv := &BlockEnv{
		Sender:        sender,
		BlockHeight:   2,
		BlockTime:     eng.policy.RoundEndTime(committed) + eng.policy.IntervalMS + 10,
		PrevBlockTime: env.BlockTime,
	}
	next, err := eng.GenerateNextRound(termEnv)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessNextRound(termEnv, next))
	round2, err := store.GetCurrentRound()
	require.NoError(t, err)
	// the three silent miners carry one missed slot each, the publisher carries none
	for m, slot := range round2.MinerSlots {
		if m == sender.String() {
			require.Zero(t, slot.MissedTimeSlots)
			continue
		}
		require.EqualValues(t, 1, slot.MissedTimeSlots)
	}
	require.EqualValues(t, 3, round2.TotalMissedSlots())
}

func TestEngineTinyBlocks(t *testing.T) {
	store := newMemStore()
	c := lib.DefaultConfig()
	c.ConsensusConfig.MaxTinyBlocksCount = 1
	eng := New(c, store, &mockElection{}, nil, nil, lib.NewNullLogger())
	require.NoError(t, eng.Genesis(testMiners(4), testStartTime))
	round1, err := store.GetCurrentRound()
	require.NoError(t, err)
	sender := minerByOrder(t, round1, 3)
	slot := round1.MinerSlots[sender.String()]
	blockTime := slotWindowTime(round1, slot)
	env := &BlockEnv{Sender: sender, BlockHeight: 1, BlockTime: blockTime, PrevBlockTime: testStartTime}
	proposed, err := eng.BuildUpdateValue(env, crypto.Hash([]byte("in")), nil)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessUpdateValue(env, proposed))
	// the first tiny block fits the allowance
	tinyEnv := &BlockEnv{Sender: sender, BlockHeight: 2, BlockTime: blockTime + 100, PrevBlockTime: blockTime}
	tiny, err := eng.BuildTinyBlock(tinyEnv)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessTinyBlock(tinyEnv, tiny))
	// the second exceeds the cap of one
	tinyEnv2 := &BlockEnv{Sender: sender, BlockHeight: 3, BlockTime: blockTime + 200, PrevBlockTime: blockTime + 100}
	tiny2, err := eng.BuildTinyBlock(tinyEnv2)
	require.NoError(t, err)
	require.ErrorContains(t, eng.ProcessTinyBlock(tinyEnv2, tiny2), "cap exceeded")
}

func TestEngineEvilMinerReplacement(t *testing.T) {
	// a base round where four of six miners crossed the missed slot threshold, with only two
	// alternatives available: all four leave the set and the round continues with four miners
	base := minedBase(t, 6)
	miners := base.Miners()
	evil := miners[:4]
	for _, m := range evil {
		slot := base.MinerSlots[m]
		slot.MissedTimeSlots = lib.DefaultConsensusConfig().MaximumMissedBlocks
		slot.OutValue, slot.Signature = nil, nil
		slot.FinalOrderOfNextRound = 0
	}
	store := newMemStore()
	store.chainStart = testStartTime - 1000
	require.NoError(t, store.CommitRound(base))
	election := &mockElection{candidates: []lib.HexBytes{{0xf1}, {0xf2}}}
	eng := newTestEngine(t, store, election)
	env := &BlockEnv{
		Sender:        base.MinerSlots[base.ExtraBlockProducer].PubKey,
		BlockHeight:   50,
		BlockTime:     eng.policy.RoundEndTime(base) + 10,
		PrevBlockTime: eng.policy.RoundEndTime(base),
	}
	proposed, err := eng.GenerateNextRound(env)
	require.NoError(t, err)
	require.NoError(t, eng.ProcessNextRound(env, proposed))
	round2, err := store.GetCurrentRound()
	require.NoError(t, err)
	// 6 - 4 evil + 2 substitutes
	require.Len(t, round2.MinerSlots, 4)
	for _, m := range evil {
		require.NotContains(t, round2.MinerSlots, m)
	}
	require.Contains(t, round2.MinerSlots, lib.HexBytes{0xf1}.String())
	require.Contains(t, round2.MinerSlots, lib.HexBytes{0xf2}.String())
	require.NoError(t, round2.CheckBasic())
	// the evil miners were reported to the election service
	require.Len(t, election.notified, 4)
}

func TestEngineCommitFailureSuppressesNotifications(t *testing.T) {
	// a failed store commit must leave no external trace of the termination
	base := minedBase(t, 6)
	evil := base.Miners()[:4]
	for _, m := range evil {
		slot := base.MinerSlots[m]
		slot.MissedTimeSlots = lib.DefaultConsensusConfig().MaximumMissedBlocks
		slot.OutValue, slot.Signature = nil, nil
		slot.FinalOrderOfNextRound = 0
	}
	store := newMemStore()
	store.chainStart = testStartTime - 1000
	require.NoError(t, store.CommitRound(base))
	election := &mockElection{candidates: []lib.HexBytes{{0xf1}, {0xf2}}}
	eng := newTestEngine(t, store, election)
	env := &BlockEnv{
		Sender:        base.MinerSlots[base.ExtraBlockProducer].PubKey,
		BlockHeight:   50,
		BlockTime:     eng.policy.RoundEndTime(base) + 10,
		PrevBlockTime: eng.policy.RoundEndTime(base),
	}
	proposed, err := eng.GenerateNextRound(env)
	require.NoError(t, err)
	store.commitErr = lib.ErrCommitDB(errors.New("disk full"))
	require.ErrorContains(t, eng.ProcessNextRound(env, proposed), "commitDB")
	require.Empty(t, election.notified)
	// the identical proposal commits once the store recovers, and only then reports
	store.commitErr = nil
	require.NoError(t, eng.ProcessNextRound(env, proposed))
	require.Len(t, election.notified, 4)
}

func TestEngineElectionOutage(t *testing.T) {
	base := minedBase(t, 4)
	miner := base.Miners()[0]
	base.MinerSlots[miner].MissedTimeSlots = lib.DefaultConsensusConfig().MaximumMissedBlocks
	base.MinerSlots[miner].OutValue, base.MinerSlots[miner].Signature = nil, nil
	base.MinerSlots[miner].FinalOrderOfNextRound = 0
	store := newMemStore()
	store.chainStart = testStartTime - 1000
	require.NoError(t, store.CommitRound(base))
	eng := newTestEngine(t, store, &mockElection{err: errTestOutage})
	env := &BlockEnv{
		Sender:        base.MinerSlots[base.ExtraBlockProducer].PubKey,
		BlockHeight:   50,
		BlockTime:     eng.policy.RoundEndTime(base) + 10,
		PrevBlockTime: eng.policy.RoundEndTime(base),
	}
	// a replacement is required but the election service is down: the transition fails loudly
	_, err := eng.GenerateNextRound(env)
	require.ErrorContains(t, err, "election service")
}

func TestEnginePruning(t *testing.T) {
	store := newMemStore()
	c := lib.DefaultConfig()
	c.StoreConfig.RoundRetention = 1
	eng := New(c, store, &mockElection{}, nil, nil, lib.NewNullLogger())
	require.NoError(t, eng.Genesis(testMiners(4), testStartTime))
	lastBlockTime := testStartTime
	for i := 0; i < 3; i++ {
		base, err := store.GetCurrentRound()
		require.NoError(t, err)
		env := &BlockEnv{
			Sender:        base.MinerSlots[base.ExtraBlockProducer].PubKey,
			BlockHeight:   uint64(i + 1),
			BlockTime:     eng.policy.RoundEndTime(base) + eng.policy.IntervalMS + 10,
			PrevBlockTime: lastBlockTime,
		}
		lastBlockTime = env.BlockTime
		proposed, err := eng.GenerateNextRound(env)
		require.NoError(t, err)
		require.NoError(t, eng.ProcessNextRound(env, proposed))
	}
	// rounds below current - retention are gone, round 1 is always kept
	require.Contains(t, store.rounds, uint64(1))
	require.Contains(t, store.rounds, uint64(4))
	require.Contains(t, store.rounds, uint64(3))
	require.NotContains(t, store.rounds, uint64(2))
}

var errTestOutage = errors.New("election service offline")
