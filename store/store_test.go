package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aedpos-network/aedpos/consensus"
	"github.com/aedpos-network/aedpos/lib"
)

func testStore(t *testing.T) *Store {
	c := lib.DefaultConfig()
	c.StoreConfig.InMemory = true
	s, err := New(c, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testRound(t *testing.T, roundNumber uint64) *consensus.Round {
	miners := []lib.HexBytes{{0x01, 0xaa}, {0x02, 0xaa}, {0x03, 0xaa}}
	round, err := consensus.GenerateFirstRound(miners, 1_000_000, 4000)
	require.NoError(t, err)
	round.RoundNumber = roundNumber
	return round
}

func TestStoreRoundLifecycle(t *testing.T) {
	s := testStore(t)
	// pre genesis there is no current round
	_, err := s.GetCurrentRound()
	require.ErrorContains(t, err, "not found")
	// committing advances the current pointer atomically
	require.NoError(t, s.CommitRound(testRound(t, 1)))
	current, err := s.GetCurrentRound()
	require.NoError(t, err)
	require.EqualValues(t, 1, current.RoundNumber)
	// round 1 has no previous round
	_, err = s.GetPreviousRound()
	require.ErrorContains(t, err, "not found")
	require.NoError(t, s.CommitRound(testRound(t, 2)))
	previous, err := s.GetPreviousRound()
	require.NoError(t, err)
	require.EqualValues(t, 1, previous.RoundNumber)
	// the snapshot round trips through the codec intact
	require.Equal(t, current.ExtraBlockProducer, previous.ExtraBlockProducer)
	require.Len(t, previous.MinerSlots, 3)
	for _, slot := range previous.MinerSlots {
		require.NotZero(t, slot.Order)
		require.NotZero(t, slot.ExpectedMiningTime)
	}
}

func TestStorePruneBefore(t *testing.T) {
	s := testStore(t)
	for n := uint64(1); n <= 5; n++ {
		require.NoError(t, s.CommitRound(testRound(t, n)))
	}
	require.NoError(t, s.PruneBefore(4))
	// rounds 2 and 3 are gone, round 1 is always retained
	_, err := s.GetRound(1)
	require.NoError(t, err)
	_, err = s.GetRound(2)
	require.ErrorContains(t, err, "not found")
	_, err = s.GetRound(3)
	require.ErrorContains(t, err, "not found")
	_, err = s.GetRound(4)
	require.NoError(t, err)
	current, err := s.GetCurrentRound()
	require.NoError(t, err)
	require.EqualValues(t, 5, current.RoundNumber)
}

func TestStoreChainStartTime(t *testing.T) {
	s := testStore(t)
	// unset reads as zero
	start, err := s.ChainStartTime()
	require.NoError(t, err)
	require.Zero(t, start)
	require.NoError(t, s.SetChainStartTime(42_000))
	start, err = s.ChainStartTime()
	require.NoError(t, err)
	require.EqualValues(t, 42_000, start)
}
