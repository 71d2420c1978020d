package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aedpos-network/aedpos/lib"
)

const (
	testStartTime  = uint64(1_000_000_000_000) // an arbitrary unix ms epoch for fixtures
	testIntervalMS = uint64(4000)
)

// memStore is an in-memory RoundStore for engine tests
type memStore struct {
	rounds     map[uint64]*Round
	current    uint64
	chainStart uint64
	commitErr  lib.ErrorI // when set, CommitRound fails without writing
}

func newMemStore() *memStore { return &memStore{rounds: make(map[uint64]*Round)} }

func (s *memStore) GetRound(roundNumber uint64) (*Round, lib.ErrorI) {
	round, found := s.rounds[roundNumber]
	if !found {
		return nil, lib.ErrRoundNotFound(roundNumber)
	}
	return round.Copy(), nil
}

func (s *memStore) GetCurrentRound() (*Round, lib.ErrorI) {
	if s.current == 0 {
		return nil, lib.ErrRoundNotFound(0)
	}
	return s.GetRound(s.current)
}

func (s *memStore) GetPreviousRound() (*Round, lib.ErrorI) {
	if s.current <= 1 {
		return nil, lib.ErrRoundNotFound(0)
	}
	return s.GetRound(s.current - 1)
}

func (s *memStore) CommitRound(round *Round) lib.ErrorI {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.rounds[round.RoundNumber] = round.Copy()
	s.current = round.RoundNumber
	return nil
}

func (s *memStore) PruneBefore(roundNumber uint64) lib.ErrorI {
	for n := range s.rounds {
		if n > 1 && n < roundNumber {
			delete(s.rounds, n)
		}
	}
	return nil
}

func (s *memStore) ChainStartTime() (uint64, lib.ErrorI) { return s.chainStart, nil }

func (s *memStore) SetChainStartTime(startTime uint64) lib.ErrorI {
	s.chainStart = startTime
	return nil
}

// mockElection is a canned ElectionService
type mockElection struct {
	candidates  []lib.HexBytes // replacement alternatives handed out on request
	newTermList []lib.HexBytes // the confirmed miner list for any new term
	err         error          // when set, every call fails with this error
	notified    []lib.HexBytes // evil miners reported so far
}

func (m *mockElection) GetReplacementCandidates(_ map[string]struct{}, _ map[string]struct{}) ([]lib.HexBytes, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candidates, nil
}

func (m *mockElection) NotifyEvilMiner(miner lib.HexBytes) {
	m.notified = append(m.notified, miner)
}

func (m *mockElection) ConfirmNewTermMinerList(_ uint64) ([]lib.HexBytes, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.newTermList) == 0 {
		return nil, errors.New("no term list configured")
	}
	return m.newTermList, nil
}

// testMiners() returns n deterministic public key fixtures
func testMiners(n int) (miners []lib.HexBytes) {
	for i := 0; i < n; i++ {
		miners = append(miners, lib.HexBytes{byte(i + 1), 0xaa, 0xbb, 0xcc})
	}
	return
}

// newTestRound() builds a committed round 1 fixture over n miners
func newTestRound(t *testing.T, n int) *Round {
	round, err := GenerateFirstRound(testMiners(n), testStartTime, testIntervalMS)
	require.NoError(t, err)
	return round
}

// newTestEngine() wires an engine over an in-memory store with default policy overrides
func newTestEngine(t *testing.T, store *memStore, election ElectionService) *Engine {
	c := lib.DefaultConfig()
	c.StoreConfig.RoundRetention = 100
	if election == nil {
		election = &mockElection{}
	}
	e := New(c, store, election, nil, nil, lib.NewNullLogger())
	require.NotNil(t, e)
	return e
}

// minerByOrder() returns the public key holding the given order
func minerByOrder(t *testing.T, round *Round, order uint64) lib.HexBytes {
	slot := round.SlotByOrder(order)
	require.NotNil(t, slot)
	return slot.PubKey
}

// slotWindowTime() returns a time inside the miner's expected window
func slotWindowTime(round *Round, slot *MinerSlot) uint64 {
	return round.StartTime + slot.Order*testIntervalMS + 10
}
