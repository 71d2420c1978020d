package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aedpos-network/aedpos/lib"
)

// libFixture builds a previous round with the given implied heights and a current round where
// the listed miners mined
func libFixture(t *testing.T, implied []uint64, minedCurrent int) (current, previous *Round) {
	previous = newTestRound(t, len(implied))
	for i, m := range previous.Miners() {
		previous.MinerSlots[m].ImpliedIrreversibleBlockHeight = implied[i]
	}
	current = previous.Copy()
	current.RoundNumber = 2
	for i, m := range current.Miners() {
		slot := current.MinerSlots[m]
		slot.OutValue = nil
		if i < minedCurrent {
			slot.OutValue = lib.HexBytes{0x01}
		}
	}
	return
}

func TestCalculateLib(t *testing.T) {
	tests := []struct {
		name            string
		detail          string
		implied         []uint64
		minedCurrent    int
		confirmedHeight uint64
		confirmedRound  uint64
		quorum          int
		wantHeight      uint64
		wantMoved       bool
	}{
		{
			name:         "advances to the lower third order statistic",
			detail:       "with 4 samples the element at index (4-1)/3 = 1 is confirmed",
			implied:      []uint64{10, 12, 14, 16},
			minedCurrent: 4,
			quorum:       3,
			wantHeight:   12,
			wantMoved:    true,
		},
		{
			name:            "quorum miss holds the prior value",
			detail:          "too few miners of the previous round mined the current one",
			implied:         []uint64{10, 12, 14, 16},
			minedCurrent:    2,
			confirmedHeight: 9,
			confirmedRound:  1,
			quorum:          3,
			wantHeight:      9,
		},
		{
			name:            "never decreases",
			detail:          "a computed height at or below the confirmed one holds",
			implied:         []uint64{10, 12, 14, 16},
			minedCurrent:    4,
			confirmedHeight: 12,
			confirmedRound:  1,
			quorum:          3,
			wantHeight:      12,
		},
		{
			name:            "zero implied heights are not samples",
			detail:          "a miner that never set a height cannot vote",
			implied:         []uint64{0, 0, 14, 16},
			minedCurrent:    4,
			confirmedHeight: 5,
			quorum:          3,
			wantHeight:      5,
		},
		{
			name:         "exact quorum advances",
			implied:      []uint64{10, 12, 14, 0},
			minedCurrent: 3,
			quorum:       3,
			wantHeight:   10,
			wantMoved:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			current, previous := libFixture(t, test.implied, test.minedCurrent)
			got := CalculateLib(current, previous, test.confirmedHeight, test.confirmedRound, test.quorum)
			require.Equal(t, test.wantHeight, got.Height)
			require.Equal(t, test.wantMoved, got.Moved)
			if !test.wantMoved {
				require.Equal(t, test.confirmedRound, got.Round)
			} else {
				require.Equal(t, previous.RoundNumber, got.Round)
			}
		})
	}
}

func TestCalculateLibFirstRound(t *testing.T) {
	// the very first round has no previous round to sample from
	current := newTestRound(t, 4)
	got := CalculateLib(current, nil, 0, 0, 3)
	require.Zero(t, got.Height)
	require.False(t, got.Moved)
}
