package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aedpos-network/aedpos/lib"
)

func TestDetectEvilMiners(t *testing.T) {
	round := newTestRound(t, 5)
	miners := round.Miners()
	round.MinerSlots[miners[0]].MissedTimeSlots = 2
	round.MinerSlots[miners[1]].MissedTimeSlots = 3
	round.MinerSlots[miners[2]].MissedTimeSlots = 7
	tests := []struct {
		name      string
		detail    string
		threshold uint64
		want      []string
	}{
		{
			name:      "below threshold stays active",
			detail:    "only counters at or above the threshold mark a miner evil",
			threshold: 3,
			want:      []string{miners[1], miners[2]},
		},
		{
			name:      "high threshold detects nothing",
			threshold: 100,
		},
		{
			name:      "zero threshold disables detection",
			detail:    "a zero policy threshold must not mark every miner evil",
			threshold: 0,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			evil := DetectEvilMiners(round, test.threshold)
			require.Len(t, evil, len(test.want))
			for _, m := range test.want {
				require.Contains(t, evil, m)
			}
		})
	}
}

func TestBuildReplacementPlan(t *testing.T) {
	round := newTestRound(t, 6)
	miners := round.Miners()
	// four evil miners but only two alternatives: all four leave the set
	evil := map[string]struct{}{
		miners[0]: {}, miners[1]: {}, miners[2]: {}, miners[3]: {},
	}
	alternatives := []lib.HexBytes{{0xf1}, {0xf2}}
	plan := BuildReplacementPlan(evil, alternatives)
	require.False(t, plan.IsEmpty())
	require.Len(t, plan.Replacements, 2)
	require.Len(t, plan.Dropped, 2)
	expected := plan.ExpectedMinerSet(round)
	// 6 - 4 evil + 2 substitutes
	require.Len(t, expected, 4)
	for m := range evil {
		require.NotContains(t, expected, m)
	}
	for _, alt := range alternatives {
		require.Contains(t, expected, alt.String())
	}
	// the pairing is deterministic over repeated builds
	again := BuildReplacementPlan(evil, alternatives)
	require.Equal(t, plan.Replacements, again.Replacements)
	require.Equal(t, plan.Dropped, again.Dropped)
}

func TestReplacementPlanEmpty(t *testing.T) {
	round := newTestRound(t, 4)
	// a nil plan leaves the miner set untouched
	var plan *ReplacementPlan
	require.True(t, plan.IsEmpty())
	expected := plan.ExpectedMinerSet(round)
	require.Len(t, expected, 4)
	for m := range round.MinerSlots {
		require.Contains(t, expected, m)
	}
}
