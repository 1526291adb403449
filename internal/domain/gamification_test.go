package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankForXP(t *testing.T) {
	cases := []struct {
		xp   int64
		name string
	}{
		{-10, "Rookie"},
		{0, "Rookie"},
		{499, "Rookie"},
		{500, "Bronze"},
		{3499, "Silver"},
		{3500, "Gold"},
		{19999, "Diamond"},
		{20000, "Legend"},
		{1 << 40, "Legend"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.name, RankForXP(tc.xp).Name, "xp %d", tc.xp)
		require.Equal(t, RankForXP(tc.xp), RankForXP(tc.xp))
	}
	require.True(t, RankForXP(25000).Final())
	require.False(t, RankForXP(0).Final())
}

func TestRanksAreAscending(t *testing.T) {
	ranks := Ranks()
	for i := 1; i < len(ranks); i++ {
		require.Greater(t, ranks[i].MinXP, ranks[i-1].MinXP)
		require.Equal(t, ranks[i].MinXP, ranks[i-1].NextXP)
	}
	ranks[0].Name = "mutated"
	require.Equal(t, "Rookie", Ranks()[0].Name)
}

func TestAdvanceStreak(t *testing.T) {
	g := advanceStreak(GamificationState{}, "2025-03-03")
	require.Equal(t, GamificationState{CurrentStreak: 1, BestStreak: 1, LastWorkoutDay: "2025-03-03"}, g)

	g = advanceStreak(g, "2025-03-03")
	require.Equal(t, 1, g.CurrentStreak)

	g = advanceStreak(g, "2025-03-04")
	require.Equal(t, 2, g.CurrentStreak)

	back := advanceStreak(g, "2025-02-01")
	require.Equal(t, g, back)

	g = advanceStreak(g, "2025-03-10")
	require.Equal(t, 1, g.CurrentStreak)
	require.Equal(t, 2, g.BestStreak)
}
