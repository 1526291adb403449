package domain

import "time"

// XP awarded when a workout is completed.
const (
	workoutBaseXP   = 50
	xpPerSet        = 5
	volumePerXPUnit = 100.0
)

// XPForWorkout returns the experience granted for completing w.
func XPForWorkout(w Workout) int64 {
	return workoutBaseXP + int64(xpPerSet*w.CompletedSets()) + int64(w.Volume()/volumePerXPUnit)
}

// Rank is a tier derived from cumulative experience.
type Rank struct {
	Tier   int    `json:"tier"`
	Name   string `json:"name"`
	MinXP  int64  `json:"min_xp"`
	NextXP int64  `json:"next_xp"`
}

// Final reports whether no higher tier exists.
func (r Rank) Final() bool {
	return r.NextXP == 0
}

var rankTable = []Rank{
	{Tier: 0, Name: "Rookie", MinXP: 0, NextXP: 500},
	{Tier: 1, Name: "Bronze", MinXP: 500, NextXP: 1500},
	{Tier: 2, Name: "Silver", MinXP: 1500, NextXP: 3500},
	{Tier: 3, Name: "Gold", MinXP: 3500, NextXP: 7000},
	{Tier: 4, Name: "Platinum", MinXP: 7000, NextXP: 12000},
	{Tier: 5, Name: "Diamond", MinXP: 12000, NextXP: 20000},
	{Tier: 6, Name: "Legend", MinXP: 20000},
}

// Ranks returns a copy of the rank table in ascending order.
func Ranks() []Rank {
	return append([]Rank(nil), rankTable...)
}

// RankForXP maps total experience to its tier. Negative input is treated as zero.
func RankForXP(totalXP int64) Rank {
	rank := rankTable[0]
	for _, r := range rankTable {
		if totalXP >= r.MinXP {
			rank = r
		}
	}
	return rank
}

// advanceStreak records a workout on day. Back-dated workouts leave the streak alone.
func advanceStreak(g GamificationState, day string) GamificationState {
	switch {
	case g.LastWorkoutDay == "":
		g.CurrentStreak = 1
		g.LastWorkoutDay = day
	case day == g.LastWorkoutDay:
		return g
	case day < g.LastWorkoutDay:
		return g
	default:
		last, errLast := ParseDay(g.LastWorkoutDay)
		cur, errCur := ParseDay(day)
		if errLast == nil && errCur == nil && cur.Sub(last) == 24*time.Hour {
			g.CurrentStreak++
		} else {
			g.CurrentStreak = 1
		}
		g.LastWorkoutDay = day
	}
	if g.CurrentStreak > g.BestStreak {
		g.BestStreak = g.CurrentStreak
	}
	return g
}
