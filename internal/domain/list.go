package domain

import (
	"sort"
	"time"
)

// Cursor models the pagination token for workout listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// ListWorkouts returns live workouts newest first, starting after cursor. The returned cursor is nil
// on the last page.
func ListWorkouts(s State, cursor *Cursor, limit int) ([]Workout, *Cursor) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	all := make([]Workout, 0, len(s.Workouts))
	for _, w := range s.Workouts {
		if !w.Deleted {
			all = append(all, w)
		}
	}
	sort.Slice(all, func(i, j int) bool { return newerWorkout(all[i], all[j]) })

	start := 0
	if cursor != nil {
		start = sort.Search(len(all), func(i int) bool {
			return newerWorkout(Workout{ID: cursor.ID, StartedAt: cursor.StartedAt}, all[i])
		})
	}
	out := make([]Workout, 0, limit)
	for i := start; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i])
	}
	if start+len(out) >= len(all) || len(out) == 0 {
		return out, nil
	}
	last := out[len(out)-1]
	return out, &Cursor{StartedAt: last.StartedAt, ID: last.ID}
}

func newerWorkout(a, b Workout) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID > b.ID
}
