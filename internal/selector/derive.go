package selector

import (
	"math"
	"sort"
	"time"

	"example.com/fitstate/internal/domain"
)

// XPProgress positions total experience within its rank band.
type XPProgress struct {
	Rank     domain.Rank `json:"rank"`
	Current  int64       `json:"current"`
	Needed   int64       `json:"needed"`
	Fraction float64     `json:"fraction"`
}

// ProgressForXP computes the XP bar for totalXP.
func ProgressForXP(totalXP int64) XPProgress {
	totalXP = max(totalXP, 0)
	rank := domain.RankForXP(totalXP)
	p := XPProgress{Rank: rank, Current: totalXP - rank.MinXP}
	if rank.Final() {
		p.Fraction = 1
		return p
	}
	p.Needed = rank.NextXP - rank.MinXP
	p.Fraction = float64(p.Current) / float64(p.Needed)
	return p
}

// WorkoutsForDate lists live workouts started on day, ordered by start time. The result is never nil.
func WorkoutsForDate(s domain.State, day string) []domain.Workout {
	out := make([]domain.Workout, 0)
	for _, w := range s.Workouts {
		if !w.Deleted && w.Day() == day {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recovery is a 0-100 readiness estimate for a day.
type Recovery struct {
	Day         string  `json:"day"`
	Score       int     `json:"score"`
	Load        float64 `json:"load"`
	HasWellness bool    `json:"has_wellness"`
}

// Completed workouts on the scored day and the two before it weigh into training load.
var loadDecay = []float64{1, 0.6, 0.3}

const (
	volumePerLoadPoint = 250.0
	maxLoadPenalty     = 40.0
	targetSleepHours   = 8.0
	sleepPenaltyPerHr  = 5.0
	maxSleepPenalty    = 25.0
	sorenessPenalty    = 5.0
	energyPenalty      = 3.0
)

// RecoveryScore scores readiness on day from recent completed workouts and the day's wellness
// entry, if any. Unrelated workouts and entries are ignored.
func RecoveryScore(recent []domain.Workout, wellness []domain.WellnessEntry, day string) Recovery {
	r := Recovery{Day: day, Score: 100}
	target, err := domain.ParseDay(day)
	if err != nil {
		return r
	}
	for _, w := range recent {
		if !w.Completed || w.Deleted {
			continue
		}
		workoutDay, err := domain.ParseDay(w.Day())
		if err != nil {
			continue
		}
		age := int(target.Sub(workoutDay) / (24 * time.Hour))
		if age < 0 || age >= len(loadDecay) {
			continue
		}
		r.Load += loadDecay[age] * w.Volume() / volumePerLoadPoint
	}
	penalty := math.Min(r.Load, maxLoadPenalty)
	for _, e := range wellness {
		if e.Day != day {
			continue
		}
		r.HasWellness = true
		penalty += math.Min(math.Max(targetSleepHours-e.SleepHours, 0)*sleepPenaltyPerHr, maxSleepPenalty)
		penalty += float64(e.Soreness-1) * sorenessPenalty
		penalty += float64(5-e.Energy) * energyPenalty
	}
	r.Score = int(math.Round(math.Max(0, math.Min(100, 100-penalty))))
	return r
}

// recentWorkouts collects workouts that may contribute to the load on day.
func recentWorkouts(s domain.State, day string) []domain.Workout {
	target, err := domain.ParseDay(day)
	if err != nil {
		return nil
	}
	from := target.AddDate(0, 0, -(len(loadDecay) - 1))
	var out []domain.Workout
	for _, w := range s.Workouts {
		d, err := domain.ParseDay(w.Day())
		if err != nil || d.Before(from) || d.After(target) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WeeklySummary aggregates the Monday-start week containing a day against the weekly goal.
type WeeklySummary struct {
	WeekStart string  `json:"week_start"`
	Workouts  int     `json:"workouts"`
	Volume    float64 `json:"volume"`
	Goal      int     `json:"goal"`
	GoalMet   bool    `json:"goal_met"`
	Progress  float64 `json:"progress"`
}

// WeekStart returns the Monday of the week containing day.
func WeekStart(day string) (string, error) {
	t, err := domain.ParseDay(day)
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) + 6) % 7
	return domain.DayOf(t.AddDate(0, 0, -offset)), nil
}

// SummarizeWeek counts completed workouts in the week that contains day.
func SummarizeWeek(s domain.State, day string) WeeklySummary {
	start, err := WeekStart(day)
	sum := WeeklySummary{WeekStart: start, Goal: s.Settings.WeeklyGoal}
	if err != nil {
		return sum
	}
	first, _ := domain.ParseDay(start)
	end := domain.DayOf(first.AddDate(0, 0, 7))
	for _, w := range s.Workouts {
		d := w.Day()
		if w.Deleted || !w.Completed || d < start || d >= end {
			continue
		}
		sum.Workouts++
		sum.Volume += w.Volume()
	}
	if sum.Goal > 0 {
		sum.Progress = math.Min(1, float64(sum.Workouts)/float64(sum.Goal))
		sum.GoalMet = sum.Workouts >= sum.Goal
	}
	return sum
}

// ProgramProgress reports how far the active program has advanced.
type ProgramProgress struct {
	Enrolled    bool   `json:"enrolled"`
	ProgramID   string `json:"program_id,omitempty"`
	ProgramName string `json:"program_name,omitempty"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	NextSession string `json:"next_session,omitempty"`
	Finished    bool   `json:"finished"`
}

// ProgressForProgram derives the active program position.
func ProgressForProgram(s domain.State) ProgramProgress {
	active := s.ActiveProgram
	p, ok := s.Programs[active.ProgramID]
	if !active.Enrolled() || !ok || p.Deleted {
		return ProgramProgress{}
	}
	out := ProgramProgress{
		Enrolled:    true,
		ProgramID:   p.ID,
		ProgramName: p.Name,
		Completed:   min(max(active.CurrentSessionIndex, 0), len(p.Sessions)),
		Total:       len(p.Sessions),
	}
	if out.Completed < out.Total {
		out.NextSession = p.Sessions[out.Completed].Name
	} else {
		out.Finished = true
	}
	return out
}
