package selector

import "example.com/fitstate/internal/domain"

type dayKey struct {
	day      string
	workouts int64
}

type recoveryKey struct {
	day      string
	workouts int64
	wellness int64
}

type weekKey struct {
	week     string
	workouts int64
	settings int64
}

type programKey struct {
	programs int64
	active   int64
}

// Selectors memoizes derived values for one store. Section revisions stand in for the state content
// in memo keys, so a Selectors must only be fed states from a single revision history.
type Selectors struct {
	rank     Memo[int64, domain.Rank]
	progress Memo[int64, XPProgress]
	forDate  Memo[dayKey, []domain.Workout]
	recovery Memo[recoveryKey, Recovery]
	weekly   Memo[weekKey, WeeklySummary]
	program  Memo[programKey, ProgramProgress]
}

// New returns an empty selector set.
func New() *Selectors {
	return &Selectors{}
}

// Rank returns the tier for totalXP.
func (s *Selectors) Rank(totalXP int64) domain.Rank {
	return s.rank.Get(totalXP, domain.RankForXP)
}

// XPProgress returns the XP bar for totalXP.
func (s *Selectors) XPProgress(totalXP int64) XPProgress {
	return s.progress.Get(totalXP, ProgressForXP)
}

// WorkoutsForDate returns the cached slice while the day and workout revision are unchanged.
// Callers must not modify the returned slice.
func (s *Selectors) WorkoutsForDate(st domain.State, day string) []domain.Workout {
	return s.forDate.Get(dayKey{day: day, workouts: st.Revisions.Workouts}, func(k dayKey) []domain.Workout {
		return WorkoutsForDate(st, k.day)
	})
}

// RecoveryScore recomputes only when the day, the workouts or the wellness log change.
func (s *Selectors) RecoveryScore(st domain.State, day string) Recovery {
	key := recoveryKey{day: day, workouts: st.Revisions.Workouts, wellness: st.Revisions.Wellness}
	return s.recovery.Get(key, func(k recoveryKey) Recovery {
		var wellness []domain.WellnessEntry
		if e, ok := st.Wellness[k.day]; ok {
			wellness = append(wellness, e)
		}
		return RecoveryScore(recentWorkouts(st, k.day), wellness, k.day)
	})
}

// WeeklySummary recomputes when the week, the workouts or the weekly goal change.
func (s *Selectors) WeeklySummary(st domain.State, day string) WeeklySummary {
	week, err := WeekStart(day)
	if err != nil {
		return WeeklySummary{Goal: st.Settings.WeeklyGoal}
	}
	key := weekKey{week: week, workouts: st.Revisions.Workouts, settings: st.Revisions.Settings}
	return s.weekly.Get(key, func(k weekKey) WeeklySummary {
		return SummarizeWeek(st, k.week)
	})
}

// ProgramProgress recomputes when programs or enrollment change.
func (s *Selectors) ProgramProgress(st domain.State) ProgramProgress {
	key := programKey{programs: st.Revisions.Programs, active: st.Revisions.ActiveProgram}
	return s.program.Get(key, func(programKey) ProgramProgress {
		return ProgressForProgram(st)
	})
}

// Set bundles every derived value for one state and day.
type Set struct {
	Day             string           `json:"day"`
	Rank            domain.Rank      `json:"rank"`
	XPProgress      XPProgress       `json:"xp_progress"`
	WorkoutsForDate []domain.Workout `json:"workouts_for_date"`
	Recovery        Recovery         `json:"recovery"`
	Weekly          WeeklySummary    `json:"weekly"`
	Program         ProgramProgress  `json:"program"`
}

// Compute evaluates every selector, always in the same order and without short-circuiting, so
// callers decide control flow only after all derived values exist.
func (s *Selectors) Compute(st domain.State, day string) Set {
	set := Set{Day: day}
	set.Rank = s.Rank(st.Gamification.TotalXP)
	set.XPProgress = s.XPProgress(st.Gamification.TotalXP)
	set.WorkoutsForDate = s.WorkoutsForDate(st, day)
	set.Recovery = s.RecoveryScore(st, day)
	set.Weekly = s.WeeklySummary(st, day)
	set.Program = s.ProgramProgress(st)
	return set
}

// Computations reports memo misses per selector.
func (s *Selectors) Computations() map[string]int {
	return map[string]int{
		"rank":              s.rank.Computations(),
		"xp_progress":       s.progress.Computations(),
		"workouts_for_date": s.forDate.Computations(),
		"recovery":          s.recovery.Computations(),
		"weekly":            s.weekly.Computations(),
		"program":           s.program.Computations(),
	}
}
