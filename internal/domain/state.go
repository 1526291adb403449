// Package domain defines the workout state document and the pure transition function over it.
package domain

import (
	"time"
)

// DayLayout formats calendar days used as keys across the state document.
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD day key.
func ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, time.UTC)
}

// Set is a single performed set of an exercise.
type Set struct {
	WeightKg  float64 `json:"weight_kg"`
	Reps      int     `json:"reps"`
	Completed bool    `json:"completed"`
}

// ExerciseEntry is an exercise performed within a workout together with its ordered sets.
type ExerciseEntry struct {
	ExerciseID string `json:"exercise_id"`
	Name       string `json:"name"`
	Sets       []Set  `json:"sets"`
}

// Workout is a recorded training session.
type Workout struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Exercises []ExerciseEntry `json:"exercises"`
	Completed bool            `json:"completed"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// Day returns the calendar day the workout belongs to.
func (w Workout) Day() string {
	return DayOf(w.StartedAt)
}

// Volume sums weight times reps over completed sets.
func (w Workout) Volume() float64 {
	var total float64
	for _, ex := range w.Exercises {
		for _, set := range ex.Sets {
			if set.Completed {
				total += set.WeightKg * float64(set.Reps)
			}
		}
	}
	return total
}

// CompletedSets counts sets flagged complete.
func (w Workout) CompletedSets() int {
	n := 0
	for _, ex := range w.Exercises {
		for _, set := range ex.Sets {
			if set.Completed {
				n++
			}
		}
	}
	return n
}

// Duration is zero until the workout is completed.
func (w Workout) Duration() time.Duration {
	if !w.Completed || w.EndedAt.Before(w.StartedAt) {
		return 0
	}
	return w.EndedAt.Sub(w.StartedAt)
}

// ProgramSession is one planned session of a training program.
type ProgramSession struct {
	Name      string   `json:"name"`
	Exercises []string `json:"exercises"`
}

// Program is an ordered plan of sessions.
type Program struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Sessions []ProgramSession `json:"sessions"`
	Deleted  bool             `json:"deleted,omitempty"`
}

// ActiveProgramState tracks enrollment in at most one program.
// CurrentSessionIndex equal to the program's session count means the program is complete.
type ActiveProgramState struct {
	ProgramID           string    `json:"program_id"`
	CurrentSessionIndex int       `json:"current_session_index"`
	EnrolledAt          time.Time `json:"enrolled_at"`
}

// Enrolled reports whether a program is active.
func (a ActiveProgramState) Enrolled() bool {
	return a.ProgramID != ""
}

// GamificationState holds experience and streak counters. Rank is derived, never stored.
type GamificationState struct {
	TotalXP        int64  `json:"total_xp"`
	CurrentStreak  int    `json:"current_streak"`
	BestStreak     int    `json:"best_streak"`
	LastWorkoutDay string `json:"last_workout_day"`
}

// Unit systems accepted by Settings.UnitSystem.
const (
	UnitsMetric   = "kg"
	UnitsImperial = "lb"
)

// Settings holds user preferences.
type Settings struct {
	DisplayName      string `json:"display_name"`
	UnitSystem       string `json:"unit_system"`
	WeeklyGoal       int    `json:"weekly_goal"`
	RestTimerSeconds int    `json:"rest_timer_seconds"`
}

// DefaultSettings are applied to a fresh state.
func DefaultSettings() Settings {
	return Settings{UnitSystem: UnitsMetric, WeeklyGoal: 3, RestTimerSeconds: 90}
}

// WellnessEntry is a daily self-reported readiness check-in.
type WellnessEntry struct {
	Day        string  `json:"day"`
	SleepHours float64 `json:"sleep_hours"`
	Soreness   int     `json:"soreness"`
	Energy     int     `json:"energy"`
}

// FieldStamp is the logical clock of the last write to a field.
type FieldStamp struct {
	Lamport  int64  `json:"lamport"`
	DeviceID string `json:"device_id"`
}

// NewerThan orders stamps by lamport timestamp, then device id.
func (f FieldStamp) NewerThan(other FieldStamp) bool {
	if f.Lamport != other.Lamport {
		return f.Lamport > other.Lamport
	}
	return f.DeviceID > other.DeviceID
}

// Revisions count writes per state section. Selectors key their caches on them.
type Revisions struct {
	Workouts      int64 `json:"workouts"`
	Programs      int64 `json:"programs"`
	ActiveProgram int64 `json:"active_program"`
	Gamification  int64 `json:"gamification"`
	Settings      int64 `json:"settings"`
	Wellness      int64 `json:"wellness"`
}

// State is the complete application document. Values are treated as immutable:
// Apply returns a new State and never writes into maps reachable from its input.
type State struct {
	Workouts      map[string]Workout       `json:"workouts"`
	Programs      map[string]Program       `json:"programs"`
	ActiveProgram ActiveProgramState       `json:"active_program"`
	Gamification  GamificationState        `json:"gamification"`
	Settings      Settings                 `json:"settings"`
	Wellness      map[string]WellnessEntry `json:"wellness"`
	Stamps        map[string]FieldStamp    `json:"stamps"`
	Revisions     Revisions                `json:"revisions"`
	Lamport       int64                    `json:"lamport"`
}

// NewState returns the empty state with default settings.
func NewState() State {
	return State{
		Workouts: map[string]Workout{},
		Programs: map[string]Program{},
		Settings: DefaultSettings(),
		Wellness: map[string]WellnessEntry{},
		Stamps:   map[string]FieldStamp{},
	}
}

// Normalize fills nil maps, used after decoding a persisted snapshot.
func (s State) Normalize() State {
	if s.Workouts == nil {
		s.Workouts = map[string]Workout{}
	}
	if s.Programs == nil {
		s.Programs = map[string]Program{}
	}
	if s.Wellness == nil {
		s.Wellness = map[string]WellnessEntry{}
	}
	if s.Stamps == nil {
		s.Stamps = map[string]FieldStamp{}
	}
	if s.Settings.UnitSystem == "" {
		s.Settings.UnitSystem = UnitsMetric
	}
	return s
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneWorkout(w Workout) Workout {
	if w.Exercises == nil {
		return w
	}
	exercises := make([]ExerciseEntry, len(w.Exercises))
	for i, ex := range w.Exercises {
		ex.Sets = append([]Set(nil), ex.Sets...)
		exercises[i] = ex
	}
	w.Exercises = exercises
	return w
}

func cloneProgram(p Program) Program {
	if p.Sessions == nil {
		return p
	}
	sessions := make([]ProgramSession, len(p.Sessions))
	for i, session := range p.Sessions {
		session.Exercises = append([]string(nil), session.Exercises...)
		sessions[i] = session
	}
	p.Sessions = sessions
	return p
}
