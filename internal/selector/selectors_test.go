package selector

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"example.com/fitstate/internal/domain"
)

var monday = time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)

type builder struct {
	t     *testing.T
	state domain.State
	clock int64
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, state: domain.NewState()}
}

func (b *builder) apply(op domain.Op, id string, payload any) *builder {
	b.t.Helper()
	b.clock++
	m := domain.MustMutation(op, id, payload)
	m.ID = fmt.Sprintf("m-%d", b.clock)
	m.Lamport = b.clock
	m.DeviceID = "device-a"
	next, err := domain.Apply(b.state, m)
	require.NoError(b.t, err)
	b.state = next
	return b
}

func (b *builder) workout(id string, start time.Time, weight float64, reps, sets int) *builder {
	b.apply(domain.OpWorkoutStart, id, domain.StartWorkout{StartedAt: start})
	if sets > 0 {
		b.apply(domain.OpWorkoutAddExercise, id, domain.AddExercise{Name: "Deadlift"})
		for i := 0; i < sets; i++ {
			b.apply(domain.OpWorkoutLogSet, id, domain.LogSet{WeightKg: weight, Reps: reps, Completed: true})
		}
	}
	return b.apply(domain.OpWorkoutComplete, id, domain.CompleteWorkout{EndedAt: start.Add(45 * time.Minute)})
}

func TestMemoReturnsCachedValue(t *testing.T) {
	var m Memo[int, []int]
	calls := 0
	compute := func(k int) []int {
		calls++
		return []int{k, k}
	}
	first := m.Get(1, compute)
	second := m.Get(1, compute)
	require.Equal(t, 1, calls)
	require.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())

	third := m.Get(2, compute)
	require.Equal(t, 2, calls)
	require.Equal(t, []int{2, 2}, third)
	require.Equal(t, 2, m.Computations())

	m.Reset()
	m.Get(2, compute)
	require.Equal(t, 3, calls)
}

func TestRankIsStable(t *testing.T) {
	s := New()
	require.Equal(t, s.Rank(1600), s.Rank(1600))
	require.Equal(t, "Silver", s.Rank(1600).Name)
	require.Equal(t, 1, s.Computations()["rank"])
}

func TestXPProgress(t *testing.T) {
	p := ProgressForXP(1000)
	require.Equal(t, "Bronze", p.Rank.Name)
	require.Equal(t, int64(500), p.Current)
	require.Equal(t, int64(1000), p.Needed)
	require.InDelta(t, 0.5, p.Fraction, 1e-9)

	top := ProgressForXP(50000)
	require.True(t, top.Rank.Final())
	require.Equal(t, 1.0, top.Fraction)
}

func TestWorkoutsForDateEmptyIsNotNil(t *testing.T) {
	s := New()
	got := s.WorkoutsForDate(domain.NewState(), "2025-03-03")
	require.NotNil(t, got)
	require.Len(t, got, 0)
}

func TestWorkoutsForDateIncludesZeroSetWorkout(t *testing.T) {
	b := newBuilder(t).workout("w1", monday, 0, 0, 0)
	got := New().WorkoutsForDate(b.state, domain.DayOf(monday))
	require.Len(t, got, 1)
	require.Equal(t, "w1", got[0].ID)
	require.Zero(t, got[0].Volume())
	require.True(t, got[0].Completed)
}

func TestWorkoutsForDateMemoizedByRevision(t *testing.T) {
	b := newBuilder(t).
		workout("w2", monday.Add(2*time.Hour), 100, 5, 3).
		workout("w1", monday, 100, 5, 1)
	s := New()
	day := domain.DayOf(monday)

	first := s.WorkoutsForDate(b.state, day)
	second := s.WorkoutsForDate(b.state, day)
	require.Equal(t, []string{"w1", "w2"}, []string{first[0].ID, first[1].ID})
	require.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	require.Equal(t, 1, s.Computations()["workouts_for_date"])

	b.apply(domain.OpSettingsUpdate, "", domain.UpdateSettings{WeeklyGoal: ptr(4)})
	s.WorkoutsForDate(b.state, day)
	require.Equal(t, 1, s.Computations()["workouts_for_date"])

	b.apply(domain.OpWorkoutDelete, "w2", nil)
	third := s.WorkoutsForDate(b.state, day)
	require.Len(t, third, 1)
	require.Equal(t, 2, s.Computations()["workouts_for_date"])
}

func TestRecoveryScore(t *testing.T) {
	day := "2025-03-03"
	fresh := RecoveryScore(nil, nil, day)
	require.Equal(t, 100, fresh.Score)
	require.False(t, fresh.HasWellness)

	workouts := []domain.Workout{
		completed("today", monday, 5000),
		completed("yesterday", monday.AddDate(0, 0, -1), 5000),
		completed("old", monday.AddDate(0, 0, -5), 50000),
	}
	loaded := RecoveryScore(workouts, nil, day)
	require.InDelta(t, 20+12, loaded.Load, 1e-9)
	require.Equal(t, 68, loaded.Score)

	wellness := []domain.WellnessEntry{{Day: day, SleepHours: 6, Soreness: 3, Energy: 2}}
	tired := RecoveryScore(workouts, wellness, day)
	require.True(t, tired.HasWellness)
	// 32 load + 10 sleep + 10 soreness + 9 energy
	require.Equal(t, 39, tired.Score)

	crushed := RecoveryScore([]domain.Workout{completed("huge", monday, 1e6)},
		[]domain.WellnessEntry{{Day: day, SleepHours: 0, Soreness: 5, Energy: 1}}, day)
	// every penalty at its cap: 40 + 25 + 20 + 12
	require.Equal(t, 3, crushed.Score)
}

func TestRecoveryMemoKeys(t *testing.T) {
	b := newBuilder(t).workout("w1", monday, 100, 10, 2)
	s := New()
	day := domain.DayOf(monday)

	first := s.RecoveryScore(b.state, day)
	require.Equal(t, first, s.RecoveryScore(b.state, day))
	require.Equal(t, 1, s.Computations()["recovery"])

	b.apply(domain.OpWellnessLog, "", domain.LogWellness{Day: day, SleepHours: 5, Soreness: 4, Energy: 2})
	second := s.RecoveryScore(b.state, day)
	require.Less(t, second.Score, first.Score)
	require.Equal(t, 2, s.Computations()["recovery"])
}

func TestWeeklySummary(t *testing.T) {
	b := newBuilder(t).
		workout("mon", monday, 100, 5, 2).
		workout("wed", monday.AddDate(0, 0, 2), 100, 5, 2).
		workout("next-mon", monday.AddDate(0, 0, 7), 100, 5, 2).
		apply(domain.OpSettingsUpdate, "", domain.UpdateSettings{WeeklyGoal: ptr(2)})

	sum := New().WeeklySummary(b.state, "2025-03-06")
	want := WeeklySummary{WeekStart: "2025-03-03", Workouts: 2, Volume: 2000, Goal: 2, GoalMet: true, Progress: 1}
	require.Empty(t, cmp.Diff(want, sum))
}

func TestProgramProgress(t *testing.T) {
	b := newBuilder(t)
	require.Equal(t, ProgramProgress{}, New().ProgramProgress(b.state))

	b.apply(domain.OpProgramCreate, "p1", domain.CreateProgram{Name: "PPL", Sessions: []domain.ProgramSession{
		{Name: "Push"}, {Name: "Pull"},
	}}).
		apply(domain.OpProgramEnroll, "p1", domain.EnrollProgram{EnrolledAt: monday}).
		apply(domain.OpProgramCompleteSession, "", nil)

	s := New()
	p := s.ProgramProgress(b.state)
	require.Equal(t, ProgramProgress{Enrolled: true, ProgramID: "p1", ProgramName: "PPL", Completed: 1, Total: 2, NextSession: "Pull"}, p)

	b.apply(domain.OpProgramCompleteSession, "", nil)
	p = s.ProgramProgress(b.state)
	require.True(t, p.Finished)
	require.Empty(t, p.NextSession)
}

func TestProgramProgressClampsIndex(t *testing.T) {
	b := newBuilder(t)
	b.apply(domain.OpProgramCreate, "p1", domain.CreateProgram{Name: "PPL", Sessions: []domain.ProgramSession{{Name: "Push"}}}).
		apply(domain.OpProgramEnroll, "p1", domain.EnrollProgram{EnrolledAt: monday})

	st := b.state
	st.ActiveProgram.CurrentSessionIndex = -3
	require.NotPanics(t, func() { New().Compute(st, domain.DayOf(monday)) })
	p := ProgressForProgram(st)
	require.Equal(t, 0, p.Completed)
	require.Equal(t, "Push", p.NextSession)

	st.ActiveProgram.CurrentSessionIndex = 99
	p = ProgressForProgram(st)
	require.Equal(t, 1, p.Completed)
	require.True(t, p.Finished)
}

func TestComputeEvaluatesEverySelector(t *testing.T) {
	b := newBuilder(t).workout("w1", monday, 100, 5, 2)
	s := New()
	set := s.Compute(b.state, domain.DayOf(monday))
	again := s.Compute(b.state, domain.DayOf(monday))

	require.Empty(t, cmp.Diff(set, again))
	for name, n := range s.Computations() {
		require.Equal(t, 1, n, name)
	}
	require.Len(t, set.WorkoutsForDate, 1)
	require.Equal(t, "Rookie", set.Rank.Name)

	empty := New().Compute(domain.NewState(), "2025-01-01")
	require.NotNil(t, empty.WorkoutsForDate)
	require.Equal(t, 100, empty.Recovery.Score)
}

func completed(id string, start time.Time, volume float64) domain.Workout {
	return domain.Workout{
		ID:        id,
		StartedAt: start,
		EndedAt:   start.Add(time.Hour),
		Completed: true,
		Exercises: []domain.ExerciseEntry{{Name: "x", Sets: []domain.Set{{WeightKg: volume, Reps: 1, Completed: true}}}},
	}
}

func ptr[T any](v T) *T { return &v }
