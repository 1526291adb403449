package domain

import (
	"bytes"
	"sort"
)

// Apply returns the state that results from applying m to s. s is never modified.
// On error the returned state is s.
func Apply(s State, m Mutation) (State, error) {
	next, _, err := ApplyWithChanges(s, m)
	return next, err
}

// ApplyWithChanges is Apply that also reports the fields whose value changed, in field path order.
func ApplyWithChanges(s State, m Mutation) (State, []FieldChange, error) {
	if err := Validate(m); err != nil {
		return s, nil, err
	}
	t := newTx(s, m)
	if err := t.run(); err != nil {
		return s, nil, err
	}
	next, changes := t.commit()
	return next, changes, nil
}

type touch struct {
	kind, id, field string
	stamp           FieldStamp
}

// tx accumulates one mutation's writes. Maps are cloned on first write so the input state
// stays untouched.
type tx struct {
	m       Mutation
	prev    State
	next    State
	cloned  map[string]bool
	touched map[string]touch
	lamport int64
}

func newTx(s State, m Mutation) *tx {
	s = s.Normalize()
	return &tx{
		m:       m,
		prev:    s,
		next:    s,
		cloned:  map[string]bool{},
		touched: map[string]touch{},
		lamport: max(s.Lamport, m.Lamport),
	}
}

func (t *tx) workouts() map[string]Workout {
	if !t.cloned[KindWorkout] {
		t.next.Workouts = cloneMap(t.next.Workouts)
		t.cloned[KindWorkout] = true
	}
	return t.next.Workouts
}

func (t *tx) programs() map[string]Program {
	if !t.cloned[KindProgram] {
		t.next.Programs = cloneMap(t.next.Programs)
		t.cloned[KindProgram] = true
	}
	return t.next.Programs
}

func (t *tx) wellness() map[string]WellnessEntry {
	if !t.cloned[KindWellness] {
		t.next.Wellness = cloneMap(t.next.Wellness)
		t.cloned[KindWellness] = true
	}
	return t.next.Wellness
}

func (t *tx) local(kind, id string, fields ...string) {
	t.stamped(FieldStamp{Lamport: t.m.Lamport, DeviceID: t.m.DeviceID}, kind, id, fields...)
}

func (t *tx) stamped(stamp FieldStamp, kind, id string, fields ...string) {
	for _, f := range fields {
		t.touched[FieldKey(kind, id, f)] = touch{kind: kind, id: id, field: f, stamp: stamp}
	}
}

func (t *tx) liveWorkout(id string) (Workout, error) {
	w, ok := t.next.Workouts[id]
	if !ok || w.Deleted {
		return Workout{}, notFound(KindWorkout, id)
	}
	return cloneWorkout(w), nil
}

func (t *tx) liveProgram(id string) (Program, error) {
	p, ok := t.next.Programs[id]
	if !ok || p.Deleted {
		return Program{}, notFound(KindProgram, id)
	}
	return p, nil
}

func (t *tx) run() error {
	m := t.m
	switch m.Op {
	case OpWorkoutStart:
		p, _ := decode[StartWorkout](m)
		if _, exists := t.next.Workouts[m.EntityID]; exists {
			return invalid(m.Op, "entity_id", "already exists")
		}
		t.workouts()[m.EntityID] = Workout{ID: m.EntityID, StartedAt: p.StartedAt.UTC(), Exercises: []ExerciseEntry{}}
		t.local(KindWorkout, m.EntityID, kindFields[KindWorkout]...)

	case OpWorkoutAddExercise:
		p, _ := decode[AddExercise](m)
		w, err := t.liveWorkout(m.EntityID)
		if err != nil {
			return err
		}
		if w.Completed {
			return invalid(m.Op, "entity_id", "refers to a completed workout")
		}
		w.Exercises = append(w.Exercises, ExerciseEntry{ExerciseID: p.ExerciseID, Name: p.Name, Sets: []Set{}})
		t.workouts()[w.ID] = w
		t.local(KindWorkout, w.ID, "exercises")

	case OpWorkoutLogSet:
		p, _ := decode[LogSet](m)
		w, err := t.liveWorkout(m.EntityID)
		if err != nil {
			return err
		}
		if w.Completed {
			return invalid(m.Op, "entity_id", "refers to a completed workout")
		}
		if p.ExerciseIndex >= len(w.Exercises) {
			return invalid(m.Op, "exercise_index", "is out of range")
		}
		ex := &w.Exercises[p.ExerciseIndex]
		ex.Sets = append(ex.Sets, Set{WeightKg: p.WeightKg, Reps: p.Reps, Completed: p.Completed})
		t.workouts()[w.ID] = w
		t.local(KindWorkout, w.ID, "exercises")

	case OpWorkoutComplete:
		p, _ := decode[CompleteWorkout](m)
		w, err := t.liveWorkout(m.EntityID)
		if err != nil {
			return err
		}
		if w.Completed {
			return invalid(m.Op, "entity_id", "is already completed")
		}
		if p.EndedAt.Before(w.StartedAt) {
			return invalid(m.Op, "ended_at", "is before started_at")
		}
		w.EndedAt = p.EndedAt.UTC()
		w.Completed = true
		t.workouts()[w.ID] = w
		t.local(KindWorkout, w.ID, "ended_at", "completed")

		g := t.next.Gamification
		g.TotalXP += XPForWorkout(w)
		t.next.Gamification = advanceStreak(g, w.Day())
		t.local(KindGamification, SingletonID, kindFields[KindGamification]...)

	case OpWorkoutCorrectSet:
		p, _ := decode[CorrectSet](m)
		w, err := t.liveWorkout(m.EntityID)
		if err != nil {
			return err
		}
		if p.ExerciseIndex >= len(w.Exercises) {
			return invalid(m.Op, "exercise_index", "is out of range")
		}
		sets := w.Exercises[p.ExerciseIndex].Sets
		if p.SetIndex >= len(sets) {
			return invalid(m.Op, "set_index", "is out of range")
		}
		sets[p.SetIndex] = Set{WeightKg: p.WeightKg, Reps: p.Reps, Completed: p.Completed}
		t.workouts()[w.ID] = w
		t.local(KindWorkout, w.ID, "exercises")

	case OpWorkoutDelete:
		w, err := t.liveWorkout(m.EntityID)
		if err != nil {
			return err
		}
		w.Deleted = true
		t.workouts()[w.ID] = w
		t.local(KindWorkout, w.ID, "deleted")

	case OpProgramCreate:
		p, _ := decode[CreateProgram](m)
		if _, exists := t.next.Programs[m.EntityID]; exists {
			return invalid(m.Op, "entity_id", "already exists")
		}
		t.programs()[m.EntityID] = cloneProgram(Program{ID: m.EntityID, Name: p.Name, Sessions: p.Sessions})
		t.local(KindProgram, m.EntityID, kindFields[KindProgram]...)

	case OpProgramDelete:
		p, err := t.liveProgram(m.EntityID)
		if err != nil {
			return err
		}
		p = cloneProgram(p)
		p.Deleted = true
		t.programs()[p.ID] = p
		t.local(KindProgram, p.ID, "deleted")
		if t.next.ActiveProgram.ProgramID == p.ID {
			t.next.ActiveProgram = ActiveProgramState{}
			t.local(KindActiveProgram, SingletonID, kindFields[KindActiveProgram]...)
		}

	case OpProgramEnroll:
		p, _ := decode[EnrollProgram](m)
		if _, err := t.liveProgram(m.EntityID); err != nil {
			return err
		}
		t.next.ActiveProgram = ActiveProgramState{ProgramID: m.EntityID, EnrolledAt: p.EnrolledAt.UTC()}
		t.local(KindActiveProgram, SingletonID, kindFields[KindActiveProgram]...)

	case OpProgramCompleteSession:
		active := t.next.ActiveProgram
		if !active.Enrolled() {
			return invalid(m.Op, "active_program", "is not set")
		}
		p, err := t.liveProgram(active.ProgramID)
		if err != nil {
			return err
		}
		if active.CurrentSessionIndex >= len(p.Sessions) {
			return invalid(m.Op, "active_program", "is already complete")
		}
		t.next.ActiveProgram.CurrentSessionIndex++
		t.local(KindActiveProgram, SingletonID, "current_session_index")

	case OpSetXP:
		p, _ := decode[SetXP](m)
		if p.Value < t.next.Gamification.TotalXP {
			return invalid(m.Op, "value", "must not decrease total_xp")
		}
		t.next.Gamification.TotalXP = p.Value
		t.local(KindGamification, SingletonID, "total_xp")

	case OpAddXP:
		p, _ := decode[AddXP](m)
		t.next.Gamification.TotalXP += p.Delta
		t.local(KindGamification, SingletonID, "total_xp")

	case OpSettingsUpdate:
		p, _ := decode[UpdateSettings](m)
		st := &t.next.Settings
		if p.DisplayName != nil {
			st.DisplayName = *p.DisplayName
			t.local(KindSettings, SingletonID, "display_name")
		}
		if p.UnitSystem != nil {
			st.UnitSystem = *p.UnitSystem
			t.local(KindSettings, SingletonID, "unit_system")
		}
		if p.WeeklyGoal != nil {
			st.WeeklyGoal = *p.WeeklyGoal
			t.local(KindSettings, SingletonID, "weekly_goal")
		}
		if p.RestTimerSeconds != nil {
			st.RestTimerSeconds = *p.RestTimerSeconds
			t.local(KindSettings, SingletonID, "rest_timer_seconds")
		}

	case OpWellnessLog:
		p, _ := decode[LogWellness](m)
		t.wellness()[p.Day] = WellnessEntry{Day: p.Day, SleepHours: p.SleepHours, Soreness: p.Soreness, Energy: p.Energy}
		t.local(KindWellness, p.Day, kindFields[KindWellness]...)

	case OpRemotePatch:
		p, _ := decode[RemotePatch](m)
		return t.merge(p)
	}
	return nil
}

// merge applies each remote field whose stamp beats the local one.
func (t *tx) merge(p RemotePatch) error {
	id := p.EntityID
	if p.Kind != KindWorkout && p.Kind != KindProgram && p.Kind != KindWellness {
		id = SingletonID
	}
	for _, f := range p.Fields {
		incoming := FieldStamp{Lamport: f.Lamport, DeviceID: f.DeviceID}
		t.lamport = max(t.lamport, f.Lamport)
		key := FieldKey(p.Kind, id, f.Field)
		if current, ok := t.stampOf(key); ok && !incoming.NewerThan(current) {
			continue
		}
		if err := t.setField(p.Kind, id, f.Field, f.Value); err != nil {
			return invalid(OpRemotePatch, "fields", err.Error())
		}
		if err := t.checkField(p.Kind, id, f.Field); err != nil {
			return err
		}
		t.stamped(incoming, p.Kind, id, f.Field)
	}
	return nil
}

func (t *tx) stampOf(key string) (FieldStamp, bool) {
	if tc, ok := t.touched[key]; ok {
		return tc.stamp, true
	}
	st, ok := t.prev.Stamps[key]
	return st, ok
}

// commit stamps touched fields, bumps section revisions and reports changed values.
// Fields rewritten to the value they already had are not reported.
func (t *tx) commit() (State, []FieldChange) {
	keys := make([]string, 0, len(t.touched))
	for k := range t.touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stamps := t.next.Stamps
	if len(keys) > 0 {
		stamps = cloneMap(t.prev.Stamps)
	}
	bumped := map[string]bool{}
	var changes []FieldChange
	for _, k := range keys {
		tc := t.touched[k]
		stamps[k] = tc.stamp
		after, _, _ := FieldValue(t.next, tc.kind, tc.id, tc.field)
		before, existed, _ := FieldValue(t.prev, tc.kind, tc.id, tc.field)
		if existed && bytes.Equal(before, after) {
			continue
		}
		changes = append(changes, FieldChange{
			MutationID: t.m.ID,
			Kind:       tc.kind,
			EntityID:   tc.id,
			Field:      tc.field,
			Value:      after,
			Lamport:    tc.stamp.Lamport,
			DeviceID:   tc.stamp.DeviceID,
		})
		if !bumped[tc.kind] {
			bumped[tc.kind] = true
			t.bump(tc.kind)
		}
	}
	t.next.Stamps = stamps
	t.next.Lamport = t.lamport
	return t.next, changes
}

func (t *tx) bump(kind string) {
	r := &t.next.Revisions
	switch kind {
	case KindWorkout:
		r.Workouts++
	case KindProgram:
		r.Programs++
	case KindActiveProgram:
		r.ActiveProgram++
	case KindGamification:
		r.Gamification++
	case KindSettings:
		r.Settings++
	case KindWellness:
		r.Wellness++
	}
}
