package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Entity kinds addressed by sync field paths.
const (
	KindWorkout       = "workout"
	KindProgram       = "program"
	KindActiveProgram = "active_program"
	KindGamification  = "gamification"
	KindSettings      = "settings"
	KindWellness      = "wellness"
)

// SingletonID is the entity id of the singleton sections.
const SingletonID = "self"

var kindFields = map[string][]string{
	KindWorkout:       {"started_at", "ended_at", "exercises", "completed", "deleted"},
	KindProgram:       {"name", "sessions", "deleted"},
	KindActiveProgram: {"program_id", "current_session_index", "enrolled_at"},
	KindGamification:  {"total_xp", "current_streak", "best_streak", "last_workout_day"},
	KindSettings:      {"display_name", "unit_system", "weekly_goal", "rest_timer_seconds"},
	KindWellness:      {"sleep_hours", "soreness", "energy"},
}

// Fields lists the syncable fields of kind.
func Fields(kind string) []string {
	return append([]string(nil), kindFields[kind]...)
}

func knownKind(kind string) bool {
	_, ok := kindFields[kind]
	return ok
}

func knownField(kind, field string) bool {
	for _, f := range kindFields[kind] {
		if f == field {
			return true
		}
	}
	return false
}

// FieldKey addresses one field of one entity.
func FieldKey(kind, id, field string) string {
	return kind + "/" + id + "/" + field
}

// FieldChange is a field written by an applied mutation, carrying its new encoded value.
type FieldChange struct {
	MutationID string          `json:"mutation_id"`
	Kind       string          `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Lamport    int64           `json:"lamport"`
	DeviceID   string          `json:"device_id"`
}

// Key returns the field path of the change.
func (c FieldChange) Key() string {
	return FieldKey(c.Kind, c.EntityID, c.Field)
}

// FieldValue encodes the current value of a field. ok is false when the entity does not exist.
func FieldValue(s State, kind, id, field string) (json.RawMessage, bool, error) {
	v, ok := fieldValue(s, kind, id, field)
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func fieldValue(s State, kind, id, field string) (any, bool) {
	switch kind {
	case KindWorkout:
		w, ok := s.Workouts[id]
		if !ok {
			return nil, false
		}
		switch field {
		case "started_at":
			return w.StartedAt, true
		case "ended_at":
			return w.EndedAt, true
		case "exercises":
			return w.Exercises, true
		case "completed":
			return w.Completed, true
		case "deleted":
			return w.Deleted, true
		}
	case KindProgram:
		p, ok := s.Programs[id]
		if !ok {
			return nil, false
		}
		switch field {
		case "name":
			return p.Name, true
		case "sessions":
			return p.Sessions, true
		case "deleted":
			return p.Deleted, true
		}
	case KindActiveProgram:
		a := s.ActiveProgram
		switch field {
		case "program_id":
			return a.ProgramID, true
		case "current_session_index":
			return a.CurrentSessionIndex, true
		case "enrolled_at":
			return a.EnrolledAt, true
		}
	case KindGamification:
		g := s.Gamification
		switch field {
		case "total_xp":
			return g.TotalXP, true
		case "current_streak":
			return g.CurrentStreak, true
		case "best_streak":
			return g.BestStreak, true
		case "last_workout_day":
			return g.LastWorkoutDay, true
		}
	case KindSettings:
		st := s.Settings
		switch field {
		case "display_name":
			return st.DisplayName, true
		case "unit_system":
			return st.UnitSystem, true
		case "weekly_goal":
			return st.WeeklyGoal, true
		case "rest_timer_seconds":
			return st.RestTimerSeconds, true
		}
	case KindWellness:
		e, ok := s.Wellness[id]
		if !ok {
			return nil, false
		}
		switch field {
		case "sleep_hours":
			return e.SleepHours, true
		case "soreness":
			return e.Soreness, true
		case "energy":
			return e.Energy, true
		}
	}
	return nil, false
}

// setField decodes raw into the addressed field, creating the entity when it is missing.
func (t *tx) setField(kind, id, field string, raw json.RawMessage) error {
	var err error
	switch kind {
	case KindWorkout:
		w, ok := t.workouts()[id]
		if !ok {
			w = Workout{ID: id}
		}
		w = cloneWorkout(w)
		switch field {
		case "started_at":
			err = json.Unmarshal(raw, &w.StartedAt)
		case "ended_at":
			err = json.Unmarshal(raw, &w.EndedAt)
		case "exercises":
			var exercises []ExerciseEntry
			err = json.Unmarshal(raw, &exercises)
			w.Exercises = exercises
		case "completed":
			err = json.Unmarshal(raw, &w.Completed)
		case "deleted":
			err = json.Unmarshal(raw, &w.Deleted)
		}
		t.workouts()[id] = w
	case KindProgram:
		p, ok := t.programs()[id]
		if !ok {
			p = Program{ID: id}
		}
		p = cloneProgram(p)
		switch field {
		case "name":
			err = json.Unmarshal(raw, &p.Name)
		case "sessions":
			var sessions []ProgramSession
			err = json.Unmarshal(raw, &sessions)
			p.Sessions = sessions
		case "deleted":
			err = json.Unmarshal(raw, &p.Deleted)
		}
		t.programs()[id] = p
	case KindActiveProgram:
		a := &t.next.ActiveProgram
		switch field {
		case "program_id":
			err = json.Unmarshal(raw, &a.ProgramID)
		case "current_session_index":
			err = json.Unmarshal(raw, &a.CurrentSessionIndex)
		case "enrolled_at":
			var at time.Time
			err = json.Unmarshal(raw, &at)
			a.EnrolledAt = at
		}
	case KindGamification:
		g := &t.next.Gamification
		switch field {
		case "total_xp":
			err = json.Unmarshal(raw, &g.TotalXP)
		case "current_streak":
			err = json.Unmarshal(raw, &g.CurrentStreak)
		case "best_streak":
			err = json.Unmarshal(raw, &g.BestStreak)
		case "last_workout_day":
			err = json.Unmarshal(raw, &g.LastWorkoutDay)
		}
	case KindSettings:
		st := &t.next.Settings
		switch field {
		case "display_name":
			err = json.Unmarshal(raw, &st.DisplayName)
		case "unit_system":
			err = json.Unmarshal(raw, &st.UnitSystem)
		case "weekly_goal":
			err = json.Unmarshal(raw, &st.WeeklyGoal)
		case "rest_timer_seconds":
			err = json.Unmarshal(raw, &st.RestTimerSeconds)
		}
	case KindWellness:
		e, ok := t.wellness()[id]
		if !ok {
			e = WellnessEntry{Day: id}
		}
		switch field {
		case "sleep_hours":
			err = json.Unmarshal(raw, &e.SleepHours)
		case "soreness":
			err = json.Unmarshal(raw, &e.Soreness)
		case "energy":
			err = json.Unmarshal(raw, &e.Energy)
		}
		t.wellness()[id] = e
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", FieldKey(kind, id, field), err)
	}
	return nil
}

// checkField rejects a merged value that breaks the invariants local mutations uphold.
func (t *tx) checkField(kind, id, field string) error {
	bad := func(reason string) error {
		return invalid(OpRemotePatch, kind+"."+field, reason)
	}
	switch kind {
	case KindWorkout:
		if field == "exercises" {
			for i, e := range t.next.Workouts[id].Exercises {
				for j, set := range e.Sets {
					if err := validateSet(OpRemotePatch, i, j, set.WeightKg, set.Reps); err != nil {
						return err
					}
				}
			}
		}
	case KindProgram:
		if field == "sessions" && len(t.next.Programs[id].Sessions) == 0 {
			return bad("must not be empty")
		}
	case KindActiveProgram:
		if field != "current_session_index" {
			return nil
		}
		a := t.next.ActiveProgram
		if a.CurrentSessionIndex < 0 {
			return bad("must be >= 0")
		}
		if p, ok := t.next.Programs[a.ProgramID]; ok && a.CurrentSessionIndex > len(p.Sessions) {
			return bad(fmt.Sprintf("must be <= %d sessions", len(p.Sessions)))
		}
	case KindGamification:
		g := t.next.Gamification
		switch {
		case field == "total_xp" && g.TotalXP < 0,
			field == "current_streak" && g.CurrentStreak < 0,
			field == "best_streak" && g.BestStreak < 0:
			return bad("must be >= 0")
		case field == "last_workout_day" && g.LastWorkoutDay != "":
			if _, err := ParseDay(g.LastWorkoutDay); err != nil {
				return bad("must be YYYY-MM-DD")
			}
		}
	case KindSettings:
		st := t.next.Settings
		switch {
		case field == "unit_system" && st.UnitSystem != UnitsMetric && st.UnitSystem != UnitsImperial:
			return bad("must be kg or lb")
		case field == "weekly_goal" && (st.WeeklyGoal < 1 || st.WeeklyGoal > 14):
			return bad("must be between 1 and 14")
		case field == "rest_timer_seconds" && (st.RestTimerSeconds < 0 || st.RestTimerSeconds > 3600):
			return bad("must be between 0 and 3600")
		}
	case KindWellness:
		e := t.next.Wellness[id]
		switch {
		case field == "sleep_hours" && (e.SleepHours < 0 || e.SleepHours > 24 || math.IsNaN(e.SleepHours)):
			return bad("must be between 0 and 24")
		case field == "soreness" && (e.Soreness < 1 || e.Soreness > 5),
			field == "energy" && (e.Energy < 1 || e.Energy > 5):
			return bad("must be between 1 and 5")
		}
	}
	return nil
}
