package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Op names a state transition.
type Op string

const (
	OpWorkoutStart           Op = "workout.start"
	OpWorkoutAddExercise     Op = "workout.add_exercise"
	OpWorkoutLogSet          Op = "workout.log_set"
	OpWorkoutComplete        Op = "workout.complete"
	OpWorkoutCorrectSet      Op = "workout.correct_set"
	OpWorkoutDelete          Op = "workout.delete"
	OpProgramCreate          Op = "program.create"
	OpProgramDelete          Op = "program.delete"
	OpProgramEnroll          Op = "program.enroll"
	OpProgramCompleteSession Op = "program.complete_session"
	OpSetXP                  Op = "gamification.set_xp"
	OpAddXP                  Op = "gamification.add_xp"
	OpSettingsUpdate         Op = "settings.update"
	OpWellnessLog            Op = "wellness.log"
	OpRemotePatch            Op = "remote.patch"
)

// Mutation is a request to transition the state. ID, Lamport and DeviceID are assigned at intake
// when empty; Apply is deterministic given a fully populated mutation.
type Mutation struct {
	ID       string          `json:"id"`
	Op       Op              `json:"op"`
	EntityID string          `json:"entity_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Lamport  int64           `json:"lamport"`
	DeviceID string          `json:"device_id"`
	IssuedAt time.Time       `json:"issued_at"`
}

// StartWorkout is the payload of workout.start.
type StartWorkout struct {
	StartedAt time.Time `json:"started_at"`
}

// AddExercise is the payload of workout.add_exercise.
type AddExercise struct {
	ExerciseID string `json:"exercise_id"`
	Name       string `json:"name"`
}

// LogSet is the payload of workout.log_set.
type LogSet struct {
	ExerciseIndex int     `json:"exercise_index"`
	WeightKg      float64 `json:"weight_kg"`
	Reps          int     `json:"reps"`
	Completed     bool    `json:"completed"`
}

// CompleteWorkout is the payload of workout.complete.
type CompleteWorkout struct {
	EndedAt time.Time `json:"ended_at"`
}

// CorrectSet is the payload of workout.correct_set, the only edit allowed on a completed workout.
type CorrectSet struct {
	ExerciseIndex int     `json:"exercise_index"`
	SetIndex      int     `json:"set_index"`
	WeightKg      float64 `json:"weight_kg"`
	Reps          int     `json:"reps"`
	Completed     bool    `json:"completed"`
}

// CreateProgram is the payload of program.create.
type CreateProgram struct {
	Name     string           `json:"name"`
	Sessions []ProgramSession `json:"sessions"`
}

// EnrollProgram is the payload of program.enroll.
type EnrollProgram struct {
	EnrolledAt time.Time `json:"enrolled_at"`
}

// SetXP is the payload of gamification.set_xp.
type SetXP struct {
	Value int64 `json:"value"`
}

// AddXP is the payload of gamification.add_xp.
type AddXP struct {
	Delta int64 `json:"delta"`
}

// UpdateSettings is the payload of settings.update; nil fields are left unchanged.
type UpdateSettings struct {
	DisplayName      *string `json:"display_name,omitempty"`
	UnitSystem       *string `json:"unit_system,omitempty"`
	WeeklyGoal       *int    `json:"weekly_goal,omitempty"`
	RestTimerSeconds *int    `json:"rest_timer_seconds,omitempty"`
}

// LogWellness is the payload of wellness.log.
type LogWellness struct {
	Day        string  `json:"day"`
	SleepHours float64 `json:"sleep_hours"`
	Soreness   int     `json:"soreness"`
	Energy     int     `json:"energy"`
}

// PatchField is one remote field value with the stamp of the write that produced it.
type PatchField struct {
	Field    string          `json:"field"`
	Value    json.RawMessage `json:"value"`
	Lamport  int64           `json:"lamport"`
	DeviceID string          `json:"device_id"`
}

// RemotePatch is the payload of remote.patch.
type RemotePatch struct {
	Kind     string       `json:"kind"`
	EntityID string       `json:"entity_id"`
	Fields   []PatchField `json:"fields"`
}

// NewMutation builds a mutation with an encoded payload.
func NewMutation(op Op, entityID string, payload any) (Mutation, error) {
	m := Mutation{Op: op, EntityID: entityID}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Mutation{}, err
	}
	m.Payload = raw
	return m, nil
}

// MustMutation is NewMutation for statically known payloads.
func MustMutation(op Op, entityID string, payload any) Mutation {
	m, err := NewMutation(op, entityID, payload)
	if err != nil {
		panic(err)
	}
	return m
}

func decode[T any](m Mutation) (T, error) {
	var out T
	if len(bytes.TrimSpace(m.Payload)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, invalid(m.Op, "payload", "is malformed: "+err.Error())
	}
	return out, nil
}

// Validate performs the state-independent checks on a mutation. Checks that need the current
// state, such as entity existence, happen in Apply.
func Validate(m Mutation) error {
	switch m.Op {
	case OpWorkoutStart:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[StartWorkout](m)
		if err != nil {
			return err
		}
		if p.StartedAt.IsZero() {
			return invalid(m.Op, "started_at", "is required")
		}
	case OpWorkoutAddExercise:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[AddExercise](m)
		if err != nil {
			return err
		}
		if strings.TrimSpace(p.Name) == "" {
			return invalid(m.Op, "name", "is required")
		}
	case OpWorkoutLogSet:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[LogSet](m)
		if err != nil {
			return err
		}
		return validateSet(m.Op, p.ExerciseIndex, 0, p.WeightKg, p.Reps)
	case OpWorkoutComplete:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[CompleteWorkout](m)
		if err != nil {
			return err
		}
		if p.EndedAt.IsZero() {
			return invalid(m.Op, "ended_at", "is required")
		}
	case OpWorkoutCorrectSet:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[CorrectSet](m)
		if err != nil {
			return err
		}
		return validateSet(m.Op, p.ExerciseIndex, p.SetIndex, p.WeightKg, p.Reps)
	case OpWorkoutDelete, OpProgramDelete:
		return requireEntity(m)
	case OpProgramCreate:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[CreateProgram](m)
		if err != nil {
			return err
		}
		if strings.TrimSpace(p.Name) == "" {
			return invalid(m.Op, "name", "is required")
		}
		if len(p.Sessions) == 0 {
			return invalid(m.Op, "sessions", "must not be empty")
		}
		for _, session := range p.Sessions {
			if strings.TrimSpace(session.Name) == "" {
				return invalid(m.Op, "sessions.name", "is required")
			}
		}
	case OpProgramEnroll:
		if err := requireEntity(m); err != nil {
			return err
		}
		p, err := decode[EnrollProgram](m)
		if err != nil {
			return err
		}
		if p.EnrolledAt.IsZero() {
			return invalid(m.Op, "enrolled_at", "is required")
		}
	case OpProgramCompleteSession:
		_, err := decode[struct{}](m)
		return err
	case OpSetXP:
		p, err := decode[SetXP](m)
		if err != nil {
			return err
		}
		if p.Value < 0 {
			return invalid(m.Op, "value", "must be >= 0")
		}
	case OpAddXP:
		p, err := decode[AddXP](m)
		if err != nil {
			return err
		}
		if p.Delta <= 0 {
			return invalid(m.Op, "delta", "must be > 0")
		}
	case OpSettingsUpdate:
		p, err := decode[UpdateSettings](m)
		if err != nil {
			return err
		}
		if p.UnitSystem != nil && *p.UnitSystem != UnitsMetric && *p.UnitSystem != UnitsImperial {
			return invalid(m.Op, "unit_system", "must be kg or lb")
		}
		if p.WeeklyGoal != nil && (*p.WeeklyGoal < 1 || *p.WeeklyGoal > 14) {
			return invalid(m.Op, "weekly_goal", "must be between 1 and 14")
		}
		if p.RestTimerSeconds != nil && (*p.RestTimerSeconds < 0 || *p.RestTimerSeconds > 3600) {
			return invalid(m.Op, "rest_timer_seconds", "must be between 0 and 3600")
		}
	case OpWellnessLog:
		p, err := decode[LogWellness](m)
		if err != nil {
			return err
		}
		if _, err := ParseDay(p.Day); err != nil {
			return invalid(m.Op, "day", "must be YYYY-MM-DD")
		}
		if p.SleepHours < 0 || p.SleepHours > 24 || math.IsNaN(p.SleepHours) {
			return invalid(m.Op, "sleep_hours", "must be between 0 and 24")
		}
		if p.Soreness < 1 || p.Soreness > 5 {
			return invalid(m.Op, "soreness", "must be between 1 and 5")
		}
		if p.Energy < 1 || p.Energy > 5 {
			return invalid(m.Op, "energy", "must be between 1 and 5")
		}
	case OpRemotePatch:
		p, err := decode[RemotePatch](m)
		if err != nil {
			return err
		}
		if !knownKind(p.Kind) {
			return invalid(m.Op, "kind", "is unknown")
		}
		if strings.TrimSpace(p.EntityID) == "" {
			return invalid(m.Op, "entity_id", "is required")
		}
		for _, f := range p.Fields {
			if !knownField(p.Kind, f.Field) {
				return invalid(m.Op, "fields", "contains unknown field "+f.Field)
			}
			if !json.Valid(f.Value) {
				return invalid(m.Op, "fields", "contains invalid JSON for "+f.Field)
			}
		}
	default:
		return invalid(m.Op, "op", "is unknown")
	}
	return nil
}

func requireEntity(m Mutation) error {
	if strings.TrimSpace(m.EntityID) == "" {
		return invalid(m.Op, "entity_id", "is required")
	}
	return nil
}

func validateSet(op Op, exerciseIndex, setIndex int, weight float64, reps int) error {
	if exerciseIndex < 0 {
		return invalid(op, "exercise_index", "must be >= 0")
	}
	if setIndex < 0 {
		return invalid(op, "set_index", "must be >= 0")
	}
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return invalid(op, "weight_kg", "must be a non-negative number")
	}
	if reps < 0 {
		return invalid(op, "reps", "must be >= 0")
	}
	return nil
}
