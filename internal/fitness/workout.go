package fitness

import (
	"fmt"
	"time"
)

const (
	DefaultWorkoutDuration = 60 // minutes
	DefaultRPE             = 7
)

// ExerciseSet bounds keep TotalVolume far below the int range:
// 100 exercises x 1000 sets x 10000 reps x 10000 weight.
type ExerciseSet struct {
	Name   string `json:"name"`
	Sets   int    `json:"sets" validate:"gte=0,lte=1000"`
	Reps   int    `json:"reps" validate:"gte=0,lte=10000"`
	Weight int    `json:"weight" validate:"gte=0,lte=10000"`
}

// WorkoutInput is what the user submits. Zero Duration and RPE mean "not set".
type WorkoutInput struct {
	Exercises []ExerciseSet `json:"exercises" validate:"max=100,dive"`
	Duration  int           `json:"duration" validate:"gte=0,lte=1440"`
	RPE       int           `json:"rpe" validate:"gte=0,lte=10"`
	Notes     string        `json:"notes"`
}

type WorkoutEntry struct {
	ID          string        `json:"id"`
	Date        time.Time     `json:"date"`
	Exercises   []ExerciseSet `json:"exercises"`
	TotalVolume int           `json:"totalVolume"`
	Duration    int           `json:"duration"`
	RPE         int           `json:"rpe"`
	Notes       string        `json:"notes"`
}

// FilterExercises drops the exercises without a name.
func FilterExercises(exercises []ExerciseSet) []ExerciseSet {
	filtered := make([]ExerciseSet, 0, len(exercises))
	for _, ex := range exercises {
		if ex.Name == "" {
			continue
		}
		filtered = append(filtered, ex)
	}
	return filtered
}

// TotalVolume sums sets x reps x weight over the exercises.
func TotalVolume(exercises []ExerciseSet) int {
	volume := 0
	for _, ex := range exercises {
		volume += ex.Sets * ex.Reps * ex.Weight
	}
	return volume
}

// LogWorkout records a workout: the entry is appended to history, the streak
// goes up by one and the profile earns WorkoutXP.
// A submission with no named exercises is still recorded, with zero volume.
func (e *Engine) LogWorkout(
	profile UserProfile,
	history []WorkoutEntry,
	input WorkoutInput,
) (UserProfile, []WorkoutEntry, WorkoutEntry, error) {
	input.Exercises = FilterExercises(input.Exercises)
	if err := validateStruct(input); err != nil {
		return profile, history, WorkoutEntry{}, fmt.Errorf("log workout: %w", err)
	}

	entry := WorkoutEntry{
		ID:          e.NewID(),
		Date:        e.Now(),
		Exercises:   input.Exercises,
		TotalVolume: TotalVolume(input.Exercises),
		Duration:    input.Duration,
		RPE:         input.RPE,
		Notes:       input.Notes,
	}
	if entry.Duration == 0 {
		entry.Duration = DefaultWorkoutDuration
	}
	if entry.RPE == 0 {
		entry.RPE = DefaultRPE
	}

	updatedHistory := make([]WorkoutEntry, 0, len(history)+1)
	updatedHistory = append(updatedHistory, history...)
	updatedHistory = append(updatedHistory, entry)

	updated := profile.clone()
	updated.Streak++
	updated = ApplyXP(updated, WorkoutXP)

	return updated, updatedHistory, entry, nil
}
