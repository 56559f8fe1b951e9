package fitness

import (
	"fmt"
	"strings"
)

const (
	DefaultVariation  = "Standard"
	DefaultDifficulty = "Intermediate"
	RiskLevelLow      = "Low"

	minFormScore   = 70
	formScoreRange = 30 // scores fall in [70, 99]
)

type AnalysisInput struct {
	Variation  string `json:"variation"`
	Sets       int    `json:"sets" validate:"gte=0"`
	Reps       int    `json:"reps" validate:"gte=0"`
	Weight     int    `json:"weight" validate:"gte=0"`
	Difficulty string `json:"difficulty"`
}

// AnalysisFeedback is returned to the caller only, it is not persisted.
type AnalysisFeedback struct {
	Exercise        string   `json:"exercise"`
	Variation       string   `json:"variation"`
	MusclesTargeted []string `json:"musclesTargeted"`
	FormScore       int      `json:"formScore"`
	Feedback        []string `json:"feedback"`
	RiskLevel       string   `json:"riskLevel"`
	Suggestions     []string `json:"suggestions"`
	Difficulty      string   `json:"difficulty"`
	XPEarned        int      `json:"xpEarned"`
}

// same muscles for every exercise for now
var musclesTargeted = []string{"Chest", "Triceps", "Shoulders"}

var formObservations = []string{
	"Good depth on reps",
	"Keep elbows at 45° angle",
	"Slight arch in lower back detected - maintain neutral spine",
}

var exerciseVariations = map[string][]string{
	"Bench Press": {"Flat Bench", "Incline Bench", "Decline Bench", "Close-Grip", "Wide-Grip"},
	"Pull-ups":    {"Standard", "Wide-Grip", "Close-Grip", "Neutral-Grip", "Archer"},
	"Squats":      {"Back Squat", "Front Squat", "Goblet", "Bulgarian Split", "Pistol"},
	"Deadlift":    {"Conventional", "Sumo", "Romanian", "Trap Bar", "Single-Leg"},
}

var genericSuggestions = []string{"Try different grips", "Adjust tempo", "Add pauses"}

// DefaultExerciseCatalog is offered for analysis when no custom list is stored.
var DefaultExerciseCatalog = []string{
	"Bench Press",
	"Pull-ups",
	"Squats",
	"Deadlift",
	"Overhead Press",
	"Rows",
}

// SuggestionsFor returns the variation list for a known exercise, or the generic one.
func SuggestionsFor(exercise string) []string {
	suggestions, ok := exerciseVariations[exercise]
	if !ok {
		suggestions = genericSuggestions
	}
	return copyStrings(suggestions)
}

// AnalyzeForm produces the canned form report for an exercise and awards AnalysisXP.
// Only the form score is random.
func (e *Engine) AnalyzeForm(
	profile UserProfile,
	exerciseName string,
	input AnalysisInput,
) (UserProfile, AnalysisFeedback, error) {
	if strings.TrimSpace(exerciseName) == "" {
		return profile, AnalysisFeedback{}, fmt.Errorf("analyze form: %w", invalidInput("exercise", "required"))
	}
	if err := validateStruct(input); err != nil {
		return profile, AnalysisFeedback{}, fmt.Errorf("analyze form: %w", err)
	}

	feedback := AnalysisFeedback{
		Exercise:        exerciseName,
		Variation:       input.Variation,
		MusclesTargeted: copyStrings(musclesTargeted),
		FormScore:       minFormScore + e.Rand.Intn(formScoreRange),
		Feedback:        copyStrings(formObservations),
		RiskLevel:       RiskLevelLow,
		Suggestions:     SuggestionsFor(exerciseName),
		Difficulty:      input.Difficulty,
		XPEarned:        AnalysisXP,
	}
	if feedback.Variation == "" {
		feedback.Variation = DefaultVariation
	}
	if feedback.Difficulty == "" {
		feedback.Difficulty = DefaultDifficulty
	}

	return ApplyXP(profile, feedback.XPEarned), feedback, nil
}

func copyStrings(src []string) []string {
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
