package fitness

import (
	"fmt"
	"strings"
)

// DemoProfileID is the fixed id of the profile created by the demo login.
const DemoProfileID = "demo"

// SignupInput carries the already collected signup fields.
// Password is accepted but never stored or checked.
type SignupInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
	Age      int    `json:"age" validate:"gt=0"`
	Goal     Goal   `json:"goal" validate:"required,oneof=fat_loss muscle_gain maintenance"`
}

// Signup builds a fresh profile and its meal plan, generated once, here.
func (e *Engine) Signup(input SignupInput) (UserProfile, MealPlan, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	if err := validateStruct(input); err != nil {
		return UserProfile{}, MealPlan{}, fmt.Errorf("signup: %w", err)
	}

	profile := UserProfile{
		ID:       e.NewID(),
		Name:     input.Name,
		Email:    input.Email,
		Age:      input.Age,
		Goal:     input.Goal,
		XP:       0,
		Level:    1,
		Streak:   0,
		Badges:   []string{},
		JoinDate: e.Now(),
	}

	return profile, GenerateMealPlan(profile.Goal), nil
}

// DemoLogin returns the demo profile for the given email.
// It leaves the meal plan alone.
func (e *Engine) DemoLogin(email string) (UserProfile, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return UserProfile{}, fmt.Errorf("demo login: %w", invalidInput("email", "email"))
	}

	return UserProfile{
		ID:       DemoProfileID,
		Name:     "Demo User",
		Email:    email,
		Age:      28,
		Goal:     GoalMuscleGain,
		XP:       2450,
		Level:    5,
		Streak:   12,
		Badges:   []string{"First Workout", "Week Warrior", "Form Master"},
		JoinDate: e.Now(),
	}, nil
}
