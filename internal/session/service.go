package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/telemetry/metrics"
	"github.com/2beens/fitsense/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// State is everything the session holds. Absent records stay nil.
type State struct {
	User      *fitness.UserProfile   `json:"user"`
	Workouts  []fitness.WorkoutEntry `json:"workouts"`
	MealPlan  *fitness.MealPlan      `json:"mealPlan"`
	Exercises []string               `json:"exercises"`
}

// Service runs one reducer operation per event and persists its result.
// Operations are serialized, there is a single session per store.
type Service struct {
	mu            sync.Mutex
	repo          *Repo
	engine        *fitness.Engine
	metrics       *metrics.Manager
	analysisDelay time.Duration
}

type NewServiceParams struct {
	Repo    *Repo
	Engine  *fitness.Engine
	Metrics *metrics.Manager
	// AnalysisDelay is a cosmetic pause before a form analysis, zero disables it.
	AnalysisDelay time.Duration
}

func NewService(params NewServiceParams) *Service {
	return &Service{
		repo:          params.Repo,
		engine:        params.Engine,
		metrics:       params.Metrics,
		analysisDelay: params.AnalysisDelay,
	}
}

func (s *Service) State(ctx context.Context) (_ State, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.state")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	var state State

	profile, err := s.repo.LoadProfile(ctx)
	switch {
	case err == nil:
		state.User = &profile
	case !errors.Is(err, fitness.ErrNotFound):
		return State{}, err
	}

	if state.Workouts, err = s.loadWorkouts(ctx); err != nil {
		return State{}, err
	}

	plan, err := s.repo.LoadMealPlan(ctx)
	switch {
	case err == nil:
		state.MealPlan = &plan
	case !errors.Is(err, fitness.ErrNotFound):
		return State{}, err
	}

	if state.Exercises, err = s.loadExercises(ctx); err != nil {
		return State{}, err
	}

	return state, nil
}

// Signup creates the profile and its meal plan. Workouts already in the store are kept.
func (s *Service) Signup(ctx context.Context, input fitness.SignupInput) (_ fitness.UserProfile, _ fitness.MealPlan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.signup")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, plan, err := s.engine.Signup(input)
	if err != nil {
		return fitness.UserProfile{}, fitness.MealPlan{}, err
	}

	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return fitness.UserProfile{}, fitness.MealPlan{}, fmt.Errorf("signup: %w", err)
	}
	if err := s.repo.SaveMealPlan(ctx, plan); err != nil {
		return fitness.UserProfile{}, fitness.MealPlan{}, fmt.Errorf("signup: %w", err)
	}

	s.metrics.CounterSignups.Inc()
	log.Debugf("signup: new profile [%s] with goal [%s]", profile.ID, profile.Goal)

	return profile, plan, nil
}

// Login stores the demo profile. The stored meal plan, if any, is left as is.
func (s *Service) Login(ctx context.Context, email string) (_ fitness.UserProfile, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.login")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.engine.DemoLogin(email)
	if err != nil {
		return fitness.UserProfile{}, err
	}

	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return fitness.UserProfile{}, fmt.Errorf("login: %w", err)
	}

	s.metrics.CounterLogins.Inc()
	return profile, nil
}

// Logout wipes the session records.
func (s *Service) Logout(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.logout")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Service) LogWorkout(ctx context.Context, input fitness.WorkoutInput) (_ fitness.UserProfile, _ fitness.WorkoutEntry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.workout.log")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.repo.LoadProfile(ctx)
	if err != nil {
		return fitness.UserProfile{}, fitness.WorkoutEntry{}, err
	}
	history, err := s.loadWorkouts(ctx)
	if err != nil {
		return fitness.UserProfile{}, fitness.WorkoutEntry{}, err
	}

	updated, history, entry, err := s.engine.LogWorkout(profile, history, input)
	if err != nil {
		return fitness.UserProfile{}, fitness.WorkoutEntry{}, err
	}
	span.SetAttributes(
		attribute.String("workout.id", entry.ID),
		attribute.Int("workout.volume", entry.TotalVolume),
	)

	if err := s.repo.SaveWorkouts(ctx, history); err != nil {
		return fitness.UserProfile{}, fitness.WorkoutEntry{}, fmt.Errorf("log workout: %w", err)
	}
	if err := s.repo.SaveProfile(ctx, updated); err != nil {
		return fitness.UserProfile{}, fitness.WorkoutEntry{}, fmt.Errorf("log workout: %w", err)
	}

	s.metrics.CounterWorkoutsLogged.Inc()
	s.metrics.HistWorkoutVolume.Observe(float64(entry.TotalVolume))
	s.recordLevelUp(profile, updated)

	return updated, entry, nil
}

func (s *Service) AnalyzeForm(ctx context.Context, exercise string, input fitness.AnalysisInput) (_ fitness.UserProfile, _ fitness.AnalysisFeedback, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.analyze")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exercise))

	if s.analysisDelay > 0 {
		timer := time.NewTimer(s.analysisDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fitness.UserProfile{}, fitness.AnalysisFeedback{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.repo.LoadProfile(ctx)
	if err != nil {
		return fitness.UserProfile{}, fitness.AnalysisFeedback{}, err
	}

	updated, feedback, err := s.engine.AnalyzeForm(profile, exercise, input)
	if err != nil {
		return fitness.UserProfile{}, fitness.AnalysisFeedback{}, err
	}
	span.SetAttributes(attribute.Int("form.score", feedback.FormScore))

	if err := s.repo.SaveProfile(ctx, updated); err != nil {
		return fitness.UserProfile{}, fitness.AnalysisFeedback{}, fmt.Errorf("analyze form: %w", err)
	}

	s.metrics.CounterFormAnalyses.WithLabelValues(feedback.Exercise).Inc()
	s.recordLevelUp(profile, updated)

	return updated, feedback, nil
}

func (s *Service) Dashboard(ctx context.Context) (_ fitness.Dashboard, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.dashboard")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.repo.LoadProfile(ctx)
	if err != nil {
		return fitness.Dashboard{}, err
	}
	history, err := s.loadWorkouts(ctx)
	if err != nil {
		return fitness.Dashboard{}, err
	}

	var planPtr *fitness.MealPlan
	plan, err := s.repo.LoadMealPlan(ctx)
	switch {
	case err == nil:
		planPtr = &plan
	case !errors.Is(err, fitness.ErrNotFound):
		return fitness.Dashboard{}, err
	}

	return fitness.Summarize(profile, history, planPtr), nil
}

func (s *Service) WeeklyProgress(ctx context.Context) (_ fitness.WeeklyProgressReport, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.progress.weekly")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.loadWorkouts(ctx)
	if err != nil {
		return fitness.WeeklyProgressReport{}, err
	}

	return fitness.WeeklyProgress(history, s.engine.Now()), nil
}

// MealPlan returns fitness.ErrNotFound when no plan was generated, e.g. after a demo login.
func (s *Service) MealPlan(ctx context.Context) (_ fitness.MealPlan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.mealplan")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.LoadMealPlan(ctx)
}

func (s *Service) Workouts(ctx context.Context) (_ []fitness.WorkoutEntry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.workouts")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadWorkouts(ctx)
}

// Exercises returns the stored exercise catalog, or the default one.
func (s *Service) Exercises(ctx context.Context) (_ []string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.session.exercises")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadExercises(ctx)
}

func (s *Service) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.Keys(ctx, prefix)
}

func (s *Service) loadWorkouts(ctx context.Context) ([]fitness.WorkoutEntry, error) {
	history, err := s.repo.LoadWorkouts(ctx)
	if err != nil {
		if errors.Is(err, fitness.ErrNotFound) {
			return []fitness.WorkoutEntry{}, nil
		}
		return nil, err
	}
	if history == nil {
		history = []fitness.WorkoutEntry{}
	}
	return history, nil
}

func (s *Service) loadExercises(ctx context.Context) ([]string, error) {
	exercises, err := s.repo.LoadExercises(ctx)
	if err != nil {
		if errors.Is(err, fitness.ErrNotFound) {
			catalog := make([]string, len(fitness.DefaultExerciseCatalog))
			copy(catalog, fitness.DefaultExerciseCatalog)
			return catalog, nil
		}
		return nil, err
	}
	return exercises, nil
}

func (s *Service) recordLevelUp(before, after fitness.UserProfile) {
	if !fitness.LeveledUp(before, after) {
		return
	}
	s.metrics.CounterLevelUps.Inc()
	log.Infof("profile [%s] reached level %d", after.ID, after.Level)
}
