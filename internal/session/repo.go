package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/kvstore"
	"github.com/2beens/fitsense/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// storage keys
const (
	KeyUser      = "user"
	KeyWorkouts  = "workouts"
	KeyExercises = "exercises"
	KeyMealPlan  = "mealPlan"
)

var AllKeys = []string{KeyUser, KeyWorkouts, KeyExercises, KeyMealPlan}

//go:generate mockgen -source=$GOFILE -destination=store_mocks_test.go -package=session_test

type store interface {
	Get(ctx context.Context, key string) (kvstore.Item, error)
	Set(ctx context.Context, key, value string) (kvstore.Item, error)
	Delete(ctx context.Context, key string) (kvstore.Deleted, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Repo encodes the session records as JSON values in the store.
// A missing key is reported as fitness.ErrNotFound, an undecodable one as fitness.ErrSerialization.
type Repo struct {
	store store
}

func NewRepo(store store) *Repo {
	return &Repo{
		store: store,
	}
}

func (r *Repo) LoadProfile(ctx context.Context) (fitness.UserProfile, error) {
	var profile fitness.UserProfile
	err := r.load(ctx, KeyUser, &profile)
	return profile, err
}

func (r *Repo) SaveProfile(ctx context.Context, profile fitness.UserProfile) error {
	return r.save(ctx, KeyUser, profile)
}

func (r *Repo) LoadWorkouts(ctx context.Context) ([]fitness.WorkoutEntry, error) {
	var workouts []fitness.WorkoutEntry
	if err := r.load(ctx, KeyWorkouts, &workouts); err != nil {
		return nil, err
	}
	return workouts, nil
}

func (r *Repo) SaveWorkouts(ctx context.Context, workouts []fitness.WorkoutEntry) error {
	if workouts == nil {
		workouts = []fitness.WorkoutEntry{}
	}
	return r.save(ctx, KeyWorkouts, workouts)
}

func (r *Repo) LoadMealPlan(ctx context.Context) (fitness.MealPlan, error) {
	var plan fitness.MealPlan
	err := r.load(ctx, KeyMealPlan, &plan)
	return plan, err
}

func (r *Repo) SaveMealPlan(ctx context.Context, plan fitness.MealPlan) error {
	return r.save(ctx, KeyMealPlan, plan)
}

// LoadExercises reads the exercise catalog. Nothing in the session writes it,
// a catalog stored under KeyExercises by other means replaces the default one.
func (r *Repo) LoadExercises(ctx context.Context) ([]string, error) {
	var exercises []string
	if err := r.load(ctx, KeyExercises, &exercises); err != nil {
		return nil, err
	}
	return exercises, nil
}

// Clear deletes every session record. All deletes are attempted.
func (r *Repo) Clear(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.session.clear")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	for _, key := range AllKeys {
		if _, delErr := r.store.Delete(ctx, key); delErr != nil {
			err = multierr.Append(err, fmt.Errorf("delete %s: %w", key, delErr))
		}
	}
	return err
}

func (r *Repo) Keys(ctx context.Context, prefix string) (_ []string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.session.keys")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (r *Repo) load(ctx context.Context, key string, dst interface{}) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.session.load")
	defer func() {
		// a missing record is the normal fresh start, not a failure
		if errors.Is(err, fitness.ErrNotFound) {
			span.End()
			return
		}
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	item, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return fmt.Errorf("load %s: %w", key, fitness.ErrNotFound)
		}
		return fmt.Errorf("load %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(item.Value), dst); err != nil {
		return fmt.Errorf("load %s: %w: %s", key, fitness.ErrSerialization, err)
	}

	return nil
}

func (r *Repo) save(ctx context.Context, key string, v interface{}) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.session.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("save %s: %w: %s", key, fitness.ErrSerialization, err)
	}

	if _, err := r.store.Set(ctx, key, string(value)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}

	return nil
}
