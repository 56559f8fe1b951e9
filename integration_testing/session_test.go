//go:build integration_test || all_tests

package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2beens/fitsense/internal/db"
	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/kvstore"
	"github.com/2beens/fitsense/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) doJSON(ctx context.Context, method, path string, body interface{}, dst interface{}) int {
	t := s.T()

	var reqBody io.Reader
	if body != nil {
		bodyJson, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(bodyJson)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if dst != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(respBytes, dst), string(respBytes))
	}

	return resp.StatusCode
}

func (s *IntegrationTestSuite) storedKeys() []string {
	t := s.T()

	rows, err := s.DB.Query(`SELECT key FROM kv_store WHERE key NOT LIKE 'it-%' ORDER BY key`)
	require.NoError(t, err)
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		require.NoError(t, rows.Scan(&key))
		keys = append(keys, key)
	}
	require.NoError(t, rows.Err())
	return keys
}

func (s *IntegrationTestSuite) TestAnalyzeRateLimit() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	status := s.doJSON(ctx, "POST", "/auth/login", session.LoginRequest{Email: "demo@example.com"}, nil)
	require.Equal(t, http.StatusOK, status)

	// the limit is 3 per minute
	for i := 0; i < 3; i++ {
		var analyzeResp session.AnalyzeResponse
		status = s.doJSON(ctx, "POST", "/analyze", map[string]interface{}{"exercise": "Pull-ups"}, &analyzeResp)
		require.Equal(t, http.StatusOK, status)
		assert.GreaterOrEqual(t, analyzeResp.Analysis.FormScore, 70)
		assert.LessOrEqual(t, analyzeResp.Analysis.FormScore, 99)
	}

	status = s.doJSON(ctx, "POST", "/analyze", map[string]interface{}{"exercise": "Pull-ups"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)

	require.Equal(t, http.StatusOK, s.doJSON(ctx, "POST", "/auth/logout", nil, nil))
}

func (s *IntegrationTestSuite) TestPostgresStore() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	pool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost: "localhost",
		DBPort: s.pgPort,
		DBName: testDBName,
	})
	require.NoError(t, err)
	defer pool.Close()

	// already applied by the server, must be a no-op
	require.NoError(t, kvstore.RunMigrations(ctx, pool))

	store := kvstore.NewPostgresStore(pool)
	s.exerciseStore(ctx, store)
}

func (s *IntegrationTestSuite) TestRedisStore() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewRedisStore(s.redisClient, "it-direct")
	s.exerciseStore(ctx, store)
}

func (s *IntegrationTestSuite) exerciseStore(ctx context.Context, store kvstore.Store) {
	t := s.T()

	_, err := store.Get(ctx, "it-user")
	require.True(t, errors.Is(err, kvstore.ErrNotFound), err)

	item, err := store.Set(ctx, "it-user", `{"name":"Ana"}`)
	require.NoError(t, err)
	assert.Equal(t, kvstore.Item{Key: "it-user", Value: `{"name":"Ana"}`}, item)

	_, err = store.Set(ctx, "it-user", `{"name":"Ana P"}`)
	require.NoError(t, err)
	_, err = store.Set(ctx, "it-workouts", `[]`)
	require.NoError(t, err)

	item, err = store.Get(ctx, "it-user")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Ana P"}`, item.Value)

	keys, err := store.List(ctx, "it-")
	require.NoError(t, err)
	assert.Equal(t, []string{"it-user", "it-workouts"}, keys)

	keys, err = store.List(ctx, "it-w")
	require.NoError(t, err)
	assert.Equal(t, []string{"it-workouts"}, keys)

	for _, key := range []string{"it-user", "it-workouts", "it-missing"} {
		deleted, err := store.Delete(ctx, key)
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)
	}

	keys, err = store.List(ctx, "it-")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func (s *IntegrationTestSuite) TestSessionFlow() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	var signupResp session.SignupResponse
	status := s.doJSON(ctx, "POST", "/auth/signup", fitness.SignupInput{
		Name:     "Ana Petrovic",
		Email:    "ana@example.com",
		Password: "not-checked",
		Age:      31,
		Goal:     fitness.GoalMuscleGain,
	}, &signupResp)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, signupResp.User.ID)
	assert.Equal(t, fitness.GenerateMealPlan(fitness.GoalMuscleGain), signupResp.MealPlan)

	var workoutResp session.LogWorkoutResponse
	status = s.doJSON(ctx, "POST", "/workouts", fitness.WorkoutInput{
		Exercises: []fitness.ExerciseSet{
			{Name: "Deadlift", Sets: 3, Reps: 5, Weight: 140},
			{Name: "Rows", Sets: 3, Reps: 10, Weight: 50},
		},
		Duration: 50,
	}, &workoutResp)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 3600, workoutResp.Workout.TotalVolume)
	assert.Equal(t, 100, workoutResp.User.XP)
	assert.Equal(t, 1, workoutResp.User.Streak)

	// persisted in postgres
	assert.Equal(t, []string{session.KeyMealPlan, session.KeyUser, session.KeyWorkouts}, s.storedKeys())
	var storedUser string
	require.NoError(t, s.DB.QueryRow(`SELECT value FROM kv_store WHERE key = $1`, session.KeyUser).Scan(&storedUser))
	var storedProfile fitness.UserProfile
	require.NoError(t, json.Unmarshal([]byte(storedUser), &storedProfile))
	assert.Equal(t, workoutResp.User.ID, storedProfile.ID)
	assert.Equal(t, 100, storedProfile.XP)

	var state struct {
		User      *fitness.UserProfile   `json:"user"`
		Workouts  []fitness.WorkoutEntry `json:"workouts"`
		MealPlan  *fitness.MealPlan      `json:"mealPlan"`
		Exercises []string               `json:"exercises"`
	}
	require.Equal(t, http.StatusOK, s.doJSON(ctx, "GET", "/state", nil, &state))
	require.NotNil(t, state.User)
	require.NotNil(t, state.MealPlan)
	assert.Len(t, state.Workouts, 1)
	assert.Equal(t, fitness.DefaultExerciseCatalog, state.Exercises)

	var dash fitness.Dashboard
	require.Equal(t, http.StatusOK, s.doJSON(ctx, "GET", "/dashboard", nil, &dash))
	assert.Equal(t, 3600, dash.WeeklyVolume)
	assert.Equal(t, signupResp.MealPlan.DailyCalories, dash.DailyCalories)

	var keysResp session.KeysResponse
	require.Equal(t, http.StatusOK, s.doJSON(ctx, "GET", "/storage/keys", nil, &keysResp))
	assert.Equal(t, []string{session.KeyMealPlan, session.KeyUser, session.KeyWorkouts}, keysResp.Keys)

	require.Equal(t, http.StatusOK, s.doJSON(ctx, "POST", "/auth/logout", nil, nil))
	assert.Empty(t, s.storedKeys())
	assert.Equal(t, http.StatusNotFound, s.doJSON(ctx, "GET", "/dashboard", nil, nil))
}
