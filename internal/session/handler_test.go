package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/kvstore"
	"github.com/2beens/fitsense/internal/middleware"
	"github.com/2beens/fitsense/internal/session"
	"github.com/2beens/fitsense/internal/telemetry/metrics"

	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testRateLimiter struct {
	allowed bool
}

func (l *testRateLimiter) Allow(_ context.Context, _ string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	res := &redis_rate.Result{Limit: limit, RetryAfter: time.Second}
	if l.allowed {
		res.Allowed = 1
	}
	return res, nil
}

func newTestRouter(t *testing.T, rateLimiter middleware.RequestRateLimiter) (*mux.Router, *metrics.Manager) {
	t.Helper()

	service, metricsManager := newTestService(t, 0)
	r := mux.NewRouter()
	session.NewHandler(service).SetupRoutes(r, rateLimiter, metricsManager, 10)
	return r, metricsManager
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		bodyJson, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(bodyJson))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Signup(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "POST", "/auth/signup", map[string]interface{}{
		"name":     "Ana Petrovic",
		"email":    "ana@example.com",
		"password": "whatever",
		"age":      31,
		"goal":     "fat_loss",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp session.SignupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ana Petrovic", resp.User.Name)
	assert.Equal(t, fitness.GoalFatLoss, resp.User.Goal)
	assert.Equal(t, 1, resp.User.Level)
	assert.Equal(t, fitness.GenerateMealPlan(fitness.GoalFatLoss), resp.MealPlan)

	rec = doRequest(t, r, "GET", "/mealplan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plan fitness.MealPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, resp.MealPlan, plan)
}

func TestHandler_Signup_Invalid(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "POST", "/auth/signup", map[string]interface{}{
		"name":  "Ana",
		"email": "not-an-email",
		"age":   31,
		"goal":  "bulk",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SignupInput.Email")
	assert.Contains(t, rec.Body.String(), "SignupInput.Goal")
}

func TestHandler_Signup_BadBody(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	req := httptest.NewRequest("POST", "/auth/signup", bytes.NewReader([]byte(`{"name":`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid json body")

	req = httptest.NewRequest("POST", "/auth/signup", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid content type")
}

func TestHandler_LoginWorkoutFlow(t *testing.T) {
	r, metricsManager := newTestRouter(t, nil)

	// nothing to log a workout against yet
	rec := doRequest(t, r, "POST", "/workouts", fitness.WorkoutInput{})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, "POST", "/auth/login", session.LoginRequest{Email: "demo@example.com", Password: "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp session.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	assert.Equal(t, fitness.DemoProfileID, loginResp.User.ID)
	assert.Equal(t, 2450, loginResp.User.XP)

	rec = doRequest(t, r, "GET", "/mealplan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, "POST", "/workouts", fitness.WorkoutInput{
		Exercises: []fitness.ExerciseSet{
			{Name: "Bench Press", Sets: 3, Reps: 10, Weight: 60},
		},
		Duration: 45,
		RPE:      8,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var workoutResp session.LogWorkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workoutResp))
	assert.Equal(t, 1800, workoutResp.Workout.TotalVolume)
	assert.Equal(t, 45, workoutResp.Workout.Duration)
	assert.Equal(t, 8, workoutResp.Workout.RPE)
	assert.Equal(t, 2550, workoutResp.User.XP)
	assert.Equal(t, 6, workoutResp.User.Level)
	assert.Equal(t, 13, workoutResp.User.Streak)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterLevelUps))

	rec = doRequest(t, r, "GET", "/workouts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var workouts []fitness.WorkoutEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workouts))
	require.Len(t, workouts, 1)
	assert.Equal(t, workoutResp.Workout.ID, workouts[0].ID)

	rec = doRequest(t, r, "GET", "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash fitness.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Equal(t, 1800, dash.WeeklyVolume)
	assert.Equal(t, 1, dash.WorkoutsLogged)
	assert.Equal(t, 0, dash.DailyCalories)

	rec = doRequest(t, r, "GET", "/progress/weekly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report fitness.WeeklyProgressReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Days, 7)
	assert.Equal(t, 1800, report.Days[6].Volume)
}

func TestHandler_LogWorkout_Invalid(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "POST", "/auth/login", session.LoginRequest{Email: "demo@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "POST", "/workouts", fitness.WorkoutInput{
		Exercises: []fitness.ExerciseSet{{Name: "Rows", Sets: 3, Reps: 10, Weight: 40}},
		RPE:       11,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid input")

	// sets x reps would wrap past the int range
	rec = doRequest(t, r, "POST", "/workouts", map[string]interface{}{
		"exercises": []map[string]interface{}{
			{"name": "Rows", "sets": 3037000500, "reps": 3037000500, "weight": 1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sets")
	assert.Contains(t, rec.Body.String(), "Reps")
}

func TestHandler_Analyze(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "POST", "/auth/login", session.LoginRequest{Email: "demo@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "POST", "/analyze", map[string]interface{}{
		"exercise":   "Squats",
		"variation":  "Front Squat",
		"sets":       3,
		"reps":       5,
		"weight":     100,
		"difficulty": "Advanced",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp session.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Squats", resp.Analysis.Exercise)
	assert.Equal(t, "Front Squat", resp.Analysis.Variation)
	assert.Equal(t, "Advanced", resp.Analysis.Difficulty)
	assert.Equal(t, 82, resp.Analysis.FormScore)
	assert.Equal(t, fitness.SuggestionsFor("Squats"), resp.Analysis.Suggestions)
	assert.Equal(t, 2500, resp.User.XP)

	rec = doRequest(t, r, "POST", "/analyze", map[string]interface{}{"exercise": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Analyze_RateLimited(t *testing.T) {
	limiter := &testRateLimiter{allowed: false}
	r, metricsManager := newTestRouter(t, limiter)

	rec := doRequest(t, r, "POST", "/analyze", map[string]interface{}{"exercise": "Squats"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))

	limiter.allowed = true
	// allowed through, but there is no profile yet
	rec = doRequest(t, r, "POST", "/analyze", map[string]interface{}{"exercise": "Squats"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StateAndLogout(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "GET", "/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"user": null,
		"workouts": [],
		"mealPlan": null,
		"exercises": ["Bench Press", "Pull-ups", "Squats", "Deadlift", "Overhead Press", "Rows"]
	}`, rec.Body.String())

	rec = doRequest(t, r, "POST", "/auth/login", session.LoginRequest{Email: "demo@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "GET", "/storage/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":["user"]}`, rec.Body.String())

	rec = doRequest(t, r, "POST", "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"loggedOut":true}`, rec.Body.String())

	rec = doRequest(t, r, "GET", "/storage/keys?prefix=u", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())

	rec = doRequest(t, r, "GET", "/dashboard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Exercises(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "GET", "/exercises", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exercises []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exercises))
	assert.Equal(t, fitness.DefaultExerciseCatalog, exercises)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := doRequest(t, r, "DELETE", "/workouts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_StoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	storeMock := NewMockstore(ctrl)

	metricsManager := metrics.NewTestManager()
	service := session.NewService(session.NewServiceParams{
		Repo:    session.NewRepo(storeMock),
		Engine:  newTestEngine(),
		Metrics: metricsManager,
	})
	r := mux.NewRouter()
	session.NewHandler(service).SetupRoutes(r, nil, metricsManager, 10)

	storeMock.EXPECT().
		Get(gomock.Any(), session.KeyMealPlan).
		Return(kvstore.Item{Key: session.KeyMealPlan, Value: "[1,2"}, nil)
	rec := doRequest(t, r, "GET", "/mealplan", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "stored data corrupted")

	storeMock.EXPECT().
		Get(gomock.Any(), session.KeyWorkouts).
		Return(kvstore.Item{}, errors.New("connection reset"))
	rec = doRequest(t, r, "GET", "/workouts", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error, list workouts failed")

	storeMock.EXPECT().
		Get(gomock.Any(), session.KeyUser).
		Return(kvstore.Item{}, kvstore.ErrNotFound)
	rec = doRequest(t, r, "GET", "/dashboard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	storeMock.EXPECT().
		Get(gomock.Any(), session.KeyUser).
		Return(kvstore.Item{Key: session.KeyUser, Value: `{"id":"demo","level":1}`}, nil)
	storeMock.EXPECT().
		Get(gomock.Any(), session.KeyWorkouts).
		Return(kvstore.Item{}, kvstore.ErrNotFound)
	storeMock.EXPECT().
		Set(gomock.Any(), session.KeyWorkouts, gomock.Any()).
		Return(kvstore.Item{}, kvstore.ErrValueTooLarge)
	rec = doRequest(t, r, "POST", "/workouts", fitness.WorkoutInput{
		Exercises: []fitness.ExerciseSet{{Name: "Rows", Sets: 3, Reps: 10, Weight: 40}},
	})
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage full")
}
