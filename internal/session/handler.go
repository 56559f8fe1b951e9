package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2beens/fitsense/internal/fitness"
	"github.com/2beens/fitsense/internal/kvstore"
	"github.com/2beens/fitsense/internal/middleware"
	"github.com/2beens/fitsense/internal/telemetry/metrics"
	"github.com/2beens/fitsense/internal/telemetry/tracing"
	"github.com/2beens/fitsense/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type LoginRequest struct {
	Email string `json:"email"`
	// Password is accepted and ignored.
	Password string `json:"password"`
}

type AnalyzeRequest struct {
	Exercise string `json:"exercise"`
	fitness.AnalysisInput
}

type SignupResponse struct {
	User     fitness.UserProfile `json:"user"`
	MealPlan fitness.MealPlan    `json:"mealPlan"`
}

type LoginResponse struct {
	User fitness.UserProfile `json:"user"`
}

type LogoutResponse struct {
	LoggedOut bool `json:"loggedOut"`
}

type LogWorkoutResponse struct {
	User    fitness.UserProfile  `json:"user"`
	Workout fitness.WorkoutEntry `json:"workout"`
}

type AnalyzeResponse struct {
	User     fitness.UserProfile      `json:"user"`
	Analysis fitness.AnalysisFeedback `json:"analysis"`
}

type KeysResponse struct {
	Keys []string `json:"keys"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

// SetupRoutes registers the session endpoints. With a nil rateLimiter the
// analyze endpoint is not rate limited.
func (handler *Handler) SetupRoutes(
	r *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	metricsManager *metrics.Manager,
	analyzeAllowedPerMin int,
) {
	r.HandleFunc("/auth/signup", handler.HandleSignup).Methods("POST", "OPTIONS").Name("signup")
	r.HandleFunc("/auth/login", handler.HandleLogin).Methods("POST", "OPTIONS").Name("login")
	r.HandleFunc("/auth/logout", handler.HandleLogout).Methods("POST", "OPTIONS").Name("logout")

	r.HandleFunc("/state", handler.HandleState).Methods("GET", "OPTIONS").Name("state")
	r.HandleFunc("/dashboard", handler.HandleDashboard).Methods("GET", "OPTIONS").Name("dashboard")
	r.HandleFunc("/progress/weekly", handler.HandleWeeklyProgress).Methods("GET", "OPTIONS").Name("weekly-progress")
	r.HandleFunc("/mealplan", handler.HandleMealPlan).Methods("GET", "OPTIONS").Name("mealplan")
	r.HandleFunc("/exercises", handler.HandleExercises).Methods("GET", "OPTIONS").Name("exercises")
	r.HandleFunc("/workouts", handler.HandleListWorkouts).Methods("GET", "OPTIONS").Name("list-workouts")
	r.HandleFunc("/workouts", handler.HandleLogWorkout).Methods("POST").Name("log-workout")
	r.HandleFunc("/storage/keys", handler.HandleStorageKeys).Methods("GET", "OPTIONS").Name("storage-keys")

	var analyzeHandler http.Handler = http.HandlerFunc(handler.HandleAnalyze)
	if rateLimiter != nil {
		analyzeHandler = middleware.RateLimit(rateLimiter, "analyze", analyzeAllowedPerMin, metricsManager)(analyzeHandler)
	}
	r.Handle("/analyze", analyzeHandler).Methods("POST", "OPTIONS").Name("analyze")
}

func (handler *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.signup")
	defer span.End()

	var input fitness.SignupInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	profile, plan, err := handler.service.Signup(ctx, input)
	if err != nil {
		handler.writeError(w, "signup", err)
		return
	}

	pkg.WriteJSON(w, SignupResponse{User: profile, MealPlan: plan}, http.StatusCreated)
}

func (handler *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.login")
	defer span.End()

	var loginReq LoginRequest
	if !decodeJSONBody(w, r, &loginReq) {
		return
	}

	profile, err := handler.service.Login(ctx, loginReq.Email)
	if err != nil {
		handler.writeError(w, "login", err)
		return
	}

	pkg.WriteJSON(w, LoginResponse{User: profile}, http.StatusOK)
}

func (handler *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.logout")
	defer span.End()

	if err := handler.service.Logout(ctx); err != nil {
		handler.writeError(w, "logout", err)
		return
	}

	pkg.WriteJSON(w, LogoutResponse{LoggedOut: true}, http.StatusOK)
}

func (handler *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.state")
	defer span.End()

	state, err := handler.service.State(ctx)
	if err != nil {
		handler.writeError(w, "get state", err)
		return
	}

	pkg.WriteJSON(w, state, http.StatusOK)
}

func (handler *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.dashboard")
	defer span.End()

	dashboard, err := handler.service.Dashboard(ctx)
	if err != nil {
		handler.writeError(w, "get dashboard", err)
		return
	}

	pkg.WriteJSON(w, dashboard, http.StatusOK)
}

func (handler *Handler) HandleWeeklyProgress(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.progress.weekly")
	defer span.End()

	report, err := handler.service.WeeklyProgress(ctx)
	if err != nil {
		handler.writeError(w, "get weekly progress", err)
		return
	}

	pkg.WriteJSON(w, report, http.StatusOK)
}

func (handler *Handler) HandleMealPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.mealplan")
	defer span.End()

	plan, err := handler.service.MealPlan(ctx)
	if err != nil {
		handler.writeError(w, "get meal plan", err)
		return
	}

	pkg.WriteJSON(w, plan, http.StatusOK)
}

func (handler *Handler) HandleExercises(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.exercises")
	defer span.End()

	exercises, err := handler.service.Exercises(ctx)
	if err != nil {
		handler.writeError(w, "get exercises", err)
		return
	}

	pkg.WriteJSON(w, exercises, http.StatusOK)
}

func (handler *Handler) HandleListWorkouts(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.workouts.list")
	defer span.End()

	workouts, err := handler.service.Workouts(ctx)
	if err != nil {
		handler.writeError(w, "list workouts", err)
		return
	}

	pkg.WriteJSON(w, workouts, http.StatusOK)
}

func (handler *Handler) HandleLogWorkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.workouts.log")
	defer span.End()

	var input fitness.WorkoutInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	profile, entry, err := handler.service.LogWorkout(ctx, input)
	if err != nil {
		handler.writeError(w, "log workout", err)
		return
	}

	log.Debugf("workout [%s] logged, volume: %d", entry.ID, entry.TotalVolume)
	pkg.WriteJSON(w, LogWorkoutResponse{User: profile, Workout: entry}, http.StatusCreated)
}

func (handler *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.analyze")
	defer span.End()

	var analyzeReq AnalyzeRequest
	if !decodeJSONBody(w, r, &analyzeReq) {
		return
	}

	profile, feedback, err := handler.service.AnalyzeForm(ctx, analyzeReq.Exercise, analyzeReq.AnalysisInput)
	if err != nil {
		handler.writeError(w, "analyze form", err)
		return
	}

	pkg.WriteJSON(w, AnalyzeResponse{User: profile, Analysis: feedback}, http.StatusOK)
}

func (handler *Handler) HandleStorageKeys(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.storage.keys")
	defer span.End()

	keys, err := handler.service.Keys(ctx, r.URL.Query().Get("prefix"))
	if err != nil {
		handler.writeError(w, "list storage keys", err)
		return
	}

	pkg.WriteJSON(w, KeysResponse{Keys: keys}, http.StatusOK)
}

func (handler *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, fitness.ErrInvalidInput):
		log.Tracef("%s, invalid input: %s", op, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, fitness.ErrNotFound):
		log.Tracef("%s: %s", op, err)
		http.Error(w, "error, not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		log.Debugf("%s: request canceled", op)
		http.Error(w, "request canceled", http.StatusServiceUnavailable)
	case errors.Is(err, kvstore.ErrValueTooLarge):
		log.Errorf("%s, storage full: %s", op, err)
		http.Error(w, "error, storage full", http.StatusInsufficientStorage)
	case errors.Is(err, fitness.ErrSerialization):
		log.Errorf("%s, stored data corrupted: %s", op, err)
		http.Error(w, "error, stored data corrupted", http.StatusInternalServerError)
	default:
		log.Errorf("%s: %s", op, err)
		http.Error(w, "error, "+op+" failed", http.StatusInternalServerError)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), pkg.ContentType.JSON) {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Tracef("unmarshal json body: %s", err)
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}
