package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"arrowhead/api/internal/auth"
	"arrowhead/api/internal/cors"
	"arrowhead/api/internal/lock"
	"arrowhead/api/internal/store"
)

type HTTPServer struct {
	service  *Service
	verifier *auth.Verifier
	cors     *cors.Policy
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	router   *chi.Mux
}

// NewHTTPServer wires the routes. A nil verifier makes every authenticated
// route answer 500 until SUPABASE_JWT_SECRET is configured. A nil policy
// admits the built-in dev and Pages origins. A nil gatherer disables /metrics.
func NewHTTPServer(service *Service, verifier *auth.Verifier, policy *cors.Policy, logger *slog.Logger, gatherer prometheus.Gatherer) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = cors.NewPolicy("", "")
	}
	s := &HTTPServer{
		service:  service,
		verifier: verifier,
		cors:     policy,
		logger:   logger,
		gatherer: gatherer,
	}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return otelhttp.NewHandler(s.withMiddleware(s.router), "arrowhead-api")
}

func (s *HTTPServer) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, notFoundError("Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "Method Not Allowed", "error": "Method not allowed"})
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Put("/api/objectives/{objectiveId}", s.handleUpdateObjective)
	r.Options("/api/objectives/{objectiveId}", s.handlePreflight)
	r.Get("/api/objectives/{objectiveId}/resume", s.handleResume)
	r.Options("/api/objectives/{objectiveId}/resume", s.handlePreflight)
	r.Post("/api/objectives/{objectiveId}/lock", s.handleAcquireLock)
	r.Delete("/api/objectives/{objectiveId}/lock", s.handleReleaseLock)
	r.Options("/api/objectives/{objectiveId}/lock", s.handlePreflight)
	r.Get("/api/projects/{projectId}/objectives", s.handleListObjectives)
	r.Post("/api/projects/{projectId}/objectives", s.handleCreateObjective)
	r.Options("/api/projects/{projectId}/objectives", s.handlePreflight)
	return r
}

var routeMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// methodsFor lists the verbs registered for path, excluding OPTIONS and HEAD.
func (s *HTTPServer) methodsFor(path string) []string {
	var methods []string
	for _, method := range routeMethods {
		if s.router.Match(chi.NewRouteContext(), method, path) {
			methods = append(methods, method)
		}
	}
	return methods
}

func (s *HTTPServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	methods := append(s.methodsFor(r.URL.Path), http.MethodOptions, http.MethodHead)
	w.Header().Set("Allow", strings.Join(methods, ", "))
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Checks(r.Context()) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type objectiveJourney struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	CurrentStep          int             `json:"current_step"`
	JourneyStatus        string          `json:"journey_status"`
	BrainstormData       json.RawMessage `json:"brainstorm_data"`
	ChooseData           json.RawMessage `json:"choose_data"`
	ObjectivesData       json.RawMessage `json:"objectives_data"`
	TargetCompletionDate *string         `json:"target_completion_date"`
}

func journeyFrom(o store.Objective) objectiveJourney {
	return objectiveJourney{
		ID:                   o.ID,
		Name:                 o.Name,
		CurrentStep:          o.CurrentStep,
		JourneyStatus:        o.JourneyStatus,
		BrainstormData:       o.BrainstormData,
		ChooseData:           o.ChooseData,
		ObjectivesData:       o.ObjectivesData,
		TargetCompletionDate: isoPtr(o.TargetCompletionDate),
	}
}

type objectiveSummary struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	Name                 string  `json:"name"`
	CurrentStep          int     `json:"current_step"`
	JourneyStatus        string  `json:"journey_status"`
	TargetCompletionDate *string `json:"target_completion_date"`
	ActualCompletionDate *string `json:"actual_completion_date"`
	IsArchived           bool    `json:"is_archived"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
	IsLocked             bool    `json:"is_locked"`
	LockedByCurrentUser  bool    `json:"locked_by_current_user"`
	LockExpiresAt        *string `json:"lock_expires_at"`
}

func summaryFrom(view ObjectiveView) objectiveSummary {
	o := view.Objective
	return objectiveSummary{
		ID:                   o.ID,
		ProjectID:            o.ProjectID,
		Name:                 o.Name,
		CurrentStep:          o.CurrentStep,
		JourneyStatus:        o.JourneyStatus,
		TargetCompletionDate: isoPtr(o.TargetCompletionDate),
		ActualCompletionDate: isoPtr(o.ActualCompletionDate),
		IsArchived:           o.IsArchived,
		CreatedAt:            isoTime(o.CreatedAt),
		UpdatedAt:            isoTime(o.UpdatedAt),
		IsLocked:             view.Lock.LockedByOther || view.Lock.LockedByCaller,
		LockedByCurrentUser:  view.Lock.LockedByCaller,
		LockExpiresAt:        isoPtr(view.Lock.ExpiresAt),
	}
}

func (s *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	view, err := s.service.Resume(r.Context(), caller, chi.URLParam(r, "objectiveId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objective":              journeyFrom(view.Objective),
		"is_locked":              view.Lock.LockedByOther,
		"locked_by_current_user": view.Lock.LockedByCaller,
		"lock_expires_at":        isoPtr(view.Lock.ExpiresAt),
	})
}

func (s *HTTPServer) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	objectiveID := strings.TrimSpace(chi.URLParam(r, "objectiveId"))
	result, err := s.service.AcquireLock(r.Context(), caller, objectiveID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, message := http.StatusCreated, "Lock acquired"
	if result.Outcome == lock.Renewed {
		status, message = http.StatusOK, "Lock renewed"
	}
	writeJSON(w, status, map[string]any{
		"message": message,
		"lock": map[string]any{
			"objective_id": objectiveID,
			"expires_at":   isoTime(result.Record.ExpiresAt),
			"duration_ms":  lock.Duration.Milliseconds(),
		},
	})
}

func (s *HTTPServer) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	objectiveID := strings.TrimSpace(chi.URLParam(r, "objectiveId"))
	if err := s.service.ReleaseLock(r.Context(), caller, objectiveID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Lock released",
		"objective_id": objectiveID,
	})
}

func (s *HTTPServer) handleListObjectives(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	filter := store.ObjectiveFilter{JourneyStatus: strings.TrimSpace(r.URL.Query().Get("journey_status"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("include_archived")); raw != "" {
		includeArchived, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, badRequestError("include_archived must be true or false"))
			return
		}
		filter.IncludeArchived = includeArchived
	}
	views, err := s.service.ListObjectives(r.Context(), caller, chi.URLParam(r, "projectId"), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]objectiveSummary, 0, len(views))
	for _, view := range views {
		items = append(items, summaryFrom(view))
	}
	writeJSON(w, http.StatusOK, map[string]any{"objectives": items, "total": len(items)})
}

type createObjectiveBody struct {
	Name                string `json:"name"`
	StartWithBrainstorm bool   `json:"start_with_brainstorm"`
	TargetDate          string `json:"target_date"`
}

func (s *HTTPServer) handleCreateObjective(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var body createObjectiveBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, badRequestError(err.Error()))
		return
	}
	in := CreateObjectiveInput{Name: body.Name, StartWithBrainstorm: body.StartWithBrainstorm}
	if raw := strings.TrimSpace(body.TargetDate); raw != "" {
		target, err := parseDate(raw)
		if err != nil {
			s.writeError(w, r, badRequestError("target_date must be an ISO 8601 date"))
			return
		}
		in.TargetCompletionDate = &target
	}
	created, err := s.service.CreateObjective(r.Context(), caller, chi.URLParam(r, "projectId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/objectives/"+created.ID)
	writeJSON(w, http.StatusCreated, summaryFrom(ObjectiveView{Objective: created}))
}

type updateObjectiveBody struct {
	Name                 *string         `json:"name"`
	CurrentStep          *int            `json:"current_step"`
	JourneyStatus        *string         `json:"journey_status"`
	BrainstormData       json.RawMessage `json:"brainstorm_data"`
	ChooseData           json.RawMessage `json:"choose_data"`
	ObjectivesData       json.RawMessage `json:"objectives_data"`
	TargetCompletionDate json.RawMessage `json:"target_completion_date"`
	IsArchived           *bool           `json:"is_archived"`
}

func (b updateObjectiveBody) patch() (store.ObjectivePatch, error) {
	patch := store.ObjectivePatch{
		Name:           b.Name,
		CurrentStep:    b.CurrentStep,
		JourneyStatus:  b.JourneyStatus,
		BrainstormData: b.BrainstormData,
		ChooseData:     b.ChooseData,
		ObjectivesData: b.ObjectivesData,
		IsArchived:     b.IsArchived,
	}
	if b.TargetCompletionDate == nil {
		return patch, nil
	}
	if string(b.TargetCompletionDate) == "null" {
		patch.ClearTargetCompletionDate = true
		return patch, nil
	}
	var raw string
	if err := json.Unmarshal(b.TargetCompletionDate, &raw); err != nil {
		return store.ObjectivePatch{}, badRequestError("target_completion_date must be a date string or null")
	}
	target, err := parseDate(raw)
	if err != nil {
		return store.ObjectivePatch{}, badRequestError("target_completion_date must be an ISO 8601 date")
	}
	patch.TargetCompletionDate = &target
	return patch, nil
}

func (s *HTTPServer) handleUpdateObjective(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var body updateObjectiveBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, badRequestError(err.Error()))
		return
	}
	patch, err := body.patch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.service.UpdateObjective(r.Context(), caller, chi.URLParam(r, "objectiveId"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Objective updated successfully",
		"objective": journeyFrom(updated),
	})
}

// requireCaller verifies the bearer token and writes the 401/500 response
// itself when it fails.
func (s *HTTPServer) requireCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	if s.verifier == nil {
		s.writeError(w, r, configurationError(errMissingJWTSecret))
		return Caller{}, false
	}
	token := bearerToken(r)
	if token == "" {
		s.writeError(w, r, authenticationError("Missing or invalid Authorization header"))
		return Caller{}, false
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.writeError(w, r, authenticationError("Invalid or expired token"))
		return Caller{}, false
	}
	if strings.TrimSpace(claims.Sub) == "" {
		s.writeError(w, r, authenticationError("Invalid token payload"))
		return Caller{}, false
	}
	return Caller{UserID: claims.Sub, Email: claims.Email, Role: claims.Role}, true
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := mapError(err)
	if domainErr.Status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), domainErr.Detail,
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeJSON(w, domainErr.Status, domainErr.body())
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		header := writer.Header()
		header.Set("Content-Type", "application/json")
		header.Set("Cache-Control", "no-store")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Request-ID", requestID)
		s.cors.Apply(header, r.Header.Get("Origin"), s.methodsFor(r.URL.Path))

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				if !writer.wroteHeader {
					s.writeError(writer, r, upstreamError("Internal server error", fmt.Errorf("panic: %w", err)))
				} else {
					s.logger.ErrorContext(ctx, "panic after response started", "request_id", requestID, "err", err)
				}
			}
			s.logger.InfoContext(ctx, "request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", writer.status,
				"duration_ms", time.Since(started).Milliseconds(),
			)
		}()

		next.ServeHTTP(writer, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func isoPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := isoTime(*t)
	return &formatted
}
