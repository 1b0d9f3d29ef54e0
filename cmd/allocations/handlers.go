package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/access"
	"github.com/rlarcher1021/seazwf-sub000/pkg/allocation"
	"github.com/rlarcher1021/seazwf-sub000/pkg/audit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/auth"
	"github.com/rlarcher1021/seazwf-sub000/pkg/httpx"
	"github.com/rlarcher1021/seazwf-sub000/pkg/metrics"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
	"github.com/rlarcher1021/seazwf-sub000/pkg/ratelimit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/store"
	"github.com/rlarcher1021/seazwf-sub000/pkg/store/pgstore"
	"github.com/rlarcher1021/seazwf-sub000/pkg/stream"
	"github.com/rlarcher1021/seazwf-sub000/pkg/telemetry"
	"github.com/rlarcher1021/seazwf-sub000/pkg/visibility"

	"github.com/go-chi/chi/v5"
)

type actorLoader interface {
	LoadActor(ctx context.Context, userID int64) (models.Actor, error)
}

type budgetResolver interface {
	ResolveVisibleBudgets(ctx context.Context, actor models.Actor, filter models.BudgetFilter) ([]models.BudgetSummary, error)
}

type allocationService interface {
	Get(ctx context.Context, allocationID int64, actor models.Actor) (models.Allocation, error)
	List(ctx context.Context, budgetID int64, actor models.Actor) (allocation.Listing, error)
	Permissions(ctx context.Context, budgetID int64, actor models.Actor) (access.Permissions, error)
	History(ctx context.Context, allocationID int64, actor models.Actor) ([]audit.Record, error)
	Create(ctx context.Context, budgetID int64, submitted allocation.Submission, actor models.Actor) (models.Allocation, error)
	ApplyUpdate(ctx context.Context, allocationID int64, submitted allocation.Submission, actor models.Actor) (models.Allocation, error)
	Delete(ctx context.Context, allocationID int64, actor models.Actor) error
}

type idempotencyStore interface {
	Begin(ctx context.Context, actorID, budgetID int64, raw string) (int64, bool, error)
	Complete(ctx context.Context, actorID, budgetID int64, raw string, allocationID int64) error
	Release(ctx context.Context, actorID, budgetID int64, raw string) error
}

type Server struct {
	Actors              actorLoader
	Budgets             budgetResolver
	Allocations         allocationService
	Idempotency         idempotencyStore
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Limiter             ratelimit.Limiter
	MutationLimit       int
	AuthMode            string
	AuthSecret          string
	AuthIssuer          string
	AuthAudience        string
	CORSAllowedOrigins  []string
	WSOriginPatterns    []string
	MaxRequestBodyBytes int64
	VisibilityRecheck   time.Duration
	Logger              *slog.Logger
}

type actorContextKey struct{}

// submissionRequest is the body of create and update calls. Values are raw
// form strings; unknown field names are ignored.
type submissionRequest struct {
	Fields map[string]string `json:"fields"`
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RequestIDMiddleware)
	r.Use(httpx.CORSMiddleware(s.CORSAllowedOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware(telemetry.DefaultServiceName))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": telemetry.DefaultServiceName})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.AuthMode, s.AuthSecret,
			auth.WithIssuer(s.AuthIssuer),
			auth.WithAudience(s.AuthAudience),
			auth.WithLeeway(30*time.Second),
		))
		if s.Metrics != nil {
			r.Get("/metrics", s.Metrics.Handler())
		}
		r.Group(func(r chi.Router) {
			r.Use(s.actorMiddleware)
			r.Get("/v1/budgets", s.listBudgets)
			r.Get("/v1/budgets/{id}/permissions", s.budgetPermissions)
			r.Get("/v1/budgets/{id}/allocations", s.listAllocations)
			r.Get("/v1/allocations/{id}", s.getAllocation)
			r.Get("/v1/allocations/{id}/history", s.allocationHistory)
			r.Get("/v1/events", s.streamEvents)
			r.Group(func(r chi.Router) {
				r.Use(ratelimit.Middleware(s.Limiter, s.MutationLimit, actorRateKey))
				r.Post("/v1/budgets/{id}/allocations", s.createAllocation)
				r.Patch("/v1/allocations/{id}", s.updateAllocation)
				r.Delete("/v1/allocations/{id}", s.deleteAllocation)
			})
		})
	})
	return r
}

// actorMiddleware loads role and department for the authenticated user on
// every request, so demotions take effect without new tokens.
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok || p.UserID <= 0 {
			httpx.Error(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		actor, err := s.Actors.LoadActor(r.Context(), p.UserID)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNoRecord), errors.Is(err, pgstore.ErrInactiveUser):
			httpx.Error(w, http.StatusUnauthorized, "unknown or inactive user")
			return
		default:
			s.internalServerError(w, r, "load actor", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey{}, actor)))
	})
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorContextKey{}).(models.Actor)
	return a
}

func actorRateKey(r *http.Request) (string, bool) {
	a, ok := r.Context().Value(actorContextKey{}).(models.Actor)
	if !ok || a.UserID <= 0 {
		return "", false
	}
	return "mutation:" + strconv.FormatInt(a.UserID, 10), true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) listBudgets(w http.ResponseWriter, r *http.Request) {
	filter, err := visibility.ParseFilter(r.URL.Query())
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	budgets, err := s.Budgets.ResolveVisibleBudgets(r.Context(), actorFrom(r), filter)
	if err != nil {
		s.internalServerError(w, r, "resolve budgets", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

func (s *Server) budgetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	perms, err := s.Allocations.Permissions(r.Context(), id, actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, perms)
}

func (s *Server) listAllocations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	listing, err := s.Allocations.List(r.Context(), id, actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listing)
}

func (s *Server) getAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.Allocations.Get(r.Context(), id, actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) allocationHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := s.Allocations.History(r.Context(), id, actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

func decodeSubmission(w http.ResponseWriter, r *http.Request) (allocation.Submission, bool) {
	var req submissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "exceeds") {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.Error(w, status, err.Error())
		return nil, false
	}
	return allocation.ParseSubmission(req.Fields), true
}

func (s *Server) createAllocation(w http.ResponseWriter, r *http.Request) {
	budgetID, ok := pathID(w, r)
	if !ok {
		return
	}
	submitted, ok := decodeSubmission(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r)
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	claimed := false
	if key != "" && s.Idempotency != nil {
		existingID, fresh, err := s.Idempotency.Begin(r.Context(), actor.UserID, budgetID, key)
		switch {
		case errors.Is(err, store.ErrIdempotencyKey):
			httpx.Error(w, http.StatusBadRequest, "Idempotency-Key must be 1-128 characters")
			return
		case errors.Is(err, store.ErrIdempotencyInFlight):
			httpx.Error(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
			return
		case err != nil:
			s.logger().Warn("idempotency cache unavailable, creating without replay protection",
				"actor_id", actor.UserID, "budget_id", budgetID, "error", err)
		case !fresh:
			existing, err := s.Allocations.Get(r.Context(), existingID, actor)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replay", "true")
			httpx.WriteJSON(w, http.StatusOK, existing)
			return
		default:
			claimed = true
		}
	}
	created, err := s.Allocations.Create(r.Context(), budgetID, submitted, actor)
	if claimed {
		if err != nil {
			_ = s.Idempotency.Release(context.WithoutCancel(r.Context()), actor.UserID, budgetID, key)
		} else if cerr := s.Idempotency.Complete(context.WithoutCancel(r.Context()), actor.UserID, budgetID, key, created.ID); cerr != nil {
			s.logger().Warn("idempotency complete failed", "allocation_id", created.ID, "error", cerr)
		}
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) updateAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	submitted, ok := decodeSubmission(w, r)
	if !ok {
		return
	}
	updated, err := s.Allocations.ApplyUpdate(r.Context(), id, submitted, actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.Allocations.Delete(r.Context(), id, actorFrom(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps allocation error kinds to status codes. The service
// has already logged persistence failures with their cause.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *allocation.Error
	if !errors.As(err, &typed) {
		s.internalServerError(w, r, "allocation service", err)
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, allocation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, allocation.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, allocation.ErrValidation):
		status = http.StatusUnprocessableEntity
	}
	httpx.Error(w, status, typed.UserMessage())
}

func (s *Server) internalServerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger().Error("request failed",
		"op", op,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", httpx.RequestID(r.Context()),
		"error", err,
	)
	httpx.Error(w, http.StatusInternalServerError, "internal error")
}

func mutationOp(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return strings.ToLower(method)
}

func outcome(status int) string {
	switch {
	case status < 400:
		return "ok"
	case status == http.StatusForbidden:
		return "denied"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusUnprocessableEntity:
		return "invalid"
	default:
		return "error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack is needed by the /v1/events websocket upgrade.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.Metrics == nil {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.Metrics.Observe(r.Method+" "+route, rec.code, time.Since(start))
		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodDelete:
			s.Metrics.IncMutation(mutationOp(r.Method), outcome(rec.code))
		}
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
