// Package httpapi mounts the pipeline's HTTP surface: uploads, report requests and schedules.
package httpapi

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
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/middleware"
	"github.com/rpattn/marketsync/internal/repository"
	"github.com/rpattn/marketsync/internal/spapi"
)

// ReportStore persists report requests for the runner to claim.
type ReportStore interface {
	Create(ctx context.Context, req domain.ReportRequest) (domain.ReportRequest, error)
	Get(ctx context.Context, id uuid.UUID) (domain.ReportRequest, error)
}

// Scheduler creates recurring reports upstream.
type Scheduler interface {
	CreateReportSchedule(ctx context.Context, spec spapi.CreateReportScheduleSpecification) (string, error)
}

// LogLister pages through the row issues of one ingestion run.
type LogLister interface {
	List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// Deps are the collaborators behind the routes. Scheduler may be nil when no credentials are configured.
type Deps struct {
	Reports        ReportStore
	Scheduler      Scheduler
	Logs           LogLister
	Uploads        http.Handler
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server holds the route handlers.
type Server struct {
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
}

// New builds a server over deps.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, validate: validator.New(), logger: logger}
}

// Routes returns the handler with request ids, access logging and CORS applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))

	r.Get("/healthz", s.handleHealth)
	if s.deps.Uploads != nil {
		r.With(s.limitBody).Post("/ingestions", s.deps.Uploads.ServeHTTP)
	}
	r.Get("/ingestions/{runID}/logs", s.handleListLogs)
	r.Post("/reports", s.handleCreateReport)
	r.Get("/reports/{id}", s.handleGetReport)
	r.Post("/schedules", s.handleCreateSchedule)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(r)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createReportPayload struct {
	ReportType     string     `json:"reportType" validate:"required,max=128"`
	Locale         string     `json:"locale" validate:"required"`
	MarketplaceIDs []string   `json:"marketplaceIds" validate:"omitempty,dive,required"`
	DataStartTime  *time.Time `json:"dataStartTime"`
	DataEndTime    *time.Time `json:"dataEndTime"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var payload createReportPayload
	if !s.decode(w, r, &payload) {
		return
	}
	locale, err := domain.ParseLocale(payload.Locale)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_locale", err.Error(), nil)
		return
	}
	if payload.DataStartTime != nil && payload.DataEndTime != nil && payload.DataEndTime.Before(*payload.DataStartTime) {
		writeError(w, http.StatusBadRequest, "invalid_range", "dataEndTime must not be before dataStartTime", nil)
		return
	}

	req := domain.NewReportRequest(strings.TrimSpace(payload.ReportType), locale, payload.MarketplaceIDs, payload.DataStartTime, payload.DataEndTime)
	created, err := s.deps.Reports.Create(r.Context(), req)
	if err != nil {
		s.logger.Error("failed to store report request", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "store_failed", "could not store report request", nil)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", fmt.Sprintf("invalid id: %v", err), nil)
		return
	}
	req, err := s.deps.Reports.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "report request not found", nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to load report request", "id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "load_failed", "could not load report request", nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "marketplace credentials are not configured", nil)
		return
	}
	var spec spapi.CreateReportScheduleSpecification
	if !s.decode(w, r, &spec) {
		return
	}
	scheduleID, err := s.deps.Scheduler.CreateReportSchedule(r.Context(), spec)
	if err != nil {
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) && netErr.StatusCode >= 400 && netErr.StatusCode < 500 {
			writeError(w, http.StatusBadGateway, "upstream_rejected", err.Error(), nil)
			return
		}
		s.logger.Error("failed to create report schedule", "report_type", spec.ReportType, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_failed", "could not create report schedule", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"reportScheduleId": scheduleID})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "ingestion logs are not available", nil)
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_run_id", fmt.Sprintf("invalid run id: %v", err), nil)
		return
	}
	query := r.URL.Query()
	limit := 200
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be zero or positive", nil)
			return
		}
		offset = parsed
	}
	logs, err := s.deps.Logs.List(r.Context(), runID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list ingestion logs", "run_id", runID.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list ingestion logs", nil)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// decode reads a JSON body into out and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "request failed validation", validationErrorsToMap(err))
		return false
	}
	return true
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}

type errorBody struct {
	Error  string            `json:"error"`
	Msg    string            `json:"msg"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, fields map[string]string) {
	writeJSON(w, status, errorBody{Error: code, Msg: msg, Fields: fields})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
