package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/config"
	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
	"github.com/Lunyoo/adlibrary-crawler/internal/ml"
	"github.com/Lunyoo/adlibrary-crawler/internal/orchestrator"
	"github.com/Lunyoo/adlibrary-crawler/internal/session"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

const (
	// defaultAnalyzeLimit is the niche analysis result size when no limit
	// query parameter is given.
	defaultAnalyzeLimit = 10
	maxResultLimit      = 500
	maxBodyBytes        = 1 << 20
	readTimeout         = 5 * time.Second
)

// JobRunner starts scrape runs; *orchestrator.Orchestrator satisfies it.
type JobRunner interface {
	StartAsync(ctx context.Context, req crawler.JobRequest) (string, error)
	RunSync(ctx context.Context, req crawler.JobRequest) (string, crawler.ResultSet, error)
	Active() int
}

// SessionStatus reports browsing session occupancy; *session.Pool
// satisfies it.
type SessionStatus interface {
	Status() session.Status
}

// Server wires HTTP handlers to the orchestrator and the run store.
type Server struct {
	router   chi.Router
	runner   JobRunner
	store    crawler.RunStore
	ml       crawler.MLService
	sessions SessionStatus
	progress *ProgressHandler
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. mlService and
// sessions may be nil.
func NewServer(
	runner JobRunner,
	runStore crawler.RunStore,
	mlService crawler.MLService,
	sessions SessionStatus,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		store:    runStore,
		ml:       mlService,
		sessions: sessions,
		progress: NewProgressHandler(runStore, logger),
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.Server.APIKey))
		}
		r.Get("/status", s.status)

		r.Post("/jobs", s.startJob)
		r.Post("/jobs/sync", s.runJobSync)

		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.With(middleware.Timeout(readTimeout)).Get("/", s.progress.GetRun)
			r.With(middleware.Timeout(readTimeout)).Get("/result", s.progress.GetRunResult)
			r.Get("/stream", s.progress.StreamRun)
		})

		r.Route("/results/{result_id}", func(r chi.Router) {
			r.With(middleware.Timeout(readTimeout)).Get("/", s.progress.GetResult)
			r.Post("/predictions", s.predict)
			r.Post("/training", s.train)
		})

		r.Route("/niches", func(r chi.Router) {
			r.Get("/", s.listNiches)
			r.Post("/{niche}/jobs", s.startNicheJob)
			r.Post("/{niche}/analyze", s.analyzeNiche)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	SessionReady bool           `json:"session_ready"`
	Pool         session.Status `json:"pool"`
	ActiveRuns   int            `json:"active_runs"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{}
	if s.sessions != nil {
		resp.Pool = s.sessions.Status()
		resp.SessionReady = resp.Pool.Ready > 0
	}
	if s.runner != nil {
		resp.ActiveRuns = s.runner.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

// startJob handles POST /v1/jobs: it queues the run and answers 202 with
// its id.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	s.enqueue(w, r, req)
}

// runJobSync handles POST /v1/jobs/sync. When the run outlives
// server.sync_timeout the answer is 202 with the run id so the caller can
// poll instead.
func (s *Server) runJobSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	s.runSync(w, r, req)
}

func (s *Server) startNicheJob(w http.ResponseWriter, r *http.Request) {
	niche := strings.TrimSpace(chi.URLParam(r, "niche"))
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueue(w, r, crawler.JobRequest{
		Terms:       s.cfg.NicheTerms(niche),
		Label:       niche,
		ResultLimit: limit,
	})
}

// analyzeNiche handles POST /v1/niches/{niche}/analyze?limit=N by running
// a synchronous job over the niche and two stock variations of it.
func (s *Server) analyzeNiche(w http.ResponseWriter, r *http.Request) {
	niche := strings.TrimSpace(chi.URLParam(r, "niche"))
	limit, err := parseLimit(r, defaultAnalyzeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runSync(w, r, crawler.JobRequest{
		Terms:       config.AnalysisTerms(niche),
		Label:       niche,
		ResultLimit: limit,
	})
}

func (s *Server) listNiches(w http.ResponseWriter, _ *http.Request) {
	niches := s.cfg.Niches
	if niches == nil {
		niches = map[string][]string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"niches": niches})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, req crawler.JobRequest) {
	runID, err := s.runner.StartAsync(r.Context(), req)
	if err != nil {
		s.writeErr(w, "start job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(crawler.RunStatusQueued),
	})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, req crawler.JobRequest) {
	ctx := r.Context()
	if s.cfg.Server.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.SyncTimeout)
		defer cancel()
	}
	runID, rs, err := s.runner.RunSync(ctx, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rs)
	case runID != "" && errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID,
			"status": string(crawler.RunStatusRunning),
		})
	default:
		s.writeErr(w, "run job", err)
	}
}

func (s *Server) decodeJob(w http.ResponseWriter, r *http.Request) (crawler.JobRequest, bool) {
	var req crawler.JobRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return crawler.JobRequest{}, false
	}
	return req, true
}

type predictionDTO struct {
	Title      string  `json:"title"`
	Advertiser string  `json:"advertiser"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// predict sends every record of a result set to the ML service.
func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	out := make([]predictionDTO, 0, len(rs.Records))
	for _, rec := range rs.Records {
		pred, err := s.ml.Predict(r.Context(), crawler.FeaturesOf(rec))
		if err != nil {
			s.writeErr(w, "predict", err)
			return
		}
		out = append(out, predictionDTO{
			Title:      rec.Title,
			Advertiser: rec.Advertiser,
			Label:      pred.Label,
			Confidence: pred.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"result_id": rs.ID, "predictions": out})
}

// train submits a result set as training records.
func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	if len(rs.Records) == 0 {
		writeError(w, http.StatusBadRequest, "result set has no records")
		return
	}
	features := make([]crawler.Features, 0, len(rs.Records))
	for _, rec := range rs.Records {
		features = append(features, crawler.FeaturesOf(rec))
	}
	report, err := s.ml.Train(r.Context(), features)
	if err != nil {
		s.writeErr(w, "train", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) loadResult(w http.ResponseWriter, r *http.Request) (crawler.ResultSet, bool) {
	if s.ml == nil {
		writeError(w, http.StatusServiceUnavailable, ml.ErrNotConfigured.Error())
		return crawler.ResultSet{}, false
	}
	rs, err := s.store.GetResult(r.Context(), chi.URLParam(r, "result_id"))
	if err != nil {
		s.writeErr(w, "load result", err)
		return crawler.ResultSet{}, false
	}
	return rs, true
}

// writeErr maps the error taxonomy onto HTTP status codes.
func (s *Server) writeErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var mlErr *ml.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrShuttingDown), errors.Is(err, ml.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, crawler.ErrSessionInit), errors.As(err, &mlErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxResultLimit), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sseEvent formats one server-sent event frame.
func sseEvent(payload []byte) string {
	return fmt.Sprintf("data: %s\n\n", payload)
}
