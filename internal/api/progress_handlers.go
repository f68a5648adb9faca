package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

const (
	progressTimeout   = 3 * time.Second
	heartbeatInterval = 15 * time.Second
	maxIDLength       = 128
)

// ProgressHandler exposes read-only run progress and result endpoints.
type ProgressHandler struct {
	store     crawler.RunStore
	timeout   time.Duration
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewProgressHandler wires the run store and logger.
func NewProgressHandler(runStore crawler.RunStore, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		store:     runStore,
		timeout:   progressTimeout,
		heartbeat: heartbeatInterval,
		logger:    logger,
	}
}

// GetRun handles GET /v1/runs/{run_id}. It returns the Run snapshot, 400
// for a malformed id, 404 when the store reports store.ErrNotFound, or 503
// if no store is wired.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.pathID(w, r, "run_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.store.GetProgress(ctx, runID)
	if err != nil {
		h.writeLookupErr(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunResult handles GET /v1/runs/{run_id}/result. Runs that are not
// done yet answer 404.
func (h *ProgressHandler) GetRunResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.pathID(w, r, "run_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rs, err := h.store.GetResultByRun(ctx, runID)
	if err != nil {
		h.writeLookupErr(w, "get run result", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// GetResult handles GET /v1/results/{result_id}.
func (h *ProgressHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := h.pathID(w, r, "result_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rs, err := h.store.GetResult(ctx, resultID)
	if err != nil {
		h.writeLookupErr(w, "get result", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// StreamRun handles GET /v1/runs/{run_id}/stream as server-sent events. One
// `data:` frame carrying the Run JSON is written per observable change; the
// stream ends after the terminal snapshot or when the client goes away.
func (h *ProgressHandler) StreamRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.pathID(w, r, "run_id")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	snapshots, err := h.store.SubscribeProgress(r.Context(), runID)
	if err != nil {
		h.writeLookupErr(w, "stream run", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case snap, open := <-snapshots:
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("encode run snapshot", zap.String("run_id", runID), zap.Error(err))
				return
			}
			if _, err := io.WriteString(w, sseEvent(payload)); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *ProgressHandler) pathID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return "", false
	}
	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		writeError(w, http.StatusBadRequest, param+" is required")
		return "", false
	}
	if len(id) > maxIDLength {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return "", false
	}
	return id, true
}

func (h *ProgressHandler) writeLookupErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
