// Package api exposes the entity store, the run log and manual sync triggers
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/config"
	"github.com/sells-group/tender-sync/internal/lock"
	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/pipeline"
	"github.com/sells-group/tender-sync/internal/store"
)

// Syncer runs a set of sources to completion.
type Syncer interface {
	RunAll(ctx context.Context, sources []model.Source) ([]*model.Run, error)
}

// Deps are the handlers' collaborators. Metrics may be nil.
type Deps struct {
	Entities store.EntityStore
	Runs     store.RunLog
	Syncer   Syncer
	Sources  []model.Source
	Metrics  http.Handler
}

type handler struct {
	deps Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, cfg config.ServerConfig) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token, cfg.JWTSecret))
		r.Get("/entities", h.listEntities)
		r.Get("/entities/{id}", h.getEntity)
		r.Post("/entities/sync", h.sync)
		r.Get("/runs", h.listRuns)
		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics)
		}
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type entityList struct {
	Entities []model.Entity `json:"entities"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

func (h *handler) listEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	since, err := sinceParam(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since")
		return
	}
	filter := store.EntityFilter{Region: q.Get("region"), UpdatedSince: since, Limit: limit, Offset: offset}

	entities, err := h.deps.Entities.ListEntities(r.Context(), filter)
	if err != nil {
		h.internalError(w, "list entities", err)
		return
	}
	total, err := h.deps.Entities.CountEntities(r.Context(), filter)
	if err != nil {
		h.internalError(w, "count entities", err)
		return
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	writeJSON(w, http.StatusOK, entityList{Entities: entities, Total: total, Limit: limit, Offset: offset})
}

func (h *handler) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Entities.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		h.internalError(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type syncRequest struct {
	Sources []string `json:"sources"`
}

type syncResponse struct {
	Runs          []*model.Run `json:"runs"`
	Error         string       `json:"error,omitempty"`
	FailedSources []string     `json:"failed_sources,omitempty"`
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sources, unknown := h.selectSources(req.Sources)
	if unknown != "" {
		writeError(w, http.StatusBadRequest, "unknown source: "+unknown)
		return
	}
	if len(sources) == 0 {
		writeError(w, http.StatusBadRequest, "no sources configured")
		return
	}

	runs, err := h.deps.Syncer.RunAll(r.Context(), sources)
	if runs == nil {
		runs = []*model.Run{}
	}
	var syncErr *pipeline.SyncError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, syncResponse{Runs: runs})
	case errors.As(err, &syncErr):
		failed := make([]string, len(syncErr.Failures))
		for i, f := range syncErr.Failures {
			failed[i] = f.Source
		}
		writeJSON(w, http.StatusBadGateway, syncResponse{Runs: runs, Error: syncErr.Error(), FailedSources: failed})
	case errors.Is(err, lock.ErrLocked):
		writeError(w, http.StatusConflict, "sync already in progress")
	default:
		h.internalError(w, "sync", err)
	}
}

// selectSources returns the configured sources named in names, or all of
// them when names is empty.
func (h *handler) selectSources(names []string) ([]model.Source, string) {
	if len(names) == 0 {
		return h.deps.Sources, ""
	}
	byName := make(map[string]model.Source, len(h.deps.Sources))
	for _, s := range h.deps.Sources {
		byName[s.Name] = s
	}
	out := make([]model.Source, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, n
		}
		out = append(out, s)
	}
	return out, ""
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := h.deps.Runs.ListRuns(r.Context(), store.RunFilter{
		Source: q.Get("source"),
		Status: model.RunStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handler) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

// sinceParam accepts Unix milliseconds or an RFC 3339 timestamp.
func sinceParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return time.Time{}, errors.New("negative timestamp")
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
