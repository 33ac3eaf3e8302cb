package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/store"
)

const (
	defaultPageSize = 500
	maxPageSize     = 10_000
)

// Reader is the read side of the store. *store.Store implements it.
type Reader interface {
	Sources(ctx context.Context) ([]string, error)
	Coverage(ctx context.Context, source string) (store.Coverage, error)
	Status(ctx context.Context, gameID string) (string, error)
	Features(ctx context.Context, gameID string) ([]game.FeatureRow, error)
	FeaturesBySource(ctx context.Context, source string, limit, offset int) ([]game.FeatureRow, error)
	Runs(ctx context.Context, limit int) ([]store.Run, error)
}

// Handler serves the feature table.
type Handler struct {
	rd  Reader
	log zerolog.Logger
}

// NewRouter creates the HTTP router for the feature table.
func NewRouter(log zerolog.Logger, rd Reader) http.Handler {
	h := &Handler{rd: rd, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /v1/coverage", h.coverage)
	mux.HandleFunc("GET /v1/games/{id}/features", h.gameFeatures)
	mux.HandleFunc("GET /v1/features", h.features)
	mux.HandleFunc("GET /v1/runs", h.runs)

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready checks that the database answers.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.rd.Sources(r.Context()); err != nil {
		h.internalError(w, r, "ready", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// coverage reports one source when ?source= is given, otherwise every source.
func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	sources := []string{r.URL.Query().Get("source")}
	if sources[0] == "" {
		var err error
		if sources, err = h.rd.Sources(r.Context()); err != nil {
			h.internalError(w, r, "sources", err)
			return
		}
	}

	resp := CoverageResponse{Sources: make([]store.Coverage, 0, len(sources))}
	for _, src := range sources {
		cov, err := h.rd.Coverage(r.Context(), src)
		if err != nil {
			h.internalError(w, r, "coverage", err)
			return
		}
		resp.Sources = append(resp.Sources, cov)
	}
	writeJSON(w, resp)
}

func (h *Handler) gameFeatures(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.rd.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "game not analysed: "+id)
		return
	}
	if err != nil {
		h.internalError(w, r, "status", err)
		return
	}
	rows, err := h.rd.Features(r.Context(), id)
	if err != nil {
		h.internalError(w, r, "features", err)
		return
	}
	if rows == nil {
		rows = []game.FeatureRow{}
	}
	writeJSON(w, GameFeaturesResponse{GameID: id, Status: status, Rows: rows})
}

func (h *Handler) features(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	if source == "" {
		writeError(w, r, http.StatusBadRequest, "missing source parameter")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxPageSize)
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid offset")
		return
	}

	rows, err := h.rd.FeaturesBySource(r.Context(), source, limit, offset)
	if err != nil {
		h.internalError(w, r, "features by source", err)
		return
	}
	resp := FeaturePageResponse{Source: source, Limit: limit, Offset: offset, Rows: rows}
	if resp.Rows == nil {
		resp.Rows = []game.FeatureRow{}
	}
	if len(rows) == limit {
		next := offset + limit
		resp.Next = &next
	}
	writeJSON(w, resp)
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := h.rd.Runs(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, "runs", err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Str("op", op).Msg("request failed")
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
