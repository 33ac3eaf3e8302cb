package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/store"
)

// GameFeaturesResponse is the feature table of one game.
type GameFeaturesResponse struct {
	GameID string            `json:"game_id"`
	Status string            `json:"status"` // complete, failed, malformed or empty when never analysed
	Rows   []game.FeatureRow `json:"rows"`
}

// FeaturePageResponse is one page of a source's feature table.
type FeaturePageResponse struct {
	Source string            `json:"source"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   *int              `json:"next,omitempty"` // offset of the next page, absent on the last one
	Rows   []game.FeatureRow `json:"rows"`
}

// CoverageResponse lists coverage per source.
type CoverageResponse struct {
	Sources []store.Coverage `json:"sources"`
}

// RunsResponse lists recent batch runs, newest first.
type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, RequestID: GetRequestID(r.Context())})
}
