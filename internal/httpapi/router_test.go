package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/chesstactics/internal/board"
	"github.com/freeeve/chesstactics/internal/game"
	"github.com/freeeve/chesstactics/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "api.db"), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	var games []game.Game
	for i := 0; i < 3; i++ {
		games = append(games, game.Game{
			ID:     fmt.Sprintf("g%d", i),
			Source: "lichess-2024",
			Moves:  []game.Move{{UCI: "e2e4"}, {UCI: "e7e5"}},
		})
	}
	if _, err := s.PutGames(ctx, games); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"g0", "g1"} {
		rows := make([]game.FeatureRow, 2)
		for ply := range rows {
			diff := -25 * ply
			rows[ply] = game.FeatureRow{
				MoveRecord: board.MoveRecord{Ply: ply, Move: "e2e4", Side: "white", Phase: board.PhaseOpening},
				ScoreDiff:  &diff,
				ErrorLabel: "good",
			}
		}
		if err := s.CommitGame(ctx, "run-1", "lichess-2024", id, rows); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkMalformed(ctx, "run-1", "g2", "lichess-2024", "illegal move"); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRun(ctx, "run-1", "lichess-2024", "planning"); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), s))
	t.Cleanup(srv.Close)
	return srv, s
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp := getJSON(t, srv.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Errorf("%s missing request id", path)
		}
	}
}

func TestCoverage(t *testing.T) {
	srv, _ := newTestServer(t)

	var all CoverageResponse
	getJSON(t, srv.URL+"/v1/coverage", &all)
	if len(all.Sources) != 1 {
		t.Fatalf("sources = %+v", all.Sources)
	}
	cov := all.Sources[0]
	if cov.Source != "lichess-2024" || cov.Total != 3 || cov.Analyzed != 2 || cov.Malformed != 1 {
		t.Errorf("coverage = %+v", cov)
	}

	var one CoverageResponse
	getJSON(t, srv.URL+"/v1/coverage?source=empty", &one)
	if len(one.Sources) != 1 || one.Sources[0].Total != 0 {
		t.Errorf("empty source coverage = %+v", one.Sources)
	}
}

func TestCoverageWireNames(t *testing.T) {
	srv, _ := newTestServer(t)

	var raw struct {
		Sources []map[string]json.RawMessage `json:"sources"`
	}
	getJSON(t, srv.URL+"/v1/coverage?source=lichess-2024", &raw)
	if len(raw.Sources) != 1 {
		t.Fatalf("sources = %v", raw.Sources)
	}
	tests := []struct {
		key  string
		want string
	}{
		{"source", `"lichess-2024"`},
		{"total_games", "3"},
		{"analyzed_games", "2"},
		{"malformed", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := raw.Sources[0][tt.key]
			if !ok {
				t.Fatalf("missing key %q in %v", tt.key, raw.Sources[0])
			}
			if string(got) != tt.want {
				t.Errorf("%s = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
	for _, old := range []string{"total", "analyzed"} {
		if _, ok := raw.Sources[0][old]; ok {
			t.Errorf("unexpected key %q", old)
		}
	}
}

func TestGameFeatures(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		id         string
		wantStatus int
		wantRows   int
		wantState  string
	}{
		{"g0", http.StatusOK, 2, store.StatusComplete},
		{"g2", http.StatusOK, 0, store.StatusMalformed},
		{"nope", http.StatusNotFound, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			var got GameFeaturesResponse
			resp := getJSON(t, srv.URL+"/v1/games/"+tt.id+"/features", &got)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.StatusCode != http.StatusOK {
				return
			}
			if len(got.Rows) != tt.wantRows || got.Status != tt.wantState {
				t.Errorf("got %d rows status %q", len(got.Rows), got.Status)
			}
		})
	}
}

func TestFeaturesPaging(t *testing.T) {
	srv, _ := newTestServer(t)

	var page FeaturePageResponse
	getJSON(t, srv.URL+"/v1/features?source=lichess-2024&limit=3", &page)
	if len(page.Rows) != 3 || page.Next == nil || *page.Next != 3 {
		t.Fatalf("first page = %d rows next %v", len(page.Rows), page.Next)
	}
	if page.Rows[0].GameID != "g0" || page.Rows[1].ScoreDiff == nil || *page.Rows[1].ScoreDiff != -25 {
		t.Errorf("first page rows = %+v", page.Rows[:2])
	}

	var last FeaturePageResponse
	getJSON(t, srv.URL+"/v1/features?source=lichess-2024&limit=3&offset=3", &last)
	if len(last.Rows) != 1 || last.Next != nil {
		t.Errorf("last page = %d rows next %v", len(last.Rows), last.Next)
	}

	for _, q := range []string{"", "?source=x&limit=0", "?source=x&limit=abc", "?source=x&offset=-1"} {
		if resp := getJSON(t, srv.URL+"/v1/features"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%q status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestRuns(t *testing.T) {
	srv, _ := newTestServer(t)
	var got RunsResponse
	getJSON(t, srv.URL+"/v1/runs", &got)
	if len(got.Runs) != 1 || got.Runs[0].ID != "run-1" {
		t.Errorf("runs = %+v", got.Runs)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetRequestID(r.Context())))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "abc123" || rec.Header().Get("X-Request-ID") != "abc123" {
		t.Errorf("request id = %q / %q", rec.Body.String(), rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Body.String()) != 36 {
		t.Errorf("generated id = %q, want a uuid", rec.Body.String())
	}
}
