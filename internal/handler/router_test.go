package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/impostor/internal/game"
	"github.com/hitoshi/impostor/internal/generator"
	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/middleware"
	"github.com/hitoshi/impostor/internal/model"
	"github.com/hitoshi/impostor/internal/repository"
)

// newTestServer はメモリリポジトリを使った実サービスでルーターを起動する。
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	gen := generator.GeneratorFunc(func(ctx context.Context, question string, answers []string) (string, error) {
		return "probably a sandwich", nil
	})
	svc := game.NewService(repository.NewMemoryGameRepo(), gen, game.DefaultConfig(),
		game.WithLogger(logger),
		game.WithMetrics(collector),
	)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		RateLimiter:        rl,
		Metrics:            collector,
		Logger:             logger,
		GameService:        NewGameServiceAdapter(svc),
		Pinger:             PingerFunc(func(context.Context) error { return nil }),
		MetricsHandler:     metrics.Handler(reg),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type apiClient struct {
	t    *testing.T
	base string
}

// call はJSONリクエストを送り、レスポンスをoutにデコードしてステータスを返す。
func (c *apiClient) call(method, path string, in, out any) int {
	c.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *apiClient) mustOK(method, path string, in, out any) {
	c.t.Helper()
	if status := c.call(method, path, in, out); status/100 != 2 {
		c.t.Fatalf("%s %s status = %d", method, path, status)
	}
}

func TestRouter_FullGameOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	var created createGameResponse
	c.mustOK(http.MethodPost, "/games/create", nil, &created)
	gamePath := "/games/" + created.Code

	var players []string
	for _, name := range []string{"alice", "bob", "carol"} {
		var joined joinGameResponse
		c.mustOK(http.MethodPost, "/games/join", map[string]string{"name": name, "code": created.Code}, &joined)
		players = append(players, joined.PlayerID)
	}

	c.mustOK(http.MethodPost, gamePath+"/start", nil, nil)
	c.mustOK(http.MethodPost, gamePath+"/set-question-count", map[string]int{"count": 1}, nil)

	for i, id := range players {
		c.mustOK(http.MethodPost, gamePath+"/submit-question", map[string]string{"player_id": id, "text": fmt.Sprintf("q%d?", i)}, nil)
	}

	var state gameStateResponse
	c.mustOK(http.MethodGet, gamePath+"/state", nil, &state)
	if state.Status != model.PhaseAnswering || state.RoundNumber != 1 || state.QuestionText == nil {
		t.Fatalf("state after questions = %+v", state)
	}

	var last statusResponse
	for i, id := range players {
		c.mustOK(http.MethodPost, gamePath+"/submit-answer", map[string]string{"player_id": id, "text": fmt.Sprintf("a%d", i)}, &last)
	}
	if last.Phase != model.PhaseVoting {
		t.Fatalf("phase after answers = %s, want voting", last.Phase)
	}

	c.mustOK(http.MethodGet, gamePath+"/state", nil, &state)
	if len(state.Answers) != 4 {
		t.Fatalf("answers = %d, want 4", len(state.Answers))
	}
	for _, a := range state.Answers {
		if a.PlayerID != nil || a.IsImpostor {
			t.Fatalf("voting state leaks authorship: %+v", a)
		}
	}

	// 全員が同じ回答に投票する
	target := state.Answers[0].ID
	for _, id := range players {
		c.mustOK(http.MethodPost, gamePath+"/submit-vote", map[string]string{"player_id": id, "answer_id": target}, &last)
	}
	if last.Phase != model.PhaseReveal {
		t.Fatalf("phase after votes = %s, want reveal", last.Phase)
	}

	c.mustOK(http.MethodGet, gamePath+"/state", nil, &state)
	if len(state.Votes) != 3 {
		t.Errorf("votes = %d, want 3", len(state.Votes))
	}

	var next statusResponse
	c.mustOK(http.MethodPost, gamePath+"/next-round", nil, &next)
	if next.Status != string(model.PhaseAnswering) {
		t.Errorf("next-round status = %q, want answering", next.Status)
	}

	c.mustOK(http.MethodDelete, gamePath, nil, nil)
	var errBody middleware.ErrorResponseBody
	if status := c.call(http.MethodGet, gamePath+"/state", nil, &errBody); status != http.StatusNotFound {
		t.Errorf("state after delete = %d, want 404", status)
	}
	if errBody.Code != model.ErrCodeGameNotFound {
		t.Errorf("code = %q, want %q", errBody.Code, model.ErrCodeGameNotFound)
	}
}

func TestRouter_RejectedActions(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	var created createGameResponse
	c.mustOK(http.MethodPost, "/games/create", nil, &created)
	gamePath := "/games/" + created.Code

	var errBody middleware.ErrorResponseBody
	if status := c.call(http.MethodPost, gamePath+"/start", nil, &errBody); status != http.StatusConflict {
		t.Errorf("start with no players = %d, want 409", status)
	}
	if errBody.Code != model.ErrCodeNotEnoughPlayers {
		t.Errorf("code = %q, want %q", errBody.Code, model.ErrCodeNotEnoughPlayers)
	}

	if status := c.call(http.MethodPost, "/games/join", map[string]string{"name": "", "code": created.Code}, &errBody); status != http.StatusBadRequest {
		t.Errorf("join with empty name = %d, want 400", status)
	}

	// ゲームコードは4桁のため5桁のコードは存在しない
	if status := c.call(http.MethodPost, "/games/00000/next-round", nil, &errBody); status != http.StatusNotFound {
		t.Errorf("unknown game = %d, want 404", status)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	var health statusResponse
	c.mustOK(http.MethodGet, "/health", nil, &health)
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}

	c.mustOK(http.MethodPost, "/games/create", nil, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"impostor_games_created_total 1", `impostor_http_status_total{status_code="201"} 1`} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/games/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
