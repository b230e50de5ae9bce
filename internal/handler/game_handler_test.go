package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/impostor/internal/middleware"
	"github.com/hitoshi/impostor/internal/model"
)

const (
	testPlayerID = "0b7e6d1c-2f1a-4c8e-9d43-5a7b2c1e9f00"
	testAnswerID = "6f1d2e3c-4b5a-4978-8c6d-1e2f3a4b5c6d"
)

// mockGameService はGameServiceInterfaceのモック。
type mockGameService struct {
	createGameFn       func(ctx context.Context) (*createGameResponse, error)
	joinGameFn         func(ctx context.Context, code, name string) (*joinGameResponse, error)
	startGameFn        func(ctx context.Context, code string) (model.Phase, error)
	setQuestionCountFn func(ctx context.Context, code string, count int) (model.Phase, error)
	submitQuestionFn   func(ctx context.Context, code, playerID, text string) (model.Phase, error)
	submitAnswerFn     func(ctx context.Context, code, playerID, text string) (model.Phase, error)
	submitVoteFn       func(ctx context.Context, code, playerID, answerID string) (model.Phase, error)
	nextRoundFn        func(ctx context.Context, code string) (model.Phase, error)
	getStateFn         func(ctx context.Context, code string) (*gameStateResponse, error)
	deleteGameFn       func(ctx context.Context, code string) error
}

func (m *mockGameService) CreateGame(ctx context.Context) (*createGameResponse, error) {
	return m.createGameFn(ctx)
}

func (m *mockGameService) JoinGame(ctx context.Context, code, name string) (*joinGameResponse, error) {
	return m.joinGameFn(ctx, code, name)
}

func (m *mockGameService) StartGame(ctx context.Context, code string) (model.Phase, error) {
	return m.startGameFn(ctx, code)
}

func (m *mockGameService) SetQuestionCount(ctx context.Context, code string, count int) (model.Phase, error) {
	return m.setQuestionCountFn(ctx, code, count)
}

func (m *mockGameService) SubmitQuestion(ctx context.Context, code, playerID, text string) (model.Phase, error) {
	return m.submitQuestionFn(ctx, code, playerID, text)
}

func (m *mockGameService) SubmitAnswer(ctx context.Context, code, playerID, text string) (model.Phase, error) {
	return m.submitAnswerFn(ctx, code, playerID, text)
}

func (m *mockGameService) SubmitVote(ctx context.Context, code, playerID, answerID string) (model.Phase, error) {
	return m.submitVoteFn(ctx, code, playerID, answerID)
}

func (m *mockGameService) NextRound(ctx context.Context, code string) (model.Phase, error) {
	return m.nextRoundFn(ctx, code)
}

func (m *mockGameService) GetState(ctx context.Context, code string) (*gameStateResponse, error) {
	return m.getStateFn(ctx, code)
}

func (m *mockGameService) DeleteGame(ctx context.Context, code string) error {
	return m.deleteGameFn(ctx, code)
}

// serve はハンドラーをchiのルートに載せてリクエストを処理する。
func serve(method, pattern, path, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newTestHandler(svc GameServiceInterface) *GameHandler {
	return NewGameHandler(svc, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestGameHandler_CreateGame(t *testing.T) {
	h := newTestHandler(&mockGameService{
		createGameFn: func(ctx context.Context) (*createGameResponse, error) {
			return &createGameResponse{GameID: "g-1", Code: "4821"}, nil
		},
	})

	w := serve(http.MethodPost, "/games/create", "/games/create", "", h.CreateGame)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp createGameResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Code != "4821" || resp.GameID != "g-1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGameHandler_JoinGame(t *testing.T) {
	var gotCode, gotName string
	h := newTestHandler(&mockGameService{
		joinGameFn: func(ctx context.Context, code, name string) (*joinGameResponse, error) {
			gotCode, gotName = code, name
			return &joinGameResponse{PlayerID: testPlayerID, GameID: "g-1", Code: code}, nil
		},
	})

	w := serve(http.MethodPost, "/games/join", "/games/join", `{"name":"alice","code":"4821"}`, h.JoinGame)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotCode != "4821" || gotName != "alice" {
		t.Errorf("service called with (%q, %q)", gotCode, gotName)
	}
	var resp joinGameResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.PlayerID != testPlayerID {
		t.Errorf("player_id = %q, want %q", resp.PlayerID, testPlayerID)
	}
}

func TestGameHandler_MalformedBody(t *testing.T) {
	h := newTestHandler(&mockGameService{
		joinGameFn: func(ctx context.Context, code, name string) (*joinGameResponse, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	})

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"invalid json", `{"name":`},
		{"too large", `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(http.MethodPost, "/games/join", "/games/join", tt.body, h.JoinGame)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeError(t, w); body.Code != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
			}
		})
	}
}

func TestGameHandler_SubmitAnswer(t *testing.T) {
	var gotCode, gotPlayer, gotText string
	h := newTestHandler(&mockGameService{
		submitAnswerFn: func(ctx context.Context, code, playerID, text string) (model.Phase, error) {
			gotCode, gotPlayer, gotText = code, playerID, text
			return model.PhaseVoting, nil
		},
	})

	body := `{"player_id":"` + testPlayerID + `","text":"tacos"}`
	w := serve(http.MethodPost, "/games/{code}/submit-answer", "/games/4821/submit-answer", body, h.SubmitAnswer)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotCode != "4821" || gotPlayer != testPlayerID || gotText != "tacos" {
		t.Errorf("service called with (%q, %q, %q)", gotCode, gotPlayer, gotText)
	}
	var resp statusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "submitted" || resp.Phase != model.PhaseVoting {
		t.Errorf("resp = %+v, want submitted/voting", resp)
	}
}

func TestGameHandler_RejectsNonUUIDIDs(t *testing.T) {
	h := newTestHandler(&mockGameService{
		submitQuestionFn: func(ctx context.Context, code, playerID, text string) (model.Phase, error) {
			t.Fatal("service should not be called")
			return "", nil
		},
		submitVoteFn: func(ctx context.Context, code, playerID, answerID string) (model.Phase, error) {
			t.Fatal("service should not be called")
			return "", nil
		},
	})

	w := serve(http.MethodPost, "/games/{code}/submit-question", "/games/4821/submit-question",
		`{"player_id":"player-1","text":"why?"}`, h.SubmitQuestion)
	if w.Code != http.StatusBadRequest {
		t.Errorf("submit-question status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = serve(http.MethodPost, "/games/{code}/submit-vote", "/games/4821/submit-vote",
		`{"player_id":"`+testPlayerID+`","answer_id":"nope"}`, h.SubmitVote)
	if w.Code != http.StatusBadRequest {
		t.Errorf("submit-vote status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGameHandler_SubmitVote(t *testing.T) {
	h := newTestHandler(&mockGameService{
		submitVoteFn: func(ctx context.Context, code, playerID, answerID string) (model.Phase, error) {
			if answerID != testAnswerID {
				t.Errorf("answerID = %q, want %q", answerID, testAnswerID)
			}
			return model.PhaseReveal, nil
		},
	})

	body := `{"player_id":"` + testPlayerID + `","answer_id":"` + testAnswerID + `"}`
	w := serve(http.MethodPost, "/games/{code}/submit-vote", "/games/4821/submit-vote", body, h.SubmitVote)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp statusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "voted" || resp.Phase != model.PhaseReveal {
		t.Errorf("resp = %+v, want voted/reveal", resp)
	}
}

func TestGameHandler_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"not found", model.NewGameNotFoundError("0000"), http.StatusNotFound, model.ErrCodeGameNotFound},
		{"invalid phase", model.NewInvalidPhaseError(model.PhaseVoting, "ゲームを開始"), http.StatusConflict, model.ErrCodeInvalidPhase},
		{"not enough players", model.NewNotEnoughPlayersError(3), http.StatusConflict, model.ErrCodeNotEnoughPlayers},
		{"integrity", model.NewIntegrityViolationError("broken"), http.StatusInternalServerError, model.ErrCodeIntegrityViolation},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockGameService{
				startGameFn: func(ctx context.Context, code string) (model.Phase, error) {
					return "", tt.err
				},
			})
			w := serve(http.MethodPost, "/games/{code}/start", "/games/4821/start", "", h.StartGame)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if body := decodeError(t, w); body.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", body.Code, tt.wantBody)
			}
		})
	}
}

func TestGameHandler_SetQuestionCount(t *testing.T) {
	h := newTestHandler(&mockGameService{
		setQuestionCountFn: func(ctx context.Context, code string, count int) (model.Phase, error) {
			return model.PhaseWriteQuestions, nil
		},
	})

	w := serve(http.MethodPost, "/games/{code}/set-question-count", "/games/4821/set-question-count", `{"count":3}`, h.SetQuestionCount)

	var resp statusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != string(model.PhaseWriteQuestions) || resp.Count != 3 {
		t.Errorf("resp = %+v, want write_questions/3", resp)
	}
}

func TestGameHandler_DeleteGame(t *testing.T) {
	var deleted string
	h := newTestHandler(&mockGameService{
		deleteGameFn: func(ctx context.Context, code string) error {
			deleted = code
			return nil
		},
	})

	w := serve(http.MethodDelete, "/games/{code}", "/games/4821", "", h.DeleteGame)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if deleted != "4821" {
		t.Errorf("deleted = %q, want 4821", deleted)
	}
	var resp statusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "deleted" {
		t.Errorf("status = %q, want deleted", resp.Status)
	}
}

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	w := httptest.NewRecorder()
	HealthHandler(PingerFunc(func(context.Context) error { return nil }), logger).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	HealthHandler(PingerFunc(func(context.Context) error { return errors.New("down") }), logger).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
