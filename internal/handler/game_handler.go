package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/impostor/internal/middleware"
	"github.com/hitoshi/impostor/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 64 << 10

// GameServiceInterface はゲームハンドラーが必要とするサービスインターフェース。
type GameServiceInterface interface {
	CreateGame(ctx context.Context) (*createGameResponse, error)
	JoinGame(ctx context.Context, code, name string) (*joinGameResponse, error)
	StartGame(ctx context.Context, code string) (model.Phase, error)
	SetQuestionCount(ctx context.Context, code string, count int) (model.Phase, error)
	SubmitQuestion(ctx context.Context, code, playerID, text string) (model.Phase, error)
	SubmitAnswer(ctx context.Context, code, playerID, text string) (model.Phase, error)
	SubmitVote(ctx context.Context, code, playerID, answerID string) (model.Phase, error)
	NextRound(ctx context.Context, code string) (model.Phase, error)
	GetState(ctx context.Context, code string) (*gameStateResponse, error)
	DeleteGame(ctx context.Context, code string) error
}

// GameHandler はゲーム進行のHTTPハンドラー。
type GameHandler struct {
	service GameServiceInterface
	logger  *slog.Logger
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(service GameServiceInterface, logger *slog.Logger) *GameHandler {
	return &GameHandler{service: service, logger: logger}
}

type createGameResponse struct {
	GameID string `json:"game_id"`
	Code   string `json:"code"`
}

type joinGameRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type joinGameResponse struct {
	PlayerID string `json:"player_id"`
	GameID   string `json:"game_id"`
	Code     string `json:"code"`
	Rejoined bool   `json:"rejoined"`
}

type setQuestionCountRequest struct {
	Count int `json:"count"`
}

type submitTextRequest struct {
	PlayerID string `json:"player_id"`
	Text     string `json:"text"`
}

type submitVoteRequest struct {
	PlayerID string `json:"player_id"`
	AnswerID string `json:"answer_id"`
}

type statusResponse struct {
	Status string      `json:"status"`
	Phase  model.Phase `json:"phase,omitempty"`
	Count  int         `json:"count,omitempty"`
}

// gameStateResponse はポーリング用のゲーム状態。
type gameStateResponse struct {
	GameID             string           `json:"game_id"`
	Code               string           `json:"code"`
	Status             model.Phase      `json:"status"`
	RoundNumber        int              `json:"round_number"`
	QuestionsPerPlayer int              `json:"questions_per_player"`
	QuestionsSubmitted int              `json:"questions_submitted"`
	Players            []playerResponse `json:"players"`
	CurrentRoundID     *string          `json:"current_round_id"`
	QuestionText       *string          `json:"question_text"`
	AnsweredBy         []string         `json:"answered_by"`
	VotedBy            []string         `json:"voted_by"`
	Answers            []answerResponse `json:"answers"`
	Votes              []voteResponse   `json:"votes"`
}

type playerResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Streak int    `json:"streak"`
}

type answerResponse struct {
	ID         string  `json:"id"`
	PlayerID   *string `json:"player_id"`
	Text       string  `json:"text"`
	IsImpostor bool    `json:"is_impostor"`
}

type voteResponse struct {
	VoterPlayerID    string `json:"voter_player_id"`
	AnswerIDVotedFor string `json:"answer_id_voted_for"`
}

// CreateGame は新しいゲームを作成する。
// POST /games/create
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.CreateGame(r.Context())
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// JoinGame はゲームに参加する。
// POST /games/join
func (h *GameHandler) JoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.JoinGame(r.Context(), req.Code, req.Name)
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// StartGame は参加受付を締め切る。
// POST /games/{code}/start
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	phase, err := h.service.StartGame(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(phase)})
}

// SetQuestionCount は1人あたりの質問数を設定する。
// POST /games/{code}/set-question-count
func (h *GameHandler) SetQuestionCount(w http.ResponseWriter, r *http.Request) {
	var req setQuestionCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	phase, err := h.service.SetQuestionCount(r.Context(), chi.URLParam(r, "code"), req.Count)
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(phase), Count: req.Count})
}

// SubmitQuestion は質問を投稿する。
// POST /games/{code}/submit-question
func (h *GameHandler) SubmitQuestion(w http.ResponseWriter, r *http.Request) {
	h.submitText(w, r, h.service.SubmitQuestion)
}

// SubmitAnswer は回答を投稿する。
// POST /games/{code}/submit-answer
func (h *GameHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	h.submitText(w, r, h.service.SubmitAnswer)
}

func (h *GameHandler) submitText(w http.ResponseWriter, r *http.Request, submit func(ctx context.Context, code, playerID, text string) (model.Phase, error)) {
	var req submitTextRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !requireUUID(w, "player_id", req.PlayerID) {
		return
	}
	phase, err := submit(r.Context(), chi.URLParam(r, "code"), req.PlayerID, req.Text)
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "submitted", Phase: phase})
}

// SubmitVote はAI回答だと思う回答に投票する。
// POST /games/{code}/submit-vote
func (h *GameHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	var req submitVoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !requireUUID(w, "player_id", req.PlayerID) || !requireUUID(w, "answer_id", req.AnswerID) {
		return
	}
	phase, err := h.service.SubmitVote(r.Context(), chi.URLParam(r, "code"), req.PlayerID, req.AnswerID)
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "voted", Phase: phase})
}

// NextRound は次のラウンドへ進める。
// POST /games/{code}/next-round
func (h *GameHandler) NextRound(w http.ResponseWriter, r *http.Request) {
	phase, err := h.service.NextRound(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(phase)})
}

// GetState はゲームの現在の状態を返す。
// GET /games/{code}/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetState(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteGame はゲームを削除する。
// DELETE /games/{code}
func (h *GameHandler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGame(r.Context(), chi.URLParam(r, "code")); err != nil {
		middleware.WriteError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

// decode はリクエストボディをJSONとして読み込む。失敗した場合は400を書き込みfalseを返す。
func (h *GameHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	reason := "リクエストボディの解析に失敗しました"
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		reason = "リクエストボディが大きすぎます"
	case errors.Is(err, io.EOF):
		reason = "リクエストボディが空です"
	}
	writeAPIError(w, model.NewInvalidRequestError(reason))
	return false
}

// requireUUID はIDがUUID形式であることを確認する。
func requireUUID(w http.ResponseWriter, field, value string) bool {
	if _, err := uuid.Parse(value); err != nil {
		writeAPIError(w, model.NewInvalidRequestError(field+"の形式が不正です"))
		return false
	}
	return true
}

func writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, middleware.StatusForCode(apiErr.Code), apiErr)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
