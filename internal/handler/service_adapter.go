package handler

import (
	"context"

	"github.com/hitoshi/impostor/internal/game"
	"github.com/hitoshi/impostor/internal/model"
)

// GameServiceAdapter は game.Service を GameServiceInterface に適合させるアダプタ。
type GameServiceAdapter struct {
	svc *game.Service
}

// NewGameServiceAdapter はGameServiceAdapterを生成する。
func NewGameServiceAdapter(svc *game.Service) *GameServiceAdapter {
	return &GameServiceAdapter{svc: svc}
}

// CreateGame はゲームを作成しhandlerレスポンス型で返す。
func (a *GameServiceAdapter) CreateGame(ctx context.Context) (*createGameResponse, error) {
	g, err := a.svc.CreateGame(ctx)
	if err != nil {
		return nil, err
	}
	return &createGameResponse{GameID: g.ID, Code: g.Code}, nil
}

// JoinGame はゲームに参加しhandlerレスポンス型で返す。
func (a *GameServiceAdapter) JoinGame(ctx context.Context, code, name string) (*joinGameResponse, error) {
	res, err := a.svc.JoinGame(ctx, code, name)
	if err != nil {
		return nil, err
	}
	return &joinGameResponse{
		PlayerID: res.PlayerID,
		GameID:   res.GameID,
		Code:     res.Code,
		Rejoined: res.Rejoined,
	}, nil
}

func (a *GameServiceAdapter) StartGame(ctx context.Context, code string) (model.Phase, error) {
	return a.svc.StartGame(ctx, code)
}

func (a *GameServiceAdapter) SetQuestionCount(ctx context.Context, code string, count int) (model.Phase, error) {
	return a.svc.SetQuestionCount(ctx, code, count)
}

func (a *GameServiceAdapter) SubmitQuestion(ctx context.Context, code, playerID, text string) (model.Phase, error) {
	return a.svc.SubmitQuestion(ctx, code, playerID, text)
}

func (a *GameServiceAdapter) SubmitAnswer(ctx context.Context, code, playerID, text string) (model.Phase, error) {
	return a.svc.SubmitAnswer(ctx, code, playerID, text)
}

func (a *GameServiceAdapter) SubmitVote(ctx context.Context, code, playerID, answerID string) (model.Phase, error) {
	return a.svc.SubmitVote(ctx, code, playerID, answerID)
}

func (a *GameServiceAdapter) NextRound(ctx context.Context, code string) (model.Phase, error) {
	return a.svc.NextRound(ctx, code)
}

func (a *GameServiceAdapter) DeleteGame(ctx context.Context, code string) error {
	return a.svc.DeleteGame(ctx, code)
}

// GetState はゲーム状態をhandlerレスポンス型で返す。
func (a *GameServiceAdapter) GetState(ctx context.Context, code string) (*gameStateResponse, error) {
	snap, err := a.svc.GetState(ctx, code)
	if err != nil {
		return nil, err
	}
	return toGameStateResponse(snap), nil
}

// toGameStateResponse はドメインのSnapshotをhandlerのレスポンス型に変換する。
// ラウンドがない場合も配列はnullではなく空で返す。
func toGameStateResponse(snap *game.Snapshot) *gameStateResponse {
	resp := &gameStateResponse{
		GameID:             snap.GameID,
		Code:               snap.Code,
		Status:             snap.Phase,
		RoundNumber:        snap.RoundNumber,
		QuestionsPerPlayer: snap.QuestionsPerPlayer,
		QuestionsSubmitted: snap.QuestionsSubmitted,
		Players:            make([]playerResponse, len(snap.Players)),
		AnsweredBy:         []string{},
		VotedBy:            []string{},
		Answers:            []answerResponse{},
		Votes:              []voteResponse{},
	}
	for i, p := range snap.Players {
		resp.Players[i] = playerResponse{ID: p.ID, Name: p.Name, Score: p.Score, Streak: p.Streak}
	}

	round := snap.Round
	if round == nil {
		return resp
	}
	resp.CurrentRoundID = &round.ID
	resp.QuestionText = &round.QuestionText
	resp.AnsweredBy = append(resp.AnsweredBy, round.AnsweredBy...)
	resp.VotedBy = append(resp.VotedBy, round.VotedBy...)
	for _, ans := range round.Answers {
		resp.Answers = append(resp.Answers, answerResponse{
			ID:         ans.ID,
			PlayerID:   ans.PlayerID,
			Text:       ans.Text,
			IsImpostor: ans.IsImpostor,
		})
	}
	for _, v := range round.Votes {
		resp.Votes = append(resp.Votes, voteResponse{VoterPlayerID: v.VoterPlayerID, AnswerIDVotedFor: v.AnswerID})
	}
	return resp
}

// --- compile-time interface checks ---

var _ GameServiceInterface = (*GameServiceAdapter)(nil)
