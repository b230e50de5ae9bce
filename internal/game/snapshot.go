package game

import (
	"context"
	"sort"

	"github.com/hitoshi/impostor/internal/model"
	"github.com/hitoshi/impostor/internal/repository"
)

// Snapshot はクライアントがポーリングで取得するゲーム状態。
type Snapshot struct {
	GameID             string
	Code               string
	Phase              model.Phase
	RoundNumber        int
	QuestionsPerPlayer int
	QuestionsSubmitted int
	Players            []PlayerView
	Round              *RoundView // 現在のラウンド。ラウンド生成前はnil
}

// PlayerView は参加者の公開情報。
type PlayerView struct {
	ID     string
	Name   string
	Score  int
	Streak int
}

// RoundView は現在のラウンドの公開情報。
// 回答の作者とAI回答はrevealフェーズ以降でのみ公開する。
type RoundView struct {
	ID           string
	Index        int
	QuestionText string
	AnsweredBy   []string // 回答済みの参加者ID
	VotedBy      []string // 投票済みの参加者ID
	Answers      []AnswerView
	Votes        []VoteView
}

// AnswerView は回答の公開情報。
type AnswerView struct {
	ID         string
	Text       string
	PlayerID   *string
	IsImpostor bool
}

// VoteView は投票の公開情報。revealフェーズ以降でのみ含まれる。
type VoteView struct {
	VoterPlayerID string
	AnswerID      string
}

// GetState はゲームの現在の状態を返す。ロックは取らない。
func (s *Service) GetState(ctx context.Context, code string) (snap *Snapshot, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "get_state", err) }()

	err = s.repo.Transact(ctx, func(tx repository.GameTx) error {
		game, err := tx.FindGameByCode(ctx, code)
		if err != nil {
			return err
		}
		if game == nil {
			return model.NewGameNotFoundError(code)
		}

		players, err := tx.ListPlayers(ctx, game.ID)
		if err != nil {
			return err
		}
		submitted, err := tx.CountQuestions(ctx, game.ID)
		if err != nil {
			return err
		}

		snap = &Snapshot{
			GameID:             game.ID,
			Code:               game.Code,
			Phase:              game.Phase,
			RoundNumber:        game.RoundNumber,
			QuestionsPerPlayer: game.QuestionsPerPlayer,
			QuestionsSubmitted: submitted,
			Players:            make([]PlayerView, 0, len(players)),
		}
		for _, p := range players {
			snap.Players = append(snap.Players, PlayerView{ID: p.ID, Name: p.Name, Score: p.Score, Streak: p.Streak})
		}

		if game.RoundNumber == 0 {
			return nil
		}
		round, err := tx.FindRoundByIndex(ctx, game.ID, game.RoundNumber)
		if err != nil {
			return err
		}
		if round == nil {
			if game.Phase.HasActiveRound() {
				return model.NewIntegrityViolationError("現在のラウンドが存在しません")
			}
			return nil
		}

		snap.Round, err = buildRoundView(ctx, tx, game.Phase, round)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// buildRoundView はフェーズに応じて公開範囲を絞ったラウンド情報を組み立てる。
//   - answering: 回答本文は伏せ、回答済みの参加者のみ
//   - voting: 回答本文のみ（作者とAI回答は伏せる）、投票済みの参加者のみ
//   - reveal, finished: すべて公開
func buildRoundView(ctx context.Context, tx repository.GameTx, phase model.Phase, round *model.Round) (*RoundView, error) {
	answers, err := tx.ListAnswers(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	votes, err := tx.ListVotes(ctx, round.ID)
	if err != nil {
		return nil, err
	}

	view := &RoundView{
		ID:           round.ID,
		Index:        round.Index,
		QuestionText: round.QuestionText,
		AnsweredBy:   []string{},
		VotedBy:      []string{},
		Answers:      []AnswerView{},
		Votes:        []VoteView{},
	}
	for _, a := range answers {
		if !a.IsImpostor() {
			view.AnsweredBy = append(view.AnsweredBy, *a.PlayerID)
		}
	}
	for _, v := range votes {
		view.VotedBy = append(view.VotedBy, v.VoterPlayerID)
	}

	if phase == model.PhaseAnswering {
		return view, nil
	}

	revealed := phase == model.PhaseReveal || phase == model.PhaseFinished
	if revealed {
		for _, v := range votes {
			view.Votes = append(view.Votes, VoteView{VoterPlayerID: v.VoterPlayerID, AnswerID: v.AnswerID})
		}
	}

	for _, a := range answers {
		av := AnswerView{ID: a.ID, Text: a.Text}
		if revealed {
			av.PlayerID = a.PlayerID
			av.IsImpostor = a.IsImpostor()
		}
		view.Answers = append(view.Answers, av)
	}
	// 提出順だとAI回答が常に最後になるため、ランダムなIDの順に並べる
	sort.Slice(view.Answers, func(i, j int) bool { return view.Answers[i].ID < view.Answers[j].ID })

	return view, nil
}
