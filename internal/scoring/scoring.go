// Package scoring はラウンドの投票結果からスコアと連続正解数を計算する。
package scoring

import (
	"fmt"

	"github.com/hitoshi/impostor/internal/model"
)

const (
	// CorrectBase はAI回答を当てたときの基本点。
	CorrectBase = 500
	// StreakBonus は連続正解1回あたりの加点。
	StreakBonus = 50
	// WrongPenalty は人間の回答に投票したときの減点。
	WrongPenalty = 250
	// FoolReward は自分の回答がAIと間違えられた作者への加点。
	FoolReward = 250
)

// Standing はプレイヤーの累積スコアと連続正解数。
type Standing struct {
	Score  int
	Streak int
}

// Outcome は1票分の判定結果。
type Outcome struct {
	VoterID  string
	AnswerID string
	Correct  bool
	Points   int     // 投票者の得点（不正解時は負）
	AuthorID *string // 不正解時に加点された作者。AI回答または正解時はnil
}

// Result はラウンド全体の集計結果。
type Result struct {
	Standings map[string]Standing
	Outcomes  []Outcome
}

// CorrectCount は正解した票数を返す。
func (r *Result) CorrectCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Correct {
			n++
		}
	}
	return n
}

// Tally はラウンドの全投票を集計し、更新後のstandingsを返す。
// authorsは回答ID→作者プレイヤーID（AI回答はnil）。standingsは変更しない。
// 不明な投票者や回答を含む場合は部分的な結果を返さずエラーにする。
func Tally(votes []*model.Vote, impostorAnswerID string, authors map[string]*string, standings map[string]Standing) (*Result, error) {
	next := make(map[string]Standing, len(standings))
	for id, s := range standings {
		next[id] = s
	}

	outcomes := make([]Outcome, 0, len(votes))
	for _, v := range votes {
		voter, ok := next[v.VoterPlayerID]
		if !ok {
			return nil, fmt.Errorf("unknown voter %s", v.VoterPlayerID)
		}
		author, ok := authors[v.AnswerID]
		if !ok {
			return nil, fmt.Errorf("vote %s targets unknown answer %s", v.ID, v.AnswerID)
		}

		o := Outcome{VoterID: v.VoterPlayerID, AnswerID: v.AnswerID}

		if v.AnswerID == impostorAnswerID {
			voter.Streak++
			o.Correct = true
			o.Points = CorrectBase + max(0, (voter.Streak-1)*StreakBonus)
			voter.Score += o.Points
			next[v.VoterPlayerID] = voter
		} else {
			voter.Streak = 0
			voter.Score -= WrongPenalty
			o.Points = -WrongPenalty
			next[v.VoterPlayerID] = voter

			// 作者のstandingは投票者の更新後に読む（自分の回答への投票に対応）
			if author != nil {
				a, ok := next[*author]
				if !ok {
					return nil, fmt.Errorf("answer %s authored by unknown player %s", v.AnswerID, *author)
				}
				a.Score += FoolReward
				next[*author] = a
				o.AuthorID = author
			}
		}

		outcomes = append(outcomes, o)
	}

	return &Result{Standings: next, Outcomes: outcomes}, nil
}
