// Package schedule は提出された質問からラウンドの出題順を決める。
//
// 出題順は作者ごとに質問をシャッフルし、作者の並び（席順）を1回だけ決めてから
// 席順を繰り返し巡回して各作者の次の質問を1件ずつ取り出すことで作る。
// これにより各作者の質問が全ラウンドに散らばり、全員の残り件数が揃っている間は
// 同じ作者の質問が連続しない。作者が1人だけの場合は連続を避けられない。
package schedule

import (
	"math/rand/v2"

	"github.com/hitoshi/impostor/internal/model"
)

// Order は質問の出題順を返す。
// 入力スライスは変更しない。質問が0件の場合は空スライスを返す。
func Order(questions []*model.Question, rng *rand.Rand) []*model.Question {
	if len(questions) == 0 {
		return []*model.Question{}
	}

	// 作者ごとにグループ化（初出順を保持して乱数以外の非決定性を排除する）
	var authors []string
	queues := make(map[string][]*model.Question)
	for _, q := range questions {
		if _, ok := queues[q.PlayerID]; !ok {
			authors = append(authors, q.PlayerID)
		}
		queues[q.PlayerID] = append(queues[q.PlayerID], q)
	}

	for _, author := range authors {
		qs := queues[author]
		rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}

	// 席順は1回だけ決める
	rng.Shuffle(len(authors), func(i, j int) { authors[i], authors[j] = authors[j], authors[i] })

	ordered := make([]*model.Question, 0, len(questions))
	for len(ordered) < len(questions) {
		for _, author := range authors {
			qs := queues[author]
			if len(qs) == 0 {
				continue
			}
			ordered = append(ordered, qs[0])
			queues[author] = qs[1:]
		}
	}

	return ordered
}

// BuildRounds は出題順に並んだ質問からラウンドを生成する。
// Indexは1始まりの出題位置。各質問のRoundIDに生成したラウンドのIDを設定する。
func BuildRounds(gameID string, ordered []*model.Question, newID func() string) []*model.Round {
	rounds := make([]*model.Round, len(ordered))
	for i, q := range ordered {
		r := &model.Round{
			ID:           newID(),
			GameID:       gameID,
			Index:        i + 1,
			QuestionText: q.Text,
		}
		roundID := r.ID
		q.RoundID = &roundID
		rounds[i] = r
	}
	return rounds
}
