package schedule

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/hitoshi/impostor/internal/model"
)

// makeQuestions はplayers人×perPlayer件の質問を生成する。
func makeQuestions(players, perPlayer int) []*model.Question {
	var qs []*model.Question
	for p := 0; p < players; p++ {
		for i := 0; i < perPlayer; i++ {
			qs = append(qs, &model.Question{
				ID:       fmt.Sprintf("q-%d-%d", p, i),
				GameID:   "game-1",
				PlayerID: fmt.Sprintf("player-%d", p),
				Text:     fmt.Sprintf("question %d from player %d", i, p),
			})
		}
	}
	return qs
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestOrder_ConsumesEveryQuestionOnce(t *testing.T) {
	for players := 1; players <= 6; players++ {
		for perPlayer := 1; perPlayer <= 4; perPlayer++ {
			t.Run(fmt.Sprintf("P%d_Q%d", players, perPlayer), func(t *testing.T) {
				qs := makeQuestions(players, perPlayer)
				ordered := Order(qs, newRand(uint64(players*10+perPlayer)))

				if len(ordered) != players*perPlayer {
					t.Fatalf("len(ordered) = %d, want %d", len(ordered), players*perPlayer)
				}
				seen := make(map[string]int)
				for _, q := range ordered {
					seen[q.ID]++
				}
				for _, q := range qs {
					if seen[q.ID] != 1 {
						t.Errorf("question %s consumed %d times, want 1", q.ID, seen[q.ID])
					}
				}
			})
		}
	}
}

func TestOrder_NoConsecutiveAuthorWithEqualCounts(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		qs := makeQuestions(4, 3)
		ordered := Order(qs, newRand(seed))
		for i := 1; i < len(ordered); i++ {
			if ordered[i].PlayerID == ordered[i-1].PlayerID {
				t.Fatalf("seed %d: rounds %d and %d share author %s", seed, i, i+1, ordered[i].PlayerID)
			}
		}
	}
}

func TestOrder_SweepsKeepSeatingOrder(t *testing.T) {
	qs := makeQuestions(3, 3)
	ordered := Order(qs, newRand(7))

	// 各スイープ（3件ごと）の作者の並びが同じであること
	first := []string{ordered[0].PlayerID, ordered[1].PlayerID, ordered[2].PlayerID}
	for sweep := 1; sweep < 3; sweep++ {
		for i := 0; i < 3; i++ {
			if got := ordered[sweep*3+i].PlayerID; got != first[i] {
				t.Errorf("sweep %d slot %d author = %s, want %s", sweep, i, got, first[i])
			}
		}
	}
}

func TestOrder_UnevenCountsDrainLongestQueue(t *testing.T) {
	qs := makeQuestions(2, 1)
	for i := 0; i < 3; i++ {
		qs = append(qs, &model.Question{ID: fmt.Sprintf("extra-%d", i), PlayerID: "player-9", Text: "extra"})
	}

	ordered := Order(qs, newRand(3))
	if len(ordered) != 5 {
		t.Fatalf("len(ordered) = %d, want 5", len(ordered))
	}
	// 最後の2件は残り件数が最も多い作者のみ
	if ordered[3].PlayerID != "player-9" || ordered[4].PlayerID != "player-9" {
		t.Errorf("tail authors = %s,%s, want player-9 twice", ordered[3].PlayerID, ordered[4].PlayerID)
	}
}

func TestOrder_SingleAuthor(t *testing.T) {
	qs := makeQuestions(1, 3)
	ordered := Order(qs, newRand(1))
	if len(ordered) != 3 {
		t.Fatalf("len(ordered) = %d, want 3", len(ordered))
	}
	for _, q := range ordered {
		if q.PlayerID != "player-0" {
			t.Errorf("unexpected author %s", q.PlayerID)
		}
	}
}

func TestOrder_Empty(t *testing.T) {
	ordered := Order(nil, newRand(1))
	if ordered == nil || len(ordered) != 0 {
		t.Errorf("Order(nil) = %v, want empty non-nil slice", ordered)
	}
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	qs := makeQuestions(3, 2)
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}

	Order(qs, newRand(11))

	for i, q := range qs {
		if q.ID != ids[i] {
			t.Fatalf("input reordered at %d: %s, want %s", i, q.ID, ids[i])
		}
	}
}

func TestOrder_DeterministicForSeed(t *testing.T) {
	a := Order(makeQuestions(4, 2), newRand(42))
	b := Order(makeQuestions(4, 2), newRand(42))
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("position %d differs: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}

func TestBuildRounds(t *testing.T) {
	ordered := Order(makeQuestions(3, 1), newRand(5))
	n := 0
	rounds := BuildRounds("game-1", ordered, func() string {
		n++
		return fmt.Sprintf("round-%d", n)
	})

	if len(rounds) != 3 {
		t.Fatalf("len(rounds) = %d, want 3", len(rounds))
	}
	for i, r := range rounds {
		if r.Index != i+1 {
			t.Errorf("rounds[%d].Index = %d, want %d", i, r.Index, i+1)
		}
		if r.GameID != "game-1" {
			t.Errorf("rounds[%d].GameID = %q", i, r.GameID)
		}
		if r.QuestionText != ordered[i].Text {
			t.Errorf("rounds[%d].QuestionText = %q, want %q", i, r.QuestionText, ordered[i].Text)
		}
		if r.ImpostorAnswerID != nil {
			t.Errorf("rounds[%d].ImpostorAnswerID should be nil", i)
		}
		if ordered[i].RoundID == nil || *ordered[i].RoundID != r.ID {
			t.Errorf("question %s RoundID not linked to %s", ordered[i].ID, r.ID)
		}
	}
}
