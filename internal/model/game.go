// Package model はドメインモデルを定義する。
package model

import "time"

// Phase はゲームの進行フェーズを表す。
type Phase string

const (
	// PhaseLobby は参加者を受け付けている状態。
	PhaseLobby Phase = "lobby"
	// PhaseSetupQuestions はホストが1人あたりの質問数を決める状態。
	PhaseSetupQuestions Phase = "setup_questions"
	// PhaseWriteQuestions は各参加者が質問を書いている状態。
	PhaseWriteQuestions Phase = "write_questions"
	// PhaseAnswering は現在のラウンドの質問に回答している状態。
	PhaseAnswering Phase = "answering"
	// PhaseVoting はAIの回答がどれかを投票している状態。
	PhaseVoting Phase = "voting"
	// PhaseReveal は投票結果とスコアを公開している状態。
	PhaseReveal Phase = "reveal"
	// PhaseFinished は全ラウンドが終了した終端状態。
	PhaseFinished Phase = "finished"
)

// validTransitions はフェーズ遷移グラフ。
var validTransitions = map[Phase][]Phase{
	PhaseLobby:          {PhaseSetupQuestions},
	PhaseSetupQuestions: {PhaseWriteQuestions},
	PhaseWriteQuestions: {PhaseAnswering},
	PhaseAnswering:      {PhaseVoting},
	PhaseVoting:         {PhaseReveal},
	PhaseReveal:         {PhaseAnswering, PhaseFinished},
}

// CanTransitionTo は現在のフェーズからtargetへの遷移が許可されているかを返す。
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, next := range validTransitions[p] {
		if next == target {
			return true
		}
	}
	return false
}

// IsValid は定義済みのフェーズかどうかを返す。
func (p Phase) IsValid() bool {
	switch p {
	case PhaseLobby, PhaseSetupQuestions, PhaseWriteQuestions,
		PhaseAnswering, PhaseVoting, PhaseReveal, PhaseFinished:
		return true
	}
	return false
}

// HasActiveRound はround_numberに対応するラウンドが存在しなければならないフェーズかを返す。
func (p Phase) HasActiveRound() bool {
	return p == PhaseAnswering || p == PhaseVoting || p == PhaseReveal
}

// Game は1回分のプレイセッションを表す。
// 参加者・質問・ラウンドはすべてGameに所有される。
type Game struct {
	ID                 string
	Code               string
	Phase              Phase
	RoundNumber        int // 1始まり。ラウンド生成前は0
	QuestionsPerPlayer int
	CreatedAt          time.Time
}

// Player はゲーム内の人間の参加者を表す。
type Player struct {
	ID        string
	GameID    string
	Name      string
	Score     int // 負になりうる
	Streak    int // AI回答を連続で当てた回数
	CreatedAt time.Time
}
