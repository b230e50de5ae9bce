package model

// Question は参加者が書いた質問を表す。
// RoundIDはスケジューラがラウンドに割り当てた時点で一度だけ設定される。
type Question struct {
	ID       string
	GameID   string
	PlayerID string
	Text     string
	RoundID  *string
}

// Round は1つの質問と、それに対する回答・投票の集合を表す。
type Round struct {
	ID               string
	GameID           string
	Index            int // 1始まり、ゲーム内で一意かつ連番
	QuestionText     string
	ImpostorAnswerID *string // AI回答の生成後に設定される非所有の参照
}

// Answer はラウンドへの回答を表す。
// PlayerIDがnilの回答がAI（インポスター）の回答。
type Answer struct {
	ID       string
	RoundID  string
	PlayerID *string
	Text     string
}

// IsImpostor はAIが生成した回答かどうかを返す。
func (a *Answer) IsImpostor() bool {
	return a.PlayerID == nil
}

// Vote は参加者がAI回答だと思った回答への投票を表す。
type Vote struct {
	ID            string
	RoundID       string
	VoterPlayerID string
	AnswerID      string
}
