// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/impostor/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 同じ参加者による二重回答・二重投票や、同名の二重参加で返される。
var ErrDuplicate = errors.New("duplicate record")

// GameRepository はゲームデータの永続化インターフェース。
type GameRepository interface {
	// Create はゲームを作成する。コードが重複した場合はErrDuplicateを返す。
	Create(ctx context.Context, game *model.Game) error

	// Transact はトランザクションを開始してfnを実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	Transact(ctx context.Context, fn func(tx GameTx) error) error
}

// GameTx は1トランザクション内で利用できるゲーム関連の操作。
// Find系は見つからない場合にnilを返す。
type GameTx interface {
	// FindGameByCode はコードでゲームを取得する。
	FindGameByCode(ctx context.Context, code string) (*model.Game, error)
	// LockGameByCode はコードでゲームを取得し、トランザクション終了まで行ロックを保持する。
	LockGameByCode(ctx context.Context, code string) (*model.Game, error)
	// UpdateGame はphase、round_number、questions_per_playerを更新する。
	UpdateGame(ctx context.Context, game *model.Game) error

	// ListPlayers はゲームの参加者を参加順で返す。
	ListPlayers(ctx context.Context, gameID string) ([]*model.Player, error)
	// CountPlayers はゲームの参加者数を返す。
	CountPlayers(ctx context.Context, gameID string) (int, error)
	// FindPlayerByID はゲーム内の参加者をIDで取得する。
	FindPlayerByID(ctx context.Context, gameID, playerID string) (*model.Player, error)
	// FindPlayerByName はゲーム内の参加者を表示名で取得する。
	FindPlayerByName(ctx context.Context, gameID, name string) (*model.Player, error)
	// CreatePlayer は参加者を作成する。同名の参加者が存在する場合はErrDuplicateを返す。
	CreatePlayer(ctx context.Context, player *model.Player) error
	// UpdatePlayerStandings は参加者のscoreとstreakを更新する。
	UpdatePlayerStandings(ctx context.Context, players []*model.Player) error

	// CountQuestions はゲームに提出された質問数を返す。
	CountQuestions(ctx context.Context, gameID string) (int, error)
	// CountQuestionsByPlayer は参加者が提出した質問数を返す。
	CountQuestionsByPlayer(ctx context.Context, gameID, playerID string) (int, error)
	// ListQuestions はゲームの質問を提出順で返す。
	ListQuestions(ctx context.Context, gameID string) ([]*model.Question, error)
	// CreateQuestion は質問を作成する。
	CreateQuestion(ctx context.Context, question *model.Question) error
	// LinkQuestionToRound は質問に出題先ラウンドを設定する。
	LinkQuestionToRound(ctx context.Context, questionID, roundID string) error

	// CreateRound はラウンドを作成する。同じindexが存在する場合はErrDuplicateを返す。
	CreateRound(ctx context.Context, round *model.Round) error
	// FindRoundByIndex はゲーム内のindex番目のラウンドを取得する。
	FindRoundByIndex(ctx context.Context, gameID string, index int) (*model.Round, error)
	// SetImpostorAnswer はラウンドにAI回答への参照を設定する。
	SetImpostorAnswer(ctx context.Context, roundID, answerID string) error
	// ClearImpostorAnswers はゲームの全ラウンドのAI回答参照を外す。
	ClearImpostorAnswers(ctx context.Context, gameID string) error

	// CreateAnswer は回答を作成する。
	// 同じ参加者の回答、または2件目のAI回答はErrDuplicateを返す。
	CreateAnswer(ctx context.Context, answer *model.Answer) error
	// FindAnswerByID はラウンド内の回答をIDで取得する。
	FindAnswerByID(ctx context.Context, roundID, answerID string) (*model.Answer, error)
	// FindAnswerByPlayer は参加者のラウンド内の回答を取得する。
	FindAnswerByPlayer(ctx context.Context, roundID, playerID string) (*model.Answer, error)
	// ListAnswers はラウンドの回答を作成順で返す。
	ListAnswers(ctx context.Context, roundID string) ([]*model.Answer, error)
	// CountHumanAnswers はラウンドの人間の回答数を返す。
	CountHumanAnswers(ctx context.Context, roundID string) (int, error)

	// CreateVote は投票を作成する。同じ参加者の投票が存在する場合はErrDuplicateを返す。
	CreateVote(ctx context.Context, vote *model.Vote) error
	// FindVoteByPlayer は参加者のラウンド内の投票を取得する。
	FindVoteByPlayer(ctx context.Context, roundID, playerID string) (*model.Vote, error)
	// ListVotes はラウンドの投票を作成順で返す。
	ListVotes(ctx context.Context, roundID string) ([]*model.Vote, error)
	// CountVotes はラウンドの投票数を返す。
	CountVotes(ctx context.Context, roundID string) (int, error)

	// DeleteVotesByGame はゲームの全投票を削除する。
	DeleteVotesByGame(ctx context.Context, gameID string) error
	// DeleteAnswersByGame はゲームの全回答を削除する。ClearImpostorAnswersの後に呼ぶこと。
	DeleteAnswersByGame(ctx context.Context, gameID string) error
	// DeleteQuestionsByGame はゲームの全質問を削除する。
	DeleteQuestionsByGame(ctx context.Context, gameID string) error
	// DeleteRoundsByGame はゲームの全ラウンドを削除する。
	DeleteRoundsByGame(ctx context.Context, gameID string) error
	// DeletePlayersByGame はゲームの全参加者を削除する。
	DeletePlayersByGame(ctx context.Context, gameID string) error
	// DeleteGame はゲーム本体を削除する。
	DeleteGame(ctx context.Context, gameID string) error
}

// StaleGameFinder はクリーンアップ対象のゲームを検索するインターフェース。
type StaleGameFinder interface {
	// ListStaleGameCodes はolderThanより前に作成されたゲームのコードを古い順に最大limit件返す。
	ListStaleGameCodes(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}
