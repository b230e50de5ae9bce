// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: game, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeGameNotFound         = "GAME_NOT_FOUND"
	ErrCodePlayerNotFound       = "PLAYER_NOT_FOUND"
	ErrCodeAnswerNotFound       = "ANSWER_NOT_FOUND"
	ErrCodeInvalidPhase         = "INVALID_PHASE"
	ErrCodeQuotaExceeded        = "QUOTA_EXCEEDED"
	ErrCodeDuplicateAction      = "DUPLICATE_ACTION"
	ErrCodeNotEnoughPlayers     = "NOT_ENOUGH_PLAYERS"
	ErrCodeInvalidQuestionCount = "INVALID_QUESTION_COUNT"
	ErrCodeInvalidName          = "INVALID_NAME"
	ErrCodeInvalidText          = "INVALID_TEXT"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeIntegrityViolation   = "INTEGRITY_VIOLATION"
)

// ErrorCode はエラーチェーン中のAPIErrorのコードを返す。
// APIErrorを含まない場合は空文字を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewGameNotFoundError はゲーム未検出エラーを生成する。
func NewGameNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("指定されたゲームが見つかりません: %s", code),
		Category: "game",
		Action:   "ゲームコードを確認してください。",
	}
}

// NewPlayerNotFoundError はプレイヤー未検出エラーを生成する。
func NewPlayerNotFoundError(playerID string) *APIError {
	return &APIError{
		Code:     ErrCodePlayerNotFound,
		Message:  fmt.Sprintf("このゲームに参加していないプレイヤーです: %s", playerID),
		Category: "game",
		Action:   "ゲームに参加し直してください。",
	}
}

// NewAnswerNotFoundError は投票先の回答が現在のラウンドに存在しない場合のエラーを生成する。
func NewAnswerNotFoundError(answerID string) *APIError {
	return &APIError{
		Code:     ErrCodeAnswerNotFound,
		Message:  fmt.Sprintf("指定された回答は現在のラウンドにありません: %s", answerID),
		Category: "game",
		Action:   "画面を更新して、表示されている回答から選んでください。",
	}
}

// NewInvalidPhaseError は現在のフェーズでは受け付けない操作のエラーを生成する。
func NewInvalidPhaseError(current Phase, action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhase,
		Message:  fmt.Sprintf("現在のフェーズ（%s）では%sできません。", current, action),
		Category: "game",
		Action:   "画面を更新して最新の状態を取得してください。",
	}
}

// NewQuotaExceededError は上限を超えた投稿のエラーを生成する。
func NewQuotaExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("質問は1人%d件までです。", limit),
		Category: "game",
		Action:   "他のプレイヤーが書き終わるまでお待ちください。",
	}
}

// NewDuplicateActionError は1ラウンド1回の操作を繰り返した場合のエラーを生成する。
// クライアントは「既に完了済み」として扱って良い。
func NewDuplicateActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAction,
		Message:  fmt.Sprintf("このラウンドでは既に%sしています。", action),
		Category: "game",
		Action:   "他のプレイヤーをお待ちください。",
	}
}

// NewNotEnoughPlayersError は開始に必要な人数に満たない場合のエラーを生成する。
func NewNotEnoughPlayersError(min int) *APIError {
	return &APIError{
		Code:     ErrCodeNotEnoughPlayers,
		Message:  fmt.Sprintf("ゲームの開始には%d人以上の参加者が必要です。", min),
		Category: "game",
		Action:   "参加者が揃うまでお待ちください。",
	}
}

// NewInvalidQuestionCountError は1人あたりの質問数が範囲外の場合のエラーを生成する。
func NewInvalidQuestionCountError(count, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuestionCount,
		Message:  fmt.Sprintf("無効な質問数です: %d", count),
		Category: "validation",
		Action:   fmt.Sprintf("質問数は1から%dの範囲で指定してください。", max),
	}
}

// NewInvalidNameError は表示名が不正な場合のエラーを生成する。
func NewInvalidNameError(maxLen int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "表示名が不正です。",
		Category: "validation",
		Action:   fmt.Sprintf("1文字以上%d文字以内の名前を入力してください。", maxLen),
	}
}

// NewInvalidTextError は質問・回答の本文が不正な場合のエラーを生成する。
func NewInvalidTextError(maxLen int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidText,
		Message:  "本文が空、または長すぎます。",
		Category: "validation",
		Action:   fmt.Sprintf("1文字以上%d文字以内で入力してください。", maxLen),
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewIntegrityViolationError はデータの不変条件が崩れていることを示すエラーを生成する。
// モデルまたは並行制御の不具合を示すため、握りつぶしてはならない。
func NewIntegrityViolationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrityViolation,
		Message:  fmt.Sprintf("ゲームデータの整合性エラー: %s", detail),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。解決しない場合はゲームを作り直してください。",
	}
}
