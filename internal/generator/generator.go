// Package generator はAI（インポスター）回答の生成機能を提供する。
// 人間の回答に紛れ込む回答を外部のLLMに生成させる。
package generator

import (
	"context"
	"errors"
)

// FallbackAnswer は生成に失敗した場合にインポスター回答として使う固定文。
const FallbackAnswer = "I honestly have no idea."

// ErrDisabled は生成器が設定されていないことを表す。
var ErrDisabled = errors.New("generator is disabled")

// Generator はインポスター回答の生成インターフェース。
// 失敗してもラウンドは進行させるため、呼び出し側はFallbackAnswerで補うこと。
type Generator interface {
	Generate(ctx context.Context, question string, answers []string) (string, error)
}

// DisabledGenerator はAPIキー未設定時に使う常に失敗する生成器。
type DisabledGenerator struct{}

// Generate は常にErrDisabledを返す。
func (DisabledGenerator) Generate(context.Context, string, []string) (string, error) {
	return "", ErrDisabled
}

// GeneratorFunc は関数をGeneratorとして扱うためのアダプタ。
type GeneratorFunc func(ctx context.Context, question string, answers []string) (string, error)

// Generate はf(ctx, question, answers)を呼ぶ。
func (f GeneratorFunc) Generate(ctx context.Context, question string, answers []string) (string, error) {
	return f(ctx, question, answers)
}

var (
	_ Generator = DisabledGenerator{}
	_ Generator = GeneratorFunc(nil)
	_ Generator = (*OpenAIGenerator)(nil)
)
