package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel はコストと応答速度のバランスで選んだデフォルトモデル。
	DefaultModel = "gpt-4o-mini"

	maxTokens   = 150
	temperature = 0.9

	systemPrompt = "You are a player in a casual party game trying to blend in."
)

// OpenAIConfig はOpenAIGeneratorの設定。
type OpenAIConfig struct {
	APIKey     string
	Model      string       // 空の場合はDefaultModel
	BaseURL    string       // 空の場合はOpenAIの公式エンドポイント
	HTTPClient *http.Client // nilの場合はSDKのデフォルト
}

// OpenAIGenerator はOpenAI Chat Completions APIでインポスター回答を生成する。
type OpenAIGenerator struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator はOpenAIGeneratorを生成する。
// リトライは行わない。タイムアウトは呼び出し側のcontextで制御する。
func NewOpenAIGenerator(cfg OpenAIConfig, logger *slog.Logger) *OpenAIGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

// Generate は質問と人間の回答一覧から、それらに紛れる回答を1件生成する。
// 応答は前後の空白と引用符を除き、小文字に揃える。空の応答はエラーとする。
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, answers []string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(question, answers)),
		},
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		g.logger.Warn("OpenAI APIの呼び出しに失敗しました",
			slog.String("model", g.model),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("OpenAI APIの呼び出しに失敗しました: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI APIの応答にchoicesが含まれていません")
	}

	answer := normalizeAnswer(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("OpenAI APIの応答が空です")
	}
	return answer, nil
}

// buildPrompt は生成用のユーザープロンプトを組み立てる。
func buildPrompt(question string, answers []string) string {
	var b strings.Builder
	b.WriteString("You are playing a party game where you need to blend in with other players.\n\n")
	fmt.Fprintf(&b, "Question: \"%s\"\n\n", question)
	b.WriteString("Here are the answers from the human players:\n")
	for _, a := range answers {
		b.WriteString(a)
		b.WriteString("\n")
	}
	b.WriteString(`
Your goal is to write ONE new answer to the question that blends in perfectly.

CRITICAL: To blend in, you may pick one of the answers from the list above and mimic its style, length, and punctuation patterns, but with different content.
Try not to copy an answer exactly, but blend in with the group.
Instructions:
- Do NOT directly copy the content of any answer. Write something new.
- Mimic the "voice" of one of the humans exactly (e.g. if they use short words, you use short words).
- Be humorous, casual, and human-like.
- Do not use hashtags or emojis unless the human answers did.
- Output ONLY the raw answer text. No quotes, no explanations.
- Your answer MUST be in all lowercase letters.
- Do not wrap your answer in quotes.
`)
	return b.String()
}

// normalizeAnswer はモデルの出力を回答として使える形に整える。
func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”")
	return strings.ToLower(strings.TrimSpace(s))
}
