// Package game はゲーム進行（フェーズ遷移）のドメインロジックを提供する。
//
// すべての更新操作はゲームコード単位で直列化される。プロセス内ではKeyedMutexで、
// データベース上ではgames行のFOR UPDATEロックで排他し、フェーズの確認から
// 書き込み、完了時の一括処理（ラウンド生成、採点、フェーズ遷移）までを
// 1トランザクションで行う。AI回答の生成だけはロックの外で行う。
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/impostor/internal/generator"
	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/model"
	"github.com/hitoshi/impostor/internal/repository"
)

// codeAttempts はゲームコード衝突時の再採番回数の上限。
const codeAttempts = 10

// Config はゲーム進行の設定。
type Config struct {
	MinPlayers                int           // ゲーム開始に必要な最少人数
	MaxQuestionsPerPlayer     int           // 1人あたりの質問数の上限
	DefaultQuestionsPerPlayer int           // ゲーム作成時の1人あたりの質問数
	CodeLength                int           // ゲームコードの桁数
	MaxNameLength             int           // 表示名の最大文字数
	MaxTextLength             int           // 質問・回答の最大文字数
	GeneratorTimeout          time.Duration // AI回答生成1回あたりのタイムアウト
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		MinPlayers:                3,
		MaxQuestionsPerPlayer:     5,
		DefaultQuestionsPerPlayer: 2,
		CodeLength:                4,
		MaxNameLength:             64,
		MaxTextLength:             500,
		GeneratorTimeout:          20 * time.Second,
	}
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRand は出題順とゲームコードに使う乱数源を設定する。
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// WithClock は現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator はエンティティIDの採番関数を設定する。
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service はゲーム進行のサービス層。
type Service struct {
	repo    repository.GameRepository
	gen     generator.Generator
	cfg     Config
	locks   *KeyedMutex
	flights singleflight.Group

	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
	newID   func() string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.GameRepository, gen generator.Generator, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		gen:     gen,
		cfg:     cfg,
		locks:   NewKeyedMutex(),
		logger:  slog.Default(),
		metrics: metrics.Nop{},
		now:     time.Now,
		newID:   uuid.NewString,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// JoinResult はゲーム参加の結果。
type JoinResult struct {
	PlayerID string
	GameID   string
	Code     string
	Rejoined bool // 同名の参加者が既に存在し、その参加者として再接続した
}

// mutation は1回の更新操作で起きた変化を記録し、コミット後にログとメトリクスへ反映する。
type mutation struct {
	game            *model.Game
	transitions     []model.Phase
	roundsScheduled int
}

// advance はフェーズ遷移グラフに従ってゲームのフェーズを更新する。
func (m *mutation) advance(ctx context.Context, tx repository.GameTx, next model.Phase) error {
	if !m.game.Phase.CanTransitionTo(next) {
		return model.NewIntegrityViolationError(
			fmt.Sprintf("不正なフェーズ遷移です: %s -> %s", m.game.Phase, next))
	}
	m.game.Phase = next
	if err := tx.UpdateGame(ctx, m.game); err != nil {
		return err
	}
	m.transitions = append(m.transitions, next)
	return nil
}

// withGame はゲームをロックしてfnを1トランザクションで実行する。
func (s *Service) withGame(ctx context.Context, code string, fn func(tx repository.GameTx, m *mutation) error) (*mutation, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	var m *mutation
	err := s.repo.Transact(ctx, func(tx repository.GameTx) error {
		game, err := tx.LockGameByCode(ctx, code)
		if err != nil {
			return err
		}
		if game == nil {
			return model.NewGameNotFoundError(code)
		}
		m = &mutation{game: game}
		return fn(tx, m)
	})
	if err != nil {
		return nil, err
	}

	s.committed(m)
	return m, nil
}

// committed はコミット済みの変化をログとメトリクスに反映する。
func (s *Service) committed(m *mutation) {
	for _, phase := range m.transitions {
		s.metrics.RecordPhaseTransition(string(phase))
		s.logger.Info("phase transitioned",
			slog.String("game_code", m.game.Code),
			slog.String("phase", string(phase)),
			slog.Int("round_number", m.game.RoundNumber),
		)
	}
	if m.roundsScheduled > 0 {
		s.metrics.RecordRoundsScheduled(m.roundsScheduled)
	}
}

// observe は拒否された操作を記録する。整合性エラーはエラーログに残す。
func (s *Service) observe(code, op string, err error) {
	if err == nil {
		return
	}
	errCode := model.ErrorCode(err)
	if errCode == "" {
		s.logger.Error("game operation failed",
			slog.String("game_code", code),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordRejectedAction(errCode)
	if errCode == model.ErrCodeIntegrityViolation {
		s.logger.Error("integrity violation",
			slog.String("game_code", code),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// CreateGame はlobbyフェーズの新しいゲームを作成する。
func (s *Service) CreateGame(ctx context.Context) (*model.Game, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		game := &model.Game{
			ID:                 s.newID(),
			Code:               s.newCode(),
			Phase:              model.PhaseLobby,
			RoundNumber:        0,
			QuestionsPerPlayer: s.cfg.DefaultQuestionsPerPlayer,
			CreatedAt:          s.now(),
		}

		err := s.repo.Create(ctx, game)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ゲームの作成に失敗しました: %w", err)
		}

		s.metrics.RecordGameCreated()
		s.logger.Info("game created", slog.String("game_code", game.Code))
		return game, nil
	}
	return nil, fmt.Errorf("ゲームコードの採番に失敗しました（%d回衝突）", codeAttempts)
}

// newCode は先頭が0でない数字のみのゲームコードを生成する。
func (s *Service) newCode() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	var b strings.Builder
	for i := 0; i < s.cfg.CodeLength; i++ {
		d := s.rng.IntN(10)
		if i == 0 {
			d = 1 + s.rng.IntN(9)
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

// JoinGame はゲームに参加する。
// 同名の参加者が既にいる場合はフェーズを問わずその参加者として再接続する。
// 新規参加はlobbyフェーズのみ受け付ける。
func (s *Service) JoinGame(ctx context.Context, code, name string) (result *JoinResult, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "join", err) }()

	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > s.cfg.MaxNameLength {
		return nil, model.NewInvalidNameError(s.cfg.MaxNameLength)
	}

	// 別プロセスとの同名同時参加で一意制約に負けた場合は、勝った側の参加者として再接続する
	for attempt := 0; ; attempt++ {
		result, err = s.joinOnce(ctx, code, name)
		if errors.Is(err, repository.ErrDuplicate) && attempt == 0 {
			continue
		}
		return result, err
	}
}

func (s *Service) joinOnce(ctx context.Context, code, name string) (*JoinResult, error) {
	var result *JoinResult
	_, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		existing, err := tx.FindPlayerByName(ctx, m.game.ID, name)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &JoinResult{PlayerID: existing.ID, GameID: m.game.ID, Code: m.game.Code, Rejoined: true}
			return nil
		}

		if m.game.Phase != model.PhaseLobby {
			return model.NewInvalidPhaseError(m.game.Phase, "新しく参加")
		}

		player := &model.Player{
			ID:        s.newID(),
			GameID:    m.game.ID,
			Name:      name,
			CreatedAt: s.now(),
		}
		if err := tx.CreatePlayer(ctx, player); err != nil {
			return err
		}
		result = &JoinResult{PlayerID: player.ID, GameID: m.game.ID, Code: m.game.Code}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Rejoined {
		s.logger.Info("player joined",
			slog.String("game_code", code),
			slog.String("player_id", result.PlayerID),
		)
	}
	return result, nil
}

// StartGame は参加受付を締め切り、setup_questionsフェーズへ進める。
func (s *Service) StartGame(ctx context.Context, code string) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "start", err) }()

	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		if m.game.Phase != model.PhaseLobby {
			return model.NewInvalidPhaseError(m.game.Phase, "ゲームを開始")
		}
		n, err := tx.CountPlayers(ctx, m.game.ID)
		if err != nil {
			return err
		}
		if n < s.cfg.MinPlayers {
			return model.NewNotEnoughPlayersError(s.cfg.MinPlayers)
		}
		m.game.RoundNumber = 0
		return m.advance(ctx, tx, model.PhaseSetupQuestions)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}

// SetQuestionCount は1人あたりの質問数を決め、write_questionsフェーズへ進める。
func (s *Service) SetQuestionCount(ctx context.Context, code string, count int) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "set_question_count", err) }()

	if count < 1 || count > s.cfg.MaxQuestionsPerPlayer {
		return "", model.NewInvalidQuestionCountError(count, s.cfg.MaxQuestionsPerPlayer)
	}

	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		if m.game.Phase != model.PhaseSetupQuestions {
			return model.NewInvalidPhaseError(m.game.Phase, "質問数を設定")
		}
		m.game.QuestionsPerPlayer = count
		return m.advance(ctx, tx, model.PhaseWriteQuestions)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}

// DeleteGame はゲームと所有するすべてのデータを削除する。どのフェーズでも実行できる。
// ラウンドからAI回答への参照を先に外してから、参照される側の順に削除する。
func (s *Service) DeleteGame(ctx context.Context, code string) (err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "delete", err) }()

	_, err = s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		steps := []struct {
			name string
			fn   func(context.Context, string) error
		}{
			{"AI回答参照の解除", tx.ClearImpostorAnswers},
			{"投票の削除", tx.DeleteVotesByGame},
			{"回答の削除", tx.DeleteAnswersByGame},
			{"質問の削除", tx.DeleteQuestionsByGame},
			{"ラウンドの削除", tx.DeleteRoundsByGame},
			{"参加者の削除", tx.DeletePlayersByGame},
			{"ゲームの削除", tx.DeleteGame},
		}
		for _, step := range steps {
			if err := step.fn(ctx, m.game.ID); err != nil {
				return fmt.Errorf("%sに失敗しました: %w", step.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("game deleted", slog.String("game_code", code))
	return nil
}

// validateText は質問・回答の本文を検証し、前後の空白を除いて返す。
func (s *Service) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > s.cfg.MaxTextLength {
		return "", model.NewInvalidTextError(s.cfg.MaxTextLength)
	}
	return text, nil
}

// requirePlayer はゲームの参加者であることを確認する。
func requirePlayer(ctx context.Context, tx repository.GameTx, gameID, playerID string) (*model.Player, error) {
	player, err := tx.FindPlayerByID(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, model.NewPlayerNotFoundError(playerID)
	}
	return player, nil
}

// currentRound はround_numberに対応するラウンドを返す。存在しない場合は整合性エラー。
func currentRound(ctx context.Context, tx repository.GameTx, game *model.Game) (*model.Round, error) {
	round, err := tx.FindRoundByIndex(ctx, game.ID, game.RoundNumber)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, model.NewIntegrityViolationError(
			fmt.Sprintf("フェーズ %s で現在のラウンド %d が存在しません", game.Phase, game.RoundNumber))
	}
	return round, nil
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
