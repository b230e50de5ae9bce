package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/impostor/internal/generator"
	"github.com/hitoshi/impostor/internal/metrics"
	"github.com/hitoshi/impostor/internal/model"
	"github.com/hitoshi/impostor/internal/repository"
	"github.com/hitoshi/impostor/internal/schedule"
	"github.com/hitoshi/impostor/internal/scoring"
)

// SubmitQuestion は参加者の質問を受け付ける。
// 全員が規定数を書き終えた時点で出題順を決めてラウンドを生成し、answeringフェーズへ進める。
func (s *Service) SubmitQuestion(ctx context.Context, code, playerID, text string) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "submit_question", err) }()

	text, err = s.validateText(text)
	if err != nil {
		return "", err
	}

	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		g := m.game
		if g.Phase != model.PhaseWriteQuestions {
			return model.NewInvalidPhaseError(g.Phase, "質問を投稿")
		}
		if _, err := requirePlayer(ctx, tx, g.ID, playerID); err != nil {
			return err
		}

		written, err := tx.CountQuestionsByPlayer(ctx, g.ID, playerID)
		if err != nil {
			return err
		}
		if written >= g.QuestionsPerPlayer {
			return model.NewQuotaExceededError(g.QuestionsPerPlayer)
		}

		if err := tx.CreateQuestion(ctx, &model.Question{
			ID:       s.newID(),
			GameID:   g.ID,
			PlayerID: playerID,
			Text:     text,
		}); err != nil {
			return err
		}

		total, err := tx.CountQuestions(ctx, g.ID)
		if err != nil {
			return err
		}
		players, err := tx.CountPlayers(ctx, g.ID)
		if err != nil {
			return err
		}
		if total < players*g.QuestionsPerPlayer {
			return nil
		}
		return s.scheduleRounds(ctx, tx, m)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}

// scheduleRounds は提出済みの全質問からラウンドを生成し、最初のラウンドを開始する。
func (s *Service) scheduleRounds(ctx context.Context, tx repository.GameTx, m *mutation) error {
	questions, err := tx.ListQuestions(ctx, m.game.ID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return model.NewIntegrityViolationError("質問が1件もない状態でラウンドを生成しようとしました")
	}

	s.rngMu.Lock()
	ordered := schedule.Order(questions, s.rng)
	s.rngMu.Unlock()

	rounds := schedule.BuildRounds(m.game.ID, ordered, s.newID)
	for i, round := range rounds {
		if err := tx.CreateRound(ctx, round); err != nil {
			return err
		}
		if err := tx.LinkQuestionToRound(ctx, ordered[i].ID, round.ID); err != nil {
			return err
		}
	}

	m.roundsScheduled = len(rounds)
	m.game.RoundNumber = 1
	return m.advance(ctx, tx, model.PhaseAnswering)
}

// SubmitAnswer は現在のラウンドへの回答を受け付ける。
// 全員の回答が揃うとAI回答を生成してvotingフェーズへ進める。生成はロックの外で行い、
// 結果は再度ロックを取ってから、まだ誰も確定させていない場合にのみ書き込む。
//
// 既に回答済みの参加者による再送はDUPLICATE_ACTIONを返すが、全員の回答が揃ったまま
// AI回答が確定していないラウンドであれば、返す前に確定処理をやり直す。
func (s *Service) SubmitAnswer(ctx context.Context, code, playerID, text string) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "submit_answer", err) }()

	text, err = s.validateText(text)
	if err != nil {
		return "", err
	}

	var (
		round    *model.Round
		complete bool
	)
	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		g := m.game
		if g.Phase != model.PhaseAnswering {
			return model.NewInvalidPhaseError(g.Phase, "回答")
		}
		if _, err := requirePlayer(ctx, tx, g.ID, playerID); err != nil {
			return err
		}
		r, err := currentRound(ctx, tx, g)
		if err != nil {
			return err
		}
		round = r

		existing, err := tx.FindAnswerByPlayer(ctx, r.ID, playerID)
		if err != nil {
			return err
		}
		if existing == nil {
			err := tx.CreateAnswer(ctx, &model.Answer{
				ID:       s.newID(),
				RoundID:  r.ID,
				PlayerID: &playerID,
				Text:     text,
			})
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewDuplicateActionError("回答")
			}
			if err != nil {
				return err
			}
		}

		complete, err = humanAnswersComplete(ctx, tx, g.ID, r)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.NewDuplicateActionError("回答")
		}
		return nil
	})

	if model.ErrorCode(err) == model.ErrCodeDuplicateAction && complete && round.ImpostorAnswerID == nil {
		if _, ferr := s.finalizeAnswers(ctx, code, round); ferr != nil {
			return "", ferr
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	if !complete {
		return m.game.Phase, nil
	}
	return s.finalizeAnswers(ctx, code, round)
}

// humanAnswersComplete は全参加者の回答が揃っているかを返す。
func humanAnswersComplete(ctx context.Context, tx repository.GameTx, gameID string, round *model.Round) (bool, error) {
	answered, err := tx.CountHumanAnswers(ctx, round.ID)
	if err != nil {
		return false, err
	}
	players, err := tx.CountPlayers(ctx, gameID)
	if err != nil {
		return false, err
	}
	return answered >= players, nil
}

// finalizeAnswers はラウンドのAI回答を生成して確定し、votingフェーズへ進める。
// 同じラウンドへの同時呼び出しは1回にまとめる。
// 呼び出し元のリクエストが切断されても確定処理は最後まで行う。
func (s *Service) finalizeAnswers(ctx context.Context, code string, round *model.Round) (model.Phase, error) {
	ctx = context.WithoutCancel(ctx)

	v, err, _ := s.flights.Do(round.ID, func() (any, error) {
		pending, err := s.loadPendingRound(ctx, code, round)
		if err != nil {
			return model.Phase(""), err
		}
		if pending.finalized {
			return pending.phase, nil
		}
		text := s.generate(ctx, code, round.QuestionText, pending.answers)
		return s.commitImpostorAnswer(ctx, code, round.ID, text)
	})
	if err != nil {
		return "", err
	}
	return v.(model.Phase), nil
}

// pendingRound はAI回答の確定待ちラウンドの状態。
type pendingRound struct {
	finalized bool        // 既にAI回答が確定している
	phase     model.Phase // finalizedの場合の現在のフェーズ
	answers   []string    // 人間の回答本文（提出順）
}

// loadPendingRound はラウンドが確定済みかどうかと、人間の回答本文を読み込む。
// ロックは取らない。確定の可否はcommitImpostorAnswerで改めて検証する。
func (s *Service) loadPendingRound(ctx context.Context, code string, round *model.Round) (*pendingRound, error) {
	pending := &pendingRound{}
	err := s.repo.Transact(ctx, func(tx repository.GameTx) error {
		game, err := tx.FindGameByCode(ctx, code)
		if err != nil {
			return err
		}
		if game == nil {
			return model.NewGameNotFoundError(code)
		}
		current, err := tx.FindRoundByIndex(ctx, round.GameID, round.Index)
		if err != nil {
			return err
		}
		if current == nil || current.ImpostorAnswerID != nil || game.Phase != model.PhaseAnswering {
			pending.finalized = true
			pending.phase = game.Phase
			return nil
		}

		answers, err := tx.ListAnswers(ctx, round.ID)
		if err != nil {
			return err
		}
		for _, a := range answers {
			if !a.IsImpostor() {
				pending.answers = append(pending.answers, a.Text)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// generate はAI回答を生成する。失敗した場合はFallbackAnswerを返し、エラーは呼び出し元に伝えない。
func (s *Service) generate(ctx context.Context, code, question string, answers []string) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GeneratorTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.gen.Generate(ctx, question, answers)
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("生成された回答が空です")
	}

	if err != nil {
		s.metrics.RecordGeneratorCall(metrics.GeneratorResultFallback, elapsed)
		s.logger.Warn("AI回答の生成に失敗したため固定文を使用します",
			slog.String("game_code", code),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return generator.FallbackAnswer
	}

	s.metrics.RecordGeneratorCall(metrics.GeneratorResultSuccess, elapsed)
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > s.cfg.MaxTextLength {
		text = string(runes[:s.cfg.MaxTextLength])
	}
	return text
}

// commitImpostorAnswer はAI回答を書き込みvotingフェーズへ進める。
// ロック取得までの間に他のリクエストが確定させていた場合は何もしない。
func (s *Service) commitImpostorAnswer(ctx context.Context, code, roundID, text string) (model.Phase, error) {
	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		g := m.game
		if g.Phase != model.PhaseAnswering {
			return nil
		}
		round, err := currentRound(ctx, tx, g)
		if err != nil {
			return err
		}
		if round.ID != roundID || round.ImpostorAnswerID != nil {
			return nil
		}
		complete, err := humanAnswersComplete(ctx, tx, g.ID, round)
		if err != nil {
			return err
		}
		if !complete {
			return model.NewIntegrityViolationError(
				fmt.Sprintf("ラウンド %d の回答が揃っていない状態でAI回答を確定しようとしました", round.Index))
		}

		answer := &model.Answer{ID: s.newID(), RoundID: round.ID, Text: text}
		err = tx.CreateAnswer(ctx, answer)
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewIntegrityViolationError(
				fmt.Sprintf("ラウンド %d に未参照のAI回答が存在します", round.Index))
		}
		if err != nil {
			return err
		}
		if err := tx.SetImpostorAnswer(ctx, round.ID, answer.ID); err != nil {
			return err
		}
		return m.advance(ctx, tx, model.PhaseVoting)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}

// SubmitVote はAI回答だと思う回答への投票を受け付ける。自分の回答への投票も認める。
// 全員の投票が揃うと採点してrevealフェーズへ進める。採点は最後の投票と同じトランザクションで行う。
func (s *Service) SubmitVote(ctx context.Context, code, playerID, answerID string) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "submit_vote", err) }()

	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		g := m.game
		if g.Phase != model.PhaseVoting {
			return model.NewInvalidPhaseError(g.Phase, "投票")
		}
		if _, err := requirePlayer(ctx, tx, g.ID, playerID); err != nil {
			return err
		}
		round, err := currentRound(ctx, tx, g)
		if err != nil {
			return err
		}
		if round.ImpostorAnswerID == nil {
			return model.NewIntegrityViolationError(
				fmt.Sprintf("投票中のラウンド %d にAI回答がありません", round.Index))
		}

		answer, err := tx.FindAnswerByID(ctx, round.ID, answerID)
		if err != nil {
			return err
		}
		if answer == nil {
			return model.NewAnswerNotFoundError(answerID)
		}

		existing, err := tx.FindVoteByPlayer(ctx, round.ID, playerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.NewDuplicateActionError("投票")
		}
		err = tx.CreateVote(ctx, &model.Vote{
			ID:            s.newID(),
			RoundID:       round.ID,
			VoterPlayerID: playerID,
			AnswerID:      answer.ID,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewDuplicateActionError("投票")
		}
		if err != nil {
			return err
		}

		votes, err := tx.CountVotes(ctx, round.ID)
		if err != nil {
			return err
		}
		players, err := tx.CountPlayers(ctx, g.ID)
		if err != nil {
			return err
		}
		if votes < players {
			return nil
		}
		return s.scoreRound(ctx, tx, m, round)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}

// scoreRound はラウンドの全投票を採点して参加者のスコアを更新し、revealフェーズへ進める。
func (s *Service) scoreRound(ctx context.Context, tx repository.GameTx, m *mutation, round *model.Round) error {
	votes, err := tx.ListVotes(ctx, round.ID)
	if err != nil {
		return err
	}
	answers, err := tx.ListAnswers(ctx, round.ID)
	if err != nil {
		return err
	}
	players, err := tx.ListPlayers(ctx, m.game.ID)
	if err != nil {
		return err
	}

	authors := make(map[string]*string, len(answers))
	for _, a := range answers {
		authors[a.ID] = a.PlayerID
	}
	standings := make(map[string]scoring.Standing, len(players))
	for _, p := range players {
		standings[p.ID] = scoring.Standing{Score: p.Score, Streak: p.Streak}
	}

	result, err := scoring.Tally(votes, *round.ImpostorAnswerID, authors, standings)
	if err != nil {
		return model.NewIntegrityViolationError(err.Error())
	}

	for _, p := range players {
		st := result.Standings[p.ID]
		p.Score = st.Score
		p.Streak = st.Streak
	}
	if err := tx.UpdatePlayerStandings(ctx, players); err != nil {
		return err
	}

	s.logger.Info("round scored",
		slog.String("game_code", m.game.Code),
		slog.Int("round_number", round.Index),
		slog.Int("votes", len(votes)),
		slog.Int("correct", result.CorrectCount()),
	)
	return m.advance(ctx, tx, model.PhaseReveal)
}

// NextRound はrevealフェーズから次のラウンドへ進める。残りのラウンドがなければfinishedにする。
// revealフェーズでのみ受け付けるため、同時に2回呼ばれてもラウンドを飛ばさない。
func (s *Service) NextRound(ctx context.Context, code string) (phase model.Phase, err error) {
	code = normalizeCode(code)
	defer func() { s.observe(code, "next_round", err) }()

	m, err := s.withGame(ctx, code, func(tx repository.GameTx, m *mutation) error {
		g := m.game
		if g.Phase != model.PhaseReveal {
			return model.NewInvalidPhaseError(g.Phase, "次のラウンドに移動")
		}

		next, err := tx.FindRoundByIndex(ctx, g.ID, g.RoundNumber+1)
		if err != nil {
			return err
		}
		if next == nil {
			return m.advance(ctx, tx, model.PhaseFinished)
		}
		g.RoundNumber = next.Index
		return m.advance(ctx, tx, model.PhaseAnswering)
	})
	if err != nil {
		return "", err
	}
	return m.game.Phase, nil
}
