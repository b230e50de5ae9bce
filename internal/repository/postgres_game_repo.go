package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/impostor/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresGameRepo はPostgreSQLを使用したゲームリポジトリ。
type PostgresGameRepo struct {
	db *sql.DB
}

// NewPostgresGameRepo はPostgresGameRepoを生成する。
func NewPostgresGameRepo(db *sql.DB) *PostgresGameRepo {
	return &PostgresGameRepo{db: db}
}

// Create はゲームを作成する。コードが重複した場合はErrDuplicateを返す。
func (r *PostgresGameRepo) Create(ctx context.Context, game *model.Game) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO games (id, code, phase, round_number, questions_per_player, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		game.ID, game.Code, string(game.Phase), game.RoundNumber, game.QuestionsPerPlayer, game.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("ゲームの作成に失敗しました", err)
	}
	return nil
}

// Transact はトランザクションを開始してfnを実行する。
func (r *PostgresGameRepo) Transact(ctx context.Context, fn func(tx GameTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresGameTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListStaleGameCodes はolderThanより前に作成されたゲームのコードを古い順に返す。
func (r *PostgresGameRepo) ListStaleGameCodes(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code FROM games WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("古いゲームの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("ゲームコードの読み取りに失敗しました: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ゲーム一覧の走査に失敗しました: %w", err)
	}
	return codes, nil
}

// postgresGameTx は*sql.Tx上でGameTxを実装する。
type postgresGameTx struct {
	tx *sql.Tx
}

const selectGame = `SELECT id, code, phase, round_number, questions_per_player, created_at FROM games WHERE code = $1`

func (t *postgresGameTx) FindGameByCode(ctx context.Context, code string) (*model.Game, error) {
	return t.scanGame(t.tx.QueryRowContext(ctx, selectGame, code))
}

func (t *postgresGameTx) LockGameByCode(ctx context.Context, code string) (*model.Game, error) {
	return t.scanGame(t.tx.QueryRowContext(ctx, selectGame+` FOR UPDATE`, code))
}

func (t *postgresGameTx) scanGame(row *sql.Row) (*model.Game, error) {
	g := &model.Game{}
	var phase string
	err := row.Scan(&g.ID, &g.Code, &phase, &g.RoundNumber, &g.QuestionsPerPlayer, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ゲームの取得に失敗しました: %w", err)
	}
	g.Phase = model.Phase(phase)
	return g, nil
}

func (t *postgresGameTx) UpdateGame(ctx context.Context, game *model.Game) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE games SET phase = $2, round_number = $3, questions_per_player = $4 WHERE id = $1`,
		game.ID, string(game.Phase), game.RoundNumber, game.QuestionsPerPlayer,
	)
	if err != nil {
		return fmt.Errorf("ゲーム状態の更新に失敗しました: %w", err)
	}
	return requireAffected(result, "ゲーム", game.ID)
}

func (t *postgresGameTx) ListPlayers(ctx context.Context, gameID string) ([]*model.Player, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, game_id, name, score, streak, created_at
		 FROM players WHERE game_id = $1 ORDER BY created_at ASC, id ASC`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p := &model.Player{}
		if err := rows.Scan(&p.ID, &p.GameID, &p.Name, &p.Score, &p.Streak, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("参加者行の読み取りに失敗しました: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者一覧の走査に失敗しました: %w", err)
	}
	return players, nil
}

func (t *postgresGameTx) CountPlayers(ctx context.Context, gameID string) (int, error) {
	return t.count(ctx, "参加者数", `SELECT COUNT(*) FROM players WHERE game_id = $1`, gameID)
}

func (t *postgresGameTx) FindPlayerByID(ctx context.Context, gameID, playerID string) (*model.Player, error) {
	return t.findPlayer(ctx,
		`SELECT id, game_id, name, score, streak, created_at FROM players WHERE game_id = $1 AND id = $2`,
		gameID, playerID,
	)
}

func (t *postgresGameTx) FindPlayerByName(ctx context.Context, gameID, name string) (*model.Player, error) {
	return t.findPlayer(ctx,
		`SELECT id, game_id, name, score, streak, created_at FROM players WHERE game_id = $1 AND name = $2`,
		gameID, name,
	)
}

func (t *postgresGameTx) findPlayer(ctx context.Context, query string, args ...any) (*model.Player, error) {
	p := &model.Player{}
	err := t.tx.QueryRowContext(ctx, query, args...).
		Scan(&p.ID, &p.GameID, &p.Name, &p.Score, &p.Streak, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	return p, nil
}

func (t *postgresGameTx) CreatePlayer(ctx context.Context, player *model.Player) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO players (id, game_id, name, score, streak, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		player.ID, player.GameID, player.Name, player.Score, player.Streak, player.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("参加者の作成に失敗しました", err)
	}
	return nil
}

func (t *postgresGameTx) UpdatePlayerStandings(ctx context.Context, players []*model.Player) error {
	stmt, err := t.tx.PrepareContext(ctx, `UPDATE players SET score = $2, streak = $3 WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("スコア更新の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, p := range players {
		result, err := stmt.ExecContext(ctx, p.ID, p.Score, p.Streak)
		if err != nil {
			return fmt.Errorf("スコアの更新に失敗しました: %w", err)
		}
		if err := requireAffected(result, "参加者", p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresGameTx) CountQuestions(ctx context.Context, gameID string) (int, error) {
	return t.count(ctx, "質問数", `SELECT COUNT(*) FROM questions WHERE game_id = $1`, gameID)
}

func (t *postgresGameTx) CountQuestionsByPlayer(ctx context.Context, gameID, playerID string) (int, error) {
	return t.count(ctx, "参加者の質問数",
		`SELECT COUNT(*) FROM questions WHERE game_id = $1 AND player_id = $2`, gameID, playerID)
}

func (t *postgresGameTx) ListQuestions(ctx context.Context, gameID string) ([]*model.Question, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, game_id, player_id, text, used_in_round_id
		 FROM questions WHERE game_id = $1 ORDER BY created_at ASC, id ASC`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("質問一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var questions []*model.Question
	for rows.Next() {
		q := &model.Question{}
		var roundID sql.NullString
		if err := rows.Scan(&q.ID, &q.GameID, &q.PlayerID, &q.Text, &roundID); err != nil {
			return nil, fmt.Errorf("質問行の読み取りに失敗しました: %w", err)
		}
		q.RoundID = nullableString(roundID)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("質問一覧の走査に失敗しました: %w", err)
	}
	return questions, nil
}

func (t *postgresGameTx) CreateQuestion(ctx context.Context, q *model.Question) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO questions (id, game_id, player_id, text, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		q.ID, q.GameID, q.PlayerID, q.Text,
	)
	if err != nil {
		return wrapWriteError("質問の作成に失敗しました", err)
	}
	return nil
}

func (t *postgresGameTx) LinkQuestionToRound(ctx context.Context, questionID, roundID string) error {
	// 紐付けは一度だけ
	result, err := t.tx.ExecContext(ctx,
		`UPDATE questions SET used_in_round_id = $2 WHERE id = $1 AND used_in_round_id IS NULL`,
		questionID, roundID,
	)
	if err != nil {
		return fmt.Errorf("質問とラウンドの紐付けに失敗しました: %w", err)
	}
	return requireAffected(result, "未使用の質問", questionID)
}

func (t *postgresGameTx) CreateRound(ctx context.Context, round *model.Round) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO rounds (id, game_id, round_index, question_text) VALUES ($1, $2, $3, $4)`,
		round.ID, round.GameID, round.Index, round.QuestionText,
	)
	if err != nil {
		return wrapWriteError("ラウンドの作成に失敗しました", err)
	}
	return nil
}

func (t *postgresGameTx) FindRoundByIndex(ctx context.Context, gameID string, index int) (*model.Round, error) {
	r := &model.Round{}
	var aiAnswerID sql.NullString
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, game_id, round_index, question_text, ai_answer_id
		 FROM rounds WHERE game_id = $1 AND round_index = $2`,
		gameID, index,
	).Scan(&r.ID, &r.GameID, &r.Index, &r.QuestionText, &aiAnswerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラウンドの取得に失敗しました: %w", err)
	}
	r.ImpostorAnswerID = nullableString(aiAnswerID)
	return r, nil
}

func (t *postgresGameTx) SetImpostorAnswer(ctx context.Context, roundID, answerID string) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE rounds SET ai_answer_id = $2 WHERE id = $1 AND ai_answer_id IS NULL`,
		roundID, answerID,
	)
	if err != nil {
		return fmt.Errorf("AI回答の設定に失敗しました: %w", err)
	}
	return requireAffected(result, "AI回答未設定のラウンド", roundID)
}

func (t *postgresGameTx) ClearImpostorAnswers(ctx context.Context, gameID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE rounds SET ai_answer_id = NULL WHERE game_id = $1`,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("AI回答参照の解除に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresGameTx) CreateAnswer(ctx context.Context, a *model.Answer) error {
	var playerID sql.NullString
	if a.PlayerID != nil {
		playerID = sql.NullString{String: *a.PlayerID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO answers (id, round_id, player_id, text, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		a.ID, a.RoundID, playerID, a.Text,
	)
	if err != nil {
		return wrapWriteError("回答の作成に失敗しました", err)
	}
	return nil
}

const selectAnswer = `SELECT id, round_id, player_id, text FROM answers`

func (t *postgresGameTx) FindAnswerByID(ctx context.Context, roundID, answerID string) (*model.Answer, error) {
	return t.findAnswer(ctx, selectAnswer+` WHERE round_id = $1 AND id = $2`, roundID, answerID)
}

func (t *postgresGameTx) FindAnswerByPlayer(ctx context.Context, roundID, playerID string) (*model.Answer, error) {
	return t.findAnswer(ctx, selectAnswer+` WHERE round_id = $1 AND player_id = $2`, roundID, playerID)
}

func (t *postgresGameTx) findAnswer(ctx context.Context, query string, args ...any) (*model.Answer, error) {
	a := &model.Answer{}
	var playerID sql.NullString
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.RoundID, &playerID, &a.Text)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("回答の取得に失敗しました: %w", err)
	}
	a.PlayerID = nullableString(playerID)
	return a, nil
}

func (t *postgresGameTx) ListAnswers(ctx context.Context, roundID string) ([]*model.Answer, error) {
	rows, err := t.tx.QueryContext(ctx,
		selectAnswer+` WHERE round_id = $1 ORDER BY created_at ASC, id ASC`,
		roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("回答一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var answers []*model.Answer
	for rows.Next() {
		a := &model.Answer{}
		var playerID sql.NullString
		if err := rows.Scan(&a.ID, &a.RoundID, &playerID, &a.Text); err != nil {
			return nil, fmt.Errorf("回答行の読み取りに失敗しました: %w", err)
		}
		a.PlayerID = nullableString(playerID)
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("回答一覧の走査に失敗しました: %w", err)
	}
	return answers, nil
}

func (t *postgresGameTx) CountHumanAnswers(ctx context.Context, roundID string) (int, error) {
	return t.count(ctx, "回答数",
		`SELECT COUNT(*) FROM answers WHERE round_id = $1 AND player_id IS NOT NULL`, roundID)
}

func (t *postgresGameTx) CreateVote(ctx context.Context, v *model.Vote) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO votes (id, round_id, voter_player_id, answer_id_voted_for, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		v.ID, v.RoundID, v.VoterPlayerID, v.AnswerID,
	)
	if err != nil {
		return wrapWriteError("投票の作成に失敗しました", err)
	}
	return nil
}

const selectVote = `SELECT id, round_id, voter_player_id, answer_id_voted_for FROM votes`

func (t *postgresGameTx) FindVoteByPlayer(ctx context.Context, roundID, playerID string) (*model.Vote, error) {
	v := &model.Vote{}
	err := t.tx.QueryRowContext(ctx, selectVote+` WHERE round_id = $1 AND voter_player_id = $2`, roundID, playerID).
		Scan(&v.ID, &v.RoundID, &v.VoterPlayerID, &v.AnswerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	return v, nil
}

func (t *postgresGameTx) ListVotes(ctx context.Context, roundID string) ([]*model.Vote, error) {
	rows, err := t.tx.QueryContext(ctx, selectVote+` WHERE round_id = $1 ORDER BY created_at ASC, id ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		v := &model.Vote{}
		if err := rows.Scan(&v.ID, &v.RoundID, &v.VoterPlayerID, &v.AnswerID); err != nil {
			return nil, fmt.Errorf("投票行の読み取りに失敗しました: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投票一覧の走査に失敗しました: %w", err)
	}
	return votes, nil
}

func (t *postgresGameTx) CountVotes(ctx context.Context, roundID string) (int, error) {
	return t.count(ctx, "投票数", `SELECT COUNT(*) FROM votes WHERE round_id = $1`, roundID)
}

func (t *postgresGameTx) DeleteVotesByGame(ctx context.Context, gameID string) error {
	return t.exec(ctx, "投票の削除",
		`DELETE FROM votes WHERE round_id IN (SELECT id FROM rounds WHERE game_id = $1)`, gameID)
}

func (t *postgresGameTx) DeleteAnswersByGame(ctx context.Context, gameID string) error {
	return t.exec(ctx, "回答の削除",
		`DELETE FROM answers WHERE round_id IN (SELECT id FROM rounds WHERE game_id = $1)`, gameID)
}

func (t *postgresGameTx) DeleteQuestionsByGame(ctx context.Context, gameID string) error {
	return t.exec(ctx, "質問の削除", `DELETE FROM questions WHERE game_id = $1`, gameID)
}

func (t *postgresGameTx) DeleteRoundsByGame(ctx context.Context, gameID string) error {
	return t.exec(ctx, "ラウンドの削除", `DELETE FROM rounds WHERE game_id = $1`, gameID)
}

func (t *postgresGameTx) DeletePlayersByGame(ctx context.Context, gameID string) error {
	return t.exec(ctx, "参加者の削除", `DELETE FROM players WHERE game_id = $1`, gameID)
}

func (t *postgresGameTx) DeleteGame(ctx context.Context, gameID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("ゲームの削除に失敗しました: %w", err)
	}
	return requireAffected(result, "ゲーム", gameID)
}

func (t *postgresGameTx) count(ctx context.Context, what, query string, args ...any) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%sの取得に失敗しました: %w", what, err)
	}
	return n, nil
}

func (t *postgresGameTx) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%sに失敗しました: %w", what, err)
	}
	return nil
}

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// wrapWriteError は書き込みエラーをラップする。一意制約違反はErrDuplicateに変換する。
func wrapWriteError(msg string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", msg, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// requireAffected は更新・削除が1行以上に作用したことを確認する。
func requireAffected(result sql.Result, what, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%sが見つかりません: %s", what, id)
	}
	return nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var (
	_ GameRepository  = (*PostgresGameRepo)(nil)
	_ StaleGameFinder = (*PostgresGameRepo)(nil)
	_ GameTx          = (*postgresGameTx)(nil)
)
