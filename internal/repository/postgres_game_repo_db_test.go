package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/impostor/internal/database"
	"github.com/hitoshi/impostor/internal/model"
)

// setupPostgresRepo はTEST_REPOSITORY_DATABASE_URLのデータベースにマイグレーションを適用したリポジトリを返す。
// 未設定の場合はスキップする。
func setupPostgresRepo(t *testing.T) (*PostgresGameRepo, *sql.DB) {
	t.Helper()

	dbURL := os.Getenv("TEST_REPOSITORY_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_REPOSITORY_DATABASE_URL が未設定のためスキップ")
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresGameRepo(db), db
}

func newPostgresGame(t *testing.T, repo *PostgresGameRepo, createdAt time.Time) *model.Game {
	t.Helper()
	g := &model.Game{
		ID:                 uuid.NewString(),
		Code:               uuid.NewString()[:8],
		Phase:              model.PhaseLobby,
		QuestionsPerPlayer: 2,
		CreatedAt:          createdAt,
	}
	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

func TestPostgresGameRepo_RoundLifecycleAndTeardown(t *testing.T) {
	repo, _ := setupPostgresRepo(t)
	ctx := context.Background()
	g := newPostgresGame(t, repo, time.Now())

	if err := repo.Create(ctx, &model.Game{ID: uuid.NewString(), Code: g.Code, Phase: model.PhaseLobby, CreatedAt: time.Now()}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate code err = %v, want ErrDuplicate", err)
	}

	alice := &model.Player{ID: uuid.NewString(), GameID: g.ID, Name: "alice", CreatedAt: time.Now()}
	round := &model.Round{ID: uuid.NewString(), GameID: g.ID, Index: 1, QuestionText: "q?"}
	humanAnswer := &model.Answer{ID: uuid.NewString(), RoundID: round.ID, PlayerID: &alice.ID, Text: "a"}
	aiAnswer := &model.Answer{ID: uuid.NewString(), RoundID: round.ID, Text: "ai"}

	err := repo.Transact(ctx, func(tx GameTx) error {
		if err := tx.CreatePlayer(ctx, alice); err != nil {
			return err
		}
		dup := &model.Player{ID: uuid.NewString(), GameID: g.ID, Name: "alice", CreatedAt: time.Now()}
		if err := tx.CreatePlayer(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("duplicate name err = %v, want ErrDuplicate", err)
		}
		return nil
	})
	// 一意制約違反でトランザクションはアボートされるため、コミットは失敗する
	if err == nil {
		t.Fatal("Transact after constraint violation should fail to commit")
	}

	err = repo.Transact(ctx, func(tx GameTx) error {
		if err := tx.CreatePlayer(ctx, alice); err != nil {
			return err
		}
		if err := tx.CreateRound(ctx, round); err != nil {
			return err
		}
		if err := tx.CreateAnswer(ctx, humanAnswer); err != nil {
			return err
		}
		if err := tx.CreateAnswer(ctx, aiAnswer); err != nil {
			return err
		}
		if err := tx.SetImpostorAnswer(ctx, round.ID, aiAnswer.ID); err != nil {
			return err
		}
		return tx.CreateVote(ctx, &model.Vote{ID: uuid.NewString(), RoundID: round.ID, VoterPlayerID: alice.ID, AnswerID: aiAnswer.ID})
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	err = repo.Transact(ctx, func(tx GameTx) error {
		locked, err := tx.LockGameByCode(ctx, g.Code)
		if err != nil || locked == nil {
			t.Fatalf("LockGameByCode = %v, %v", locked, err)
		}
		got, err := tx.FindRoundByIndex(ctx, g.ID, 1)
		if err != nil {
			return err
		}
		if got.ImpostorAnswerID == nil || *got.ImpostorAnswerID != aiAnswer.ID {
			t.Errorf("ImpostorAnswerID = %v, want %s", got.ImpostorAnswerID, aiAnswer.ID)
		}
		humans, err := tx.CountHumanAnswers(ctx, round.ID)
		if err != nil {
			return err
		}
		if humans != 1 {
			t.Errorf("CountHumanAnswers = %d, want 1", humans)
		}

		// AI回答の参照を外してから子から順に削除する
		steps := []func(context.Context, string) error{
			tx.ClearImpostorAnswers,
			tx.DeleteVotesByGame,
			tx.DeleteAnswersByGame,
			tx.DeleteQuestionsByGame,
			tx.DeleteRoundsByGame,
			tx.DeletePlayersByGame,
			tx.DeleteGame,
		}
		for _, step := range steps {
			if err := step(ctx, g.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("teardown: %v", err)
	}

	err = repo.Transact(ctx, func(tx GameTx) error {
		got, err := tx.FindGameByCode(ctx, g.Code)
		if err != nil {
			return err
		}
		if got != nil {
			t.Errorf("game still exists after teardown: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FindGameByCode: %v", err)
	}
}

func TestPostgresGameRepo_ListStaleGameCodes(t *testing.T) {
	repo, _ := setupPostgresRepo(t)
	ctx := context.Background()

	// 他のテストのデータと混ざらないよう、十分に古い時刻を使う
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	older := newPostgresGame(t, repo, base)
	newer := newPostgresGame(t, repo, base.Add(time.Hour))
	t.Cleanup(func() {
		for _, g := range []*model.Game{older, newer} {
			repo.Transact(ctx, func(tx GameTx) error { return tx.DeleteGame(ctx, g.ID) })
		}
	})

	codes, err := repo.ListStaleGameCodes(ctx, base.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleGameCodes: %v", err)
	}
	if len(codes) != 1 || codes[0] != older.Code {
		t.Errorf("codes = %v, want [%s]", codes, older.Code)
	}
}
