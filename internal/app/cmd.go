package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/impostor/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとcontextをキャンセルし、グレースフルシャットダウンを行う。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はctxを使ってサブコマンドを実行する。
// サブコマンドが省略された場合はserveとして扱う。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	if args == nil {
		// nilのままだとcobraがos.Argsを読んでしまう
		args = []string{}
	}
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := initCommand(w, CommandServe)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:           "impostor",
		Short:         "Impostor party game server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the stale game cleanup worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initCommand(w, CommandWorker)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	})

	var down int
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initCommand(w, CommandMigrate)
			if err != nil {
				return err
			}
			return runMigrate(cfg, down)
		},
	}
	migrateCmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	root.AddCommand(migrateCmd)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	var healthURL string
	healthCmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the /health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if healthURL == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				healthURL = "http://localhost:" + port
			}
			return runHealthcheck(cmd.Context(), healthURL)
		},
	}
	healthCmd.Flags().StringVar(&healthURL, "url", "", "base URL of the server (default http://localhost:$SERVER_PORT)")
	root.AddCommand(healthCmd)

	return root
}

func initCommand(w io.Writer, cmd Command) (*config.Config, error) {
	cfg, err := Init(w)
	if err != nil {
		return nil, err
	}
	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
	)
	return cfg, nil
}
