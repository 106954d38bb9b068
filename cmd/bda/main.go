// bda は、Bestdori のアセットを走査してダウンロードするコマンドです。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"BestdoriArchiver/internal/systray"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		fmt.Fprintln(os.Stderr, "終了シグナルを受信しました。処理中のIDを終えてから停止します...")
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "bda",
		Short:        "Bestdori のカード・アニメーション・ボイスを収集します",
		SilenceUsage: true,
		RunE:         runTray,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "設定ファイルのパス")
	root.AddCommand(newScanCommand(), newVerifyCommand(), newTrayCommand())
	return root
}

func newScanCommand() *cobra.Command {
	var (
		taskName   string
		resume     bool
		fresh      bool
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "タスクを一度だけ実行します",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resumeModeFromFlags(resume, fresh)
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer app.close()

			tasks, err := app.selectTasks(taskName)
			if err != nil {
				return err
			}
			sink := newProgressSink(os.Stderr, app.monitor, !noProgress)
			defer sink.Finish()
			resumeFunc := newResumeFunc(mode, os.Stdin, os.Stdout, stdinIsTerminal())
			return app.runTasks(tasks, resumeFunc, sink.Update)
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "実行するタスク名 (省略時は有効な全タスク)")
	cmd.Flags().BoolVar(&resume, "resume", false, "確認せずに中断された実行を再開します")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "中断された実行を破棄して最初から走査します")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "進捗バーを表示しません")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var (
		taskName string
		repair   bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "保存済みファイルを検証します",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer app.close()

			tasks, err := app.selectTasks(taskName)
			if err != nil {
				return err
			}
			return app.runVerification(tasks, repair)
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "検証するタスク名 (省略時は有効な全タスク)")
	cmd.Flags().BoolVar(&repair, "repair", false, "不正なファイルを削除して再取得します")
	return cmd
}

func newTrayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "システムトレイに常駐します (既定)",
		RunE:  runTray,
	}
}

func runTray(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer app.close()

	app.logger.Info().Msg("実行モード: システムトレイ")
	hideConsole()
	systray.RunSystrayApp(cmd.Context(), app.monitor, app, app.cfg.EnableLogFile, app.logger)
	app.logger.Info().Msg("アプリケーションが正常にシャットダウンしました")
	return nil
}
