package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/core"
	"BestdoriArchiver/internal/network"
	"BestdoriArchiver/internal/webui"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// application は、設定と共有コンポーネントを保持し、タスクの実行を管理します。
type application struct {
	configPath string
	cfg        *config.Config
	catalog    *catalog.Catalog
	monitor    *core.Monitor
	logs       *logSink
	logger     zerolog.Logger
	web        *webui.Server
	stdout     io.Writer

	baseCtx context.Context

	mu        sync.Mutex
	running   bool
	cancelRun context.CancelFunc
}

// newApplication は設定ファイルとキャラクターリストを読み込みます。
func newApplication(ctx context.Context, configPath string) (*application, error) {
	cfg, err := config.LoadAndResolve(configPath)
	if err != nil {
		return nil, err
	}

	logs := &logSink{}
	if cfg.EnableLogFile {
		if err := logs.Toggle(true, cfg.LogFilePath); err != nil {
			fmt.Fprintf(os.Stderr, "警告: %v\n", err)
		}
	}
	logger := newLogger(os.Stdout, logs, cfg.LogLevel)

	cat, err := catalog.Load(cfg.CharacterListPath)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("キャラクターリストの読み込みに失敗しました (path=%s): %w", cfg.CharacterListPath, err)
	}

	monitor := core.NewMonitor()
	monitor.SetConfigLoaded(true)
	monitor.SetState(core.StateIdle, fmt.Sprintf("%d件のタスクが設定されています", len(cfg.Tasks)))

	app := &application{
		configPath: configPath,
		cfg:        cfg,
		catalog:    cat,
		monitor:    monitor,
		logs:       logs,
		logger:     logger,
		stdout:     os.Stdout,
		baseCtx:    ctx,
	}
	app.web = webui.New(monitor, app.Stop, logger)
	logger.Info().Str("config", configPath).Int("tasks", len(cfg.Tasks)).Msg("設定ファイルを読み込みました")
	return app, nil
}

func (a *application) deps(client *network.Client, resume core.ResumeFunc) core.Deps {
	return core.Deps{
		Config:  a.cfg,
		Catalog: a.catalog,
		Logger:  a.logger,
		Client:  client,
		Resume:  resume,
	}
}

// selectTasks は、name に一致するタスクを返します。name が空なら有効な全タスクを返します。
func (a *application) selectTasks(name string) ([]config.Task, error) {
	if name != "" {
		task, ok := a.cfg.FindTask(name)
		if !ok {
			return nil, fmt.Errorf("タスクが見つかりません (task=%s)", name)
		}
		return []config.Task{task}, nil
	}

	var tasks []config.Task
	for _, t := range a.cfg.Tasks {
		if t.IsEnabled() {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, errors.New("有効なタスクがありません")
	}
	return tasks, nil
}

// beginRun は実行中フラグを立て、Stop でキャンセルできるコンテキストを返します。
func (a *application) beginRun() (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(a.baseCtx)
	a.running = true
	a.cancelRun = cancel
	return ctx, true
}

func (a *application) endRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelRun != nil {
		a.cancelRun()
	}
	a.running = false
	a.cancelRun = nil
}

// runTasks は、タスクを global_max_concurrent_tasks を上限に並行して実行し、
// 結果のサマリーを表示します。失敗したタスクがあれば最初のエラーを返します。
func (a *application) runTasks(tasks []config.Task, resume core.ResumeFunc, progress core.ProgressFunc) error {
	ctx, ok := a.beginRun()
	if !ok {
		return errors.New("すでにタスクを実行中です")
	}
	defer a.endRun()

	client, err := network.NewClient(a.cfg.Network)
	if err != nil {
		a.monitor.SetState(core.StateError, err.Error())
		return fmt.Errorf("ネットワーククライアントの初期化に失敗しました: %w", err)
	}

	a.monitor.SetState(core.StateRunning, fmt.Sprintf("%d件のタスクを実行中", len(tasks)))
	a.logger.Info().Int("tasks", len(tasks)).Int("max_concurrent", max(a.cfg.GlobalMaxConcurrentTasks, 1)).Msg("タスクの実行を開始します")
	started := time.Now()

	deps := a.deps(client, resume)
	results := make([]*core.TaskResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(max(a.cfg.GlobalMaxConcurrentTasks, 1))
	for i, task := range tasks {
		if ctx.Err() != nil {
			a.logger.Info().Msg("キャンセルされたため、新規タスクの開始を中断します")
			break
		}
		g.Go(func() error {
			// 空きを待つ間に停止された場合は開始しない
			if ctx.Err() != nil {
				a.logger.Info().Str("task", task.TaskName).Msg("キャンセルされたため、タスクを開始しません")
				return nil
			}
			result, err := core.ExecuteTask(ctx, deps, task, progress)
			results[i] = result
			if err != nil {
				a.logger.Error().Err(err).Str("task", task.TaskName).Msg("タスクの実行に失敗しました")
				return err
			}
			a.monitor.RecordResult(result)
			return nil
		})
	}
	firstErr := g.Wait()

	for _, result := range results {
		if result != nil {
			fmt.Fprintln(a.stdout, core.FormatSummary(result.Label, result))
		}
	}

	elapsed := time.Since(started).Round(time.Second)
	switch {
	case firstErr != nil:
		a.monitor.SetState(core.StateError, firstErr.Error())
	case ctx.Err() != nil:
		a.monitor.SetState(core.StateIdle, fmt.Sprintf("中断しました (%s)", elapsed))
	default:
		a.monitor.SetState(core.StateIdle, fmt.Sprintf("完了しました (%s)", elapsed))
	}
	a.logger.Info().Dur("elapsed", elapsed).Msg("全てのタスクが終了しました")
	return firstErr
}

// runVerification は、タスクごとに保存済みファイルを検証します。
func (a *application) runVerification(tasks []config.Task, repair bool) error {
	ctx, ok := a.beginRun()
	if !ok {
		return errors.New("すでにタスクを実行中です")
	}
	defer a.endRun()

	client, err := network.NewClient(a.cfg.Network)
	if err != nil {
		return fmt.Errorf("ネットワーククライアントの初期化に失敗しました: %w", err)
	}
	deps := a.deps(client, nil)

	invalid := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		result, err := core.RunVerification(ctx, deps, task, repair)
		if err != nil {
			return err
		}
		invalid += result.TotalInvalid - result.TotalRepaired
	}
	if invalid > 0 {
		return fmt.Errorf("未修復の不正なファイルが%d件あります", invalid)
	}
	return nil
}

// close は、ステータスページとログファイルを閉じます。
func (a *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.web.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("ステータスページの停止に失敗しました")
	}
	a.logs.Close()
}

// 以下は systray.Controller の実装です。

// RunAll は有効な全タスクをバックグラウンドで実行します。
func (a *application) RunAll() {
	tasks, err := a.selectTasks("")
	if err != nil {
		a.logger.Warn().Err(err).Msg("実行できるタスクがありません")
		return
	}
	go func() {
		if err := a.runTasks(tasks, nil, a.monitor.RecordProgress); err != nil {
			a.logger.Error().Err(err).Msg("タスクの実行でエラーが発生しました")
		}
	}()
}

// Stop は実行中のタスクに停止を要求します。処理中のIDが終わると停止します。
func (a *application) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.cancelRun == nil {
		return
	}
	a.logger.Info().Msg("停止を要求しました。処理中のIDを終えてから停止します。")
	a.monitor.SetState(core.StateStopping, "処理中のIDを終えてから停止します")
	a.cancelRun()
}

func (a *application) OpenStatusPage() {
	if err := a.web.Open(); err != nil {
		a.logger.Error().Err(err).Msg("ステータスページを開けませんでした")
	}
}

func (a *application) SaveRoot() string { return a.cfg.GlobalSaveRootDirectory }

func (a *application) ConfigPath() string { return a.configPath }

func (a *application) LogFilePath() string { return a.logs.Path() }

func (a *application) ToggleLogFile(enable bool) error {
	if err := a.logs.Toggle(enable, a.cfg.LogFilePath); err != nil {
		return err
	}
	a.logger.Info().Bool("enabled", enable).Str("path", a.logs.Path()).Msg("ログファイル出力を切り替えました")
	return nil
}

func (a *application) ShowConsole() { showConsole() }

func (a *application) HideConsole() { hideConsole() }
