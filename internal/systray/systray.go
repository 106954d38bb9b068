// Package systray は、システムトレイアプリケーションのUIとイベントハンドリングを提供します。
package systray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"BestdoriArchiver/internal/core"
	"BestdoriArchiver/internal/systray/icon"

	"fyne.io/systray"
	"github.com/rs/zerolog"
)

// UIEvent はUIで発生したイベントの種類を表します。
type UIEvent int

const (
	ClickRunAll UIEvent = iota
	ClickStop
	ClickOpenRootDir
	ClickOpenStatusPage
	ClickOpenConfig
	ClickOpenLogs
	ClickExit
)

// Controller は、メニュー操作をアプリケーション本体へ伝えます。
// RunAll と Stop はUIのゴルーチンから呼ばれるため、すぐに戻る必要があります。
type Controller interface {
	RunAll()
	Stop()
	OpenStatusPage()
	SaveRoot() string
	ConfigPath() string
	LogFilePath() string
	ToggleLogFile(enable bool) error
	ShowConsole()
	HideConsole()
}

// パッケージレベル変数
var (
	uiEventChannel chan UIEvent

	mStatusState   *systray.MenuItem
	mStatusDetail  *systray.MenuItem
	mStatusSession *systray.MenuItem
	mProgress      *systray.MenuItem
	mRunAll        *systray.MenuItem
	mStop          *systray.MenuItem
	mConsoleToggle *systray.MenuItem
	mLogFileToggle *systray.MenuItem
	mOpenRootDir   *systray.MenuItem
	mOpenStatus    *systray.MenuItem
	mOpenConfig    *systray.MenuItem
	mOpenLogs      *systray.MenuItem
	mExit          *systray.MenuItem

	appCtx    context.Context
	appCancel context.CancelFunc

	monitor    *core.Monitor
	controller Controller
	logger     zerolog.Logger
	logEnabled bool
)

// RunSystrayApp は、システムトレイアプリケーションを開始します。終了メニューが選ばれるまで戻りません。
func RunSystrayApp(globalCtx context.Context, m *core.Monitor, ctrl Controller, logFileEnabled bool, l zerolog.Logger) {
	appCtx, appCancel = context.WithCancel(globalCtx)
	defer appCancel()

	monitor = m
	controller = ctrl
	logger = l
	logEnabled = logFileEnabled

	go func() {
		<-appCtx.Done()
		systray.Quit()
	}()
	systray.Run(onReady, onExit)
}

// onReadyは、UIの初期化とバックグラウンドプロセスの起動を行います。
func onReady() {
	logger.Info().Str("os", runtime.GOOS).Str("arch", runtime.GOARCH).Msg("システムトレイの準備ができました")

	setIcon(core.StateIdle)
	systray.SetTitle("BDA")
	systray.SetTooltip("BestdoriArchiver: 初期化中...")

	mStatusState = systray.AddMenuItem("状態: 初期化中...", "現在のアプリケーションの状態")
	mStatusDetail = systray.AddMenuItem("詳細: -", "現在実行中のタスクの詳細")
	mStatusSession = systray.AddMenuItem("セッション: -", "今回の起動中の統計情報")
	mProgress = systray.AddMenuItem("進捗: -", "走査中の範囲")
	mStatusState.Disable()
	mStatusDetail.Disable()
	mStatusSession.Disable()
	mProgress.Disable()
	systray.AddSeparator()

	mRunAll = systray.AddMenuItem("今すぐ全タスクを実行", "有効な全タスクを順に実行します")
	mStop = systray.AddMenuItem("停止", "処理中のIDを終えてから停止し、再開用の状態を保存します")
	mStop.Disable()
	systray.AddSeparator()

	mConsoleToggle = systray.AddMenuItemCheckbox("コンソールを表示", "コンソールウィンドウの表示/非表示を切り替えます", false)
	mLogFileToggle = systray.AddMenuItemCheckbox("ログファイルに出力", "ログを日付ごとのファイルにも出力します", logEnabled)
	systray.AddSeparator()

	mOpenRootDir = systray.AddMenuItem("保存先フォルダを開く", "ダウンロードしたアセットのフォルダを開きます")
	mOpenStatus = systray.AddMenuItem("ステータスページを開く", "ブラウザで進捗を表示します")
	mLogsAndConfig := systray.AddMenuItem("ログと設定", "")
	mOpenConfig = mLogsAndConfig.AddSubMenuItem("設定ファイルを開く", "config.jsonを編集します")
	mOpenLogs = mLogsAndConfig.AddSubMenuItem("最新ログを開く", "ログファイルを開きます")
	systray.AddSeparator()

	mExit = systray.AddMenuItem("BestdoriArchiverを終了", "実行中のタスクを停止してから終了します")

	uiEventChannel = make(chan UIEvent)

	go func() {
		for {
			select {
			case <-mRunAll.ClickedCh:
				uiEventChannel <- ClickRunAll
			case <-mStop.ClickedCh:
				uiEventChannel <- ClickStop
			case <-mConsoleToggle.ClickedCh:
				if mConsoleToggle.Checked() {
					mConsoleToggle.Uncheck()
					controller.HideConsole()
				} else {
					mConsoleToggle.Check()
					controller.ShowConsole()
				}
			case <-mLogFileToggle.ClickedCh:
				enable := !mLogFileToggle.Checked()
				if err := controller.ToggleLogFile(enable); err != nil {
					logger.Error().Err(err).Msg("ログファイルの切り替えに失敗しました")
					continue
				}
				if enable {
					mLogFileToggle.Check()
				} else {
					mLogFileToggle.Uncheck()
				}
			case <-mOpenRootDir.ClickedCh:
				uiEventChannel <- ClickOpenRootDir
			case <-mOpenStatus.ClickedCh:
				uiEventChannel <- ClickOpenStatusPage
			case <-mOpenConfig.ClickedCh:
				uiEventChannel <- ClickOpenConfig
			case <-mOpenLogs.ClickedCh:
				uiEventChannel <- ClickOpenLogs
			case <-mExit.ClickedCh:
				uiEventChannel <- ClickExit
			case <-appCtx.Done():
				return
			}
		}
	}()

	go startUIUpdateLoop(monitor.Subscribe())
	applyStatus(monitor.Snapshot())
	logger.Info().Msg("UIの構築が完了しました")
}

// onExitは、アプリケーションが終了するときに呼び出されます。
func onExit() {
	logger.Info().Msg("終了処理を開始します")
	controller.Stop()
	appCancel()
}

// startUIUpdateLoopは、UIの表示を管理するためのメインループです。
func startUIUpdateLoop(updates <-chan core.AppStatus) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// 進捗は頻繁に変わるため通知を待たずに反映する
			applyStatus(monitor.Snapshot())

		case event := <-uiEventChannel:
			switch event {
			case ClickExit:
				logger.Info().Msg("UI: 終了イベント受信")
				systray.Quit()
				return
			case ClickRunAll:
				logger.Info().Msg("UI: 全タスク実行イベント受信")
				controller.RunAll()
			case ClickStop:
				logger.Info().Msg("UI: 停止イベント受信")
				controller.Stop()
			case ClickOpenRootDir:
				openCommand(controller.SaveRoot())
			case ClickOpenStatusPage:
				controller.OpenStatusPage()
			case ClickOpenConfig:
				openCommand(controller.ConfigPath())
			case ClickOpenLogs:
				openCommand(controller.LogFilePath())
			}

		case status := <-updates:
			applyStatus(status)

		case <-appCtx.Done():
			return
		}
	}
}

// applyStatus は、状態をアイコンとメニューに反映します。
func applyStatus(status core.AppStatus) {
	setIcon(status.State)
	systray.SetTooltip(fmt.Sprintf("BestdoriArchiver: %s", status.StateLabel))
	mStatusState.SetTitle(fmt.Sprintf("状態: %s", status.StateLabel))
	mStatusDetail.SetTitle(fmt.Sprintf("詳細: %s", status.Detail))
	mStatusSession.SetTitle(fmt.Sprintf("セッション: %s", status.SessionInfo))
	mProgress.SetTitle(fmt.Sprintf("進捗: %s", progressSummary(status.Progress)))

	if status.IsRunning {
		mRunAll.Disable()
		mStop.Enable()
	} else {
		mRunAll.Enable()
		mStop.Disable()
	}
}

// progressSummary は、走査中の範囲を1行にまとめます。
func progressSummary(progress []core.Progress) string {
	if len(progress) == 0 {
		return "-"
	}
	processed, total := 0, 0
	for _, p := range progress {
		processed += p.Processed
		total += p.Total
	}
	last := progress[len(progress)-1]
	return fmt.Sprintf("%s ID %d (%d/%d)", last.Label, last.CurrentID, processed, total)
}

func setIcon(state core.AppState) {
	iconData := icon.GetIconData(state)
	if err := icon.ValidateIconData(iconData); err == nil {
		systray.SetIcon(iconData)
	}
}

// openCommandはOSのデフォルトアプリケーションでファイルやフォルダを開きます。
func openCommand(path string) {
	if path == "" {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("コマンドの実行に失敗しました")
	}
}
