// Package core は、Bestdoriアセットの探索・取得エンジンを実装します。
package core

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AppState はアプリケーションの全体的な状態を表すenumです。
type AppState int

const (
	StateInitializing AppState = iota // 初期化中
	StateIdle                         // アイドル
	StateRunning                      // 実行中
	StateStopping                     // 停止処理中
	StateError                        // エラー
)

// String は AppState を人間可読な文字列に変換します。
func (s AppState) String() string {
	switch s {
	case StateInitializing:
		return "初期化中"
	case StateIdle:
		return "アイドル"
	case StateRunning:
		return "実行中"
	case StateStopping:
		return "停止中"
	case StateError:
		return "エラー"
	default:
		return "不明"
	}
}

// AppStatus はコアエンジンからUIへ渡されるアプリケーションの状態を表します。
type AppStatus struct {
	State        AppState   `json:"state"`
	StateLabel   string     `json:"state_label"`
	Detail       string     `json:"detail"`
	SessionInfo  string     `json:"session_info"`
	IsRunning    bool       `json:"is_running"`
	HasError     bool       `json:"has_error"`
	ConfigLoaded bool       `json:"config_loaded"`
	Progress     []Progress `json:"progress,omitempty"`
}

// SessionStats はセッション統計情報を管理します。
type SessionStats struct {
	StartTime         time.Time // 起動時刻
	TasksCompleted    int       // 完了したタスク数
	FilesDownloaded   int       // 新規に保存したID数
	TotalBytesWritten int64     // 合計ダウンロードサイズ（バイト）
}

// FormatSessionInfo はセッション統計情報を文字列にフォーマットします。
func (s *SessionStats) FormatSessionInfo() string {
	uptime := time.Since(s.StartTime)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	sizeMB := float64(s.TotalBytesWritten) / (1024 * 1024)

	return fmt.Sprintf("起動: %dh%dm | タスク: %d | ID: %d | %.1fMB",
		hours, minutes, s.TasksCompleted, s.FilesDownloaded, sizeMB)
}

// Monitor は、タスクの実行状況をUI（トレイ・ステータスページ）へ共有します。
// 全てのメソッドは複数のゴルーチンから安全に呼び出せます。
type Monitor struct {
	mu          sync.Mutex
	status      AppStatus
	session     SessionStats
	progress    map[string]Progress
	subscribers []chan AppStatus
}

// NewMonitor は Monitor を生成します。
func NewMonitor() *Monitor {
	return &Monitor{
		status:   AppStatus{State: StateInitializing, StateLabel: StateInitializing.String()},
		session:  SessionStats{StartTime: time.Now()},
		progress: make(map[string]Progress),
	}
}

// Subscribe は、状態変化を受け取るチャネルを返します。
// 受信側が遅れている場合、その更新は破棄されます。
func (m *Monitor) Subscribe() <-chan AppStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan AppStatus, 10)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// SetState は状態と詳細を更新し、購読者に通知します。
func (m *Monitor) SetState(state AppState, detail string) {
	m.mu.Lock()
	m.status.State = state
	m.status.StateLabel = state.String()
	m.status.Detail = detail
	m.status.IsRunning = state == StateRunning || state == StateStopping
	m.status.HasError = state == StateError
	if state == StateRunning {
		m.progress = make(map[string]Progress)
	}
	m.mu.Unlock()
	m.publish()
}

// SetConfigLoaded は、設定ファイルの読み込み状態を記録します。
func (m *Monitor) SetConfigLoaded(loaded bool) {
	m.mu.Lock()
	m.status.ConfigLoaded = loaded
	m.mu.Unlock()
}

// RecordProgress は、ProgressFunc として使える進捗シンクです。
func (m *Monitor) RecordProgress(p Progress) {
	m.mu.Lock()
	m.progress[p.RangeKey] = p
	m.mu.Unlock()
}

// RecordResult は、完了したタスクの結果をセッション統計に加算します。
func (m *Monitor) RecordResult(result *TaskResult) {
	if result == nil {
		return
	}
	m.mu.Lock()
	m.session.TasksCompleted++
	m.session.FilesDownloaded += len(result.Stats.Successful)
	m.session.TotalBytesWritten += result.BytesWritten
	m.mu.Unlock()
	m.publish()
}

// Snapshot は、現在の状態のコピーを返します。
func (m *Monitor) Snapshot() AppStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() AppStatus {
	s := m.status
	s.SessionInfo = m.session.FormatSessionInfo()
	s.Progress = make([]Progress, 0, len(m.progress))
	for _, p := range m.progress {
		s.Progress = append(s.Progress, p)
	}
	sort.Slice(s.Progress, func(i, j int) bool { return s.Progress[i].RangeKey < s.Progress[j].RangeKey })
	return s
}

func (m *Monitor) publish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshotLocked()
	for _, ch := range m.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}
