// Package config は、アプリケーションの設定ファイル(config.json)の構造定義と、
// その読み込み、解決（テンプレートのマージなど）に関する機能を提供します。
package config

import (
	"errors"
	"path/filepath"
)

// ErrNoDownloadRoot は、保存先ルートが一切設定されていない場合に返されます。
// ネットワーク処理を開始する前に検出され、ユーザーが設定を直すことで回復できます。
var ErrNoDownloadRoot = errors.New("保存先ルートディレクトリが設定されていません")

const (
	// MinDownloadSpeed と MaxDownloadSpeed は速度倍率の許容範囲です。
	MinDownloadSpeed = 0.1
	MaxDownloadSpeed = 5.0

	// DefaultRangeSpan は end_id 未指定時に start_id へ加算される幅です。
	DefaultRangeSpan = 999
)

// Config は config.json ファイル全体を表すルート構造体です。
type Config struct {
	ConfigVersion            string          `json:"config_version"`
	GlobalSaveRootDirectory  string          `json:"global_save_root_directory,omitempty"`
	Network                  NetworkSettings `json:"network"`
	GlobalMaxConcurrentTasks int             `json:"global_max_concurrent_tasks"`
	DownloadSpeed            float64         `json:"download_speed,omitempty"`
	StateFilePath            string          `json:"state_file_path,omitempty"`
	CharacterListPath        string          `json:"character_list_path,omitempty"`
	TaskTemplates            map[string]Task `json:"task_templates"`
	Tasks                    []Task          `json:"tasks"`
	EnableLogFile            bool            `json:"enable_log_file"`
	LogFilePath              string          `json:"log_file_path,omitempty"`
	LogLevel                 string          `json:"log_level,omitempty"`
}

// NetworkSettings は、HTTPリクエストに関するグローバルな設定を保持します。
type NetworkSettings struct {
	UserAgent               string            `json:"user_agent"`
	DefaultHeaders          map[string]string `json:"default_headers"`
	PerDomainIntervalMillis map[string]int    `json:"per_domain_interval_ms"`
	// DefaultIntervalMillis は未登録ホストの間隔です。0は既定値、負数は無制限を意味します。
	DefaultIntervalMillis int      `json:"default_interval_ms,omitempty"`
	RequestTimeoutMillis  int      `json:"request_timeout_ms"`
	ProbeTimeoutMillis    int      `json:"probe_timeout_ms,omitempty"`
	BaseURL               string   `json:"base_url,omitempty"`
	WarmupURLs            []string `json:"warmup_urls,omitempty"`
}

// Task は単一のダウンロードタスクを定義します。
type Task struct {
	Enabled                 *bool    `json:"enabled,omitempty"`
	TaskName                string   `json:"task_name,omitempty"`
	UseTemplate             string   `json:"use_template,omitempty"`
	AssetKind               string   `json:"asset_kind,omitempty"`
	SaveRootDirectory       string   `json:"save_root_directory,omitempty"`
	DirectoryFormat         string   `json:"directory_format,omitempty"`
	FilenameFormat          string   `json:"filename_format,omitempty"`
	Servers                 []string `json:"servers,omitempty"`
	Characters              []string `json:"characters,omitempty"`
	StartID                 int      `json:"start_id,omitempty"`
	EndID                   int      `json:"end_id,omitempty"`
	EmptyMissThreshold      int      `json:"empty_miss_threshold,omitempty"`
	TrailingMissThreshold   int      `json:"trailing_miss_threshold,omitempty"`
	MaxConcurrentCharacters int      `json:"max_concurrent_characters,omitempty"`
	RetryCount              *int     `json:"retry_count,omitempty"`
	DownloadSpeed           float64  `json:"download_speed,omitempty"`
	GenerateThumbnails      bool     `json:"generate_thumbnails,omitempty"`
	EnableResumeSupport     bool     `json:"enable_resume_support,omitempty"`
}

// IsEnabled は、タスクが有効かどうかを返します。未指定の場合は有効とみなします。
func (t Task) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// ResolveSaveRoot は、タスクの保存先ルートを決定します。
// タスク固有の指定が優先され、なければ <global>/Bestdori/<asset_kind> を使用します。
func (t Task) ResolveSaveRoot(globalRoot string) (string, error) {
	if t.SaveRootDirectory != "" {
		return t.SaveRootDirectory, nil
	}
	if globalRoot == "" {
		return "", ErrNoDownloadRoot
	}
	return filepath.Join(globalRoot, "Bestdori", t.AssetKind), nil
}

// IDBounds は、明示的なID範囲が指定されている場合にその範囲を返します。
func (t Task) IDBounds() (start, end int, ok bool) {
	if t.StartID <= 0 {
		return 0, 0, false
	}
	end = t.EndID
	if end <= 0 {
		end = t.StartID + DefaultRangeSpan
	}
	return t.StartID, end, true
}

// EffectiveSpeed は、タスクとグローバル設定から速度倍率を決定し、許容範囲に丸めます。
func (t Task) EffectiveSpeed(global float64) float64 {
	speed := t.DownloadSpeed
	if speed == 0 {
		speed = global
	}
	return ClampSpeed(speed)
}

// ClampSpeed は、速度倍率を [0.1, 5.0] に丸めます。0以下は1.0として扱います。
func ClampSpeed(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	if speed < MinDownloadSpeed {
		return MinDownloadSpeed
	}
	if speed > MaxDownloadSpeed {
		return MaxDownloadSpeed
	}
	return speed
}

// FindTask は、名前に一致するタスクを返します。
func (c *Config) FindTask(name string) (Task, bool) {
	for _, task := range c.Tasks {
		if task.TaskName == name {
			return task, true
		}
	}
	return Task{}, false
}
