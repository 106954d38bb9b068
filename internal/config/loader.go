package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// taskPatch は、タスク設定をデコードするための中間ヘルパー構造体です。
type taskPatch struct {
	Enabled                 *bool     `json:"enabled,omitempty"`
	TaskName                *string   `json:"task_name,omitempty"`
	UseTemplate             string    `json:"use_template,omitempty"`
	AssetKind               *string   `json:"asset_kind,omitempty"`
	SaveRootDirectory       *string   `json:"save_root_directory,omitempty"`
	DirectoryFormat         *string   `json:"directory_format,omitempty"`
	FilenameFormat          *string   `json:"filename_format,omitempty"`
	Servers                 *[]string `json:"servers,omitempty"`
	Characters              *[]string `json:"characters,omitempty"`
	StartID                 *int      `json:"start_id,omitempty"`
	EndID                   *int      `json:"end_id,omitempty"`
	EmptyMissThreshold      *int      `json:"empty_miss_threshold,omitempty"`
	TrailingMissThreshold   *int      `json:"trailing_miss_threshold,omitempty"`
	MaxConcurrentCharacters *int      `json:"max_concurrent_characters,omitempty"`
	RetryCount              *int      `json:"retry_count,omitempty"`
	DownloadSpeed           *float64  `json:"download_speed,omitempty"`
	GenerateThumbnails      *bool     `json:"generate_thumbnails,omitempty"`
	EnableResumeSupport     *bool     `json:"enable_resume_support,omitempty"`
}

// rawConfig は、設定ファイルをデコードするための中間構造体です。
type rawConfig struct {
	ConfigVersion            string          `json:"config_version"`
	GlobalSaveRootDirectory  string          `json:"global_save_root_directory"`
	Network                  NetworkSettings `json:"network"`
	GlobalMaxConcurrentTasks int             `json:"global_max_concurrent_tasks"`
	DownloadSpeed            float64         `json:"download_speed"`
	StateFilePath            string          `json:"state_file_path"`
	CharacterListPath        string          `json:"character_list_path"`
	EnableLogFile            bool            `json:"enable_log_file"`
	LogFilePath              string          `json:"log_file_path"`
	LogLevel                 string          `json:"log_level"`
	TaskTemplates            map[string]Task `json:"task_templates"`
	Tasks                    []taskPatch     `json:"tasks"`
}

// LoadAndResolve は、指定されたパスから設定ファイルを読み込み、解析と解決を行います。
func LoadAndResolve(path string) (*Config, error) {
	absPath, _ := filepath.Abs(path)
	cwd, _ := os.Getwd()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル '%s' の読み込みに失敗しました (Abs: '%s', Cwd: '%s'): %w", path, absPath, cwd, err)
	}
	return ParseAndResolve(data)
}

// ParseAndResolve は、設定データのバイトスライスを解析し、テンプレートを解決して最終的な設定を返します。
// この関数はテストのために分離されています。
func ParseAndResolve(data []byte) (*Config, error) {
	var rawCfg rawConfig
	if err := json.Unmarshal(data, &rawCfg); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		if errors.As(err, &syntaxErr) {
			line, col := computeLineAndColumn(data, syntaxErr.Offset)
			return nil, fmt.Errorf("設定ファイルのJSON構文エラー (行 %d, 列 %d): %w", line, col, err)
		}
		if errors.As(err, &typeErr) {
			line, col := computeLineAndColumn(data, typeErr.Offset)
			return nil, fmt.Errorf("設定ファイルの型エラー (行 %d, 列 %d, フィールド '%s'): 期待値 %v, 実際 %v - %w",
				line, col, typeErr.Field, typeErr.Type, typeErr.Value, err)
		}
		return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}

	const compatibleVersion = "1.0"
	if rawCfg.ConfigVersion != compatibleVersion {
		return nil, fmt.Errorf("サポートされていない設定バージョン '%s' です。'%s' が必要です。", rawCfg.ConfigVersion, compatibleVersion)
	}

	resolvedConfig := &Config{
		ConfigVersion:            rawCfg.ConfigVersion,
		GlobalSaveRootDirectory:  rawCfg.GlobalSaveRootDirectory,
		Network:                  rawCfg.Network,
		GlobalMaxConcurrentTasks: rawCfg.GlobalMaxConcurrentTasks,
		DownloadSpeed:            ClampSpeed(rawCfg.DownloadSpeed),
		StateFilePath:            rawCfg.StateFilePath,
		CharacterListPath:        rawCfg.CharacterListPath,
		EnableLogFile:            rawCfg.EnableLogFile,
		LogFilePath:              rawCfg.LogFilePath,
		LogLevel:                 rawCfg.LogLevel,
		TaskTemplates:            rawCfg.TaskTemplates,
		Tasks:                    make([]Task, 0, len(rawCfg.Tasks)),
	}
	if resolvedConfig.StateFilePath == "" {
		resolvedConfig.StateFilePath = "bda_state.json"
	}

	for i, patch := range rawCfg.Tasks {
		var resolvedTask Task
		if patch.UseTemplate != "" {
			template, ok := rawCfg.TaskTemplates[patch.UseTemplate]
			if !ok {
				taskName := "unknown"
				if patch.TaskName != nil {
					taskName = *patch.TaskName
				}
				return nil, fmt.Errorf("タスク '%s' が未定義のテンプレート '%s' を使用しています", taskName, patch.UseTemplate)
			}
			resolvedTask = template
		}
		applyPatch(&resolvedTask, &patch)

		if resolvedTask.TaskName == "" {
			resolvedTask.TaskName = fmt.Sprintf("task_%d", i+1)
		}
		if resolvedTask.AssetKind == "" {
			return nil, fmt.Errorf("タスク '%s' に asset_kind が設定されていません", resolvedTask.TaskName)
		}
		if start, end, ok := resolvedTask.IDBounds(); ok && end < start {
			return nil, fmt.Errorf("タスク '%s' のID範囲が不正です (start_id=%d, end_id=%d)", resolvedTask.TaskName, start, end)
		}
		resolvedConfig.Tasks = append(resolvedConfig.Tasks, resolvedTask)
	}

	return resolvedConfig, nil
}

// applyPatch は、patchの非nilフィールドをtargetに上書きします。
func applyPatch(target *Task, patch *taskPatch) {
	target.UseTemplate = patch.UseTemplate
	if patch.Enabled != nil {
		target.Enabled = patch.Enabled
	}
	if patch.TaskName != nil {
		target.TaskName = *patch.TaskName
	}
	if patch.AssetKind != nil {
		target.AssetKind = *patch.AssetKind
	}
	if patch.SaveRootDirectory != nil {
		target.SaveRootDirectory = *patch.SaveRootDirectory
	}
	if patch.DirectoryFormat != nil {
		target.DirectoryFormat = *patch.DirectoryFormat
	}
	if patch.FilenameFormat != nil {
		target.FilenameFormat = *patch.FilenameFormat
	}
	if patch.Servers != nil {
		target.Servers = *patch.Servers
	}
	if patch.Characters != nil {
		target.Characters = *patch.Characters
	}
	if patch.StartID != nil {
		target.StartID = *patch.StartID
	}
	if patch.EndID != nil {
		target.EndID = *patch.EndID
	}
	if patch.EmptyMissThreshold != nil {
		target.EmptyMissThreshold = *patch.EmptyMissThreshold
	}
	if patch.TrailingMissThreshold != nil {
		target.TrailingMissThreshold = *patch.TrailingMissThreshold
	}
	if patch.MaxConcurrentCharacters != nil {
		target.MaxConcurrentCharacters = *patch.MaxConcurrentCharacters
	}
	if patch.RetryCount != nil {
		target.RetryCount = patch.RetryCount
	}
	if patch.DownloadSpeed != nil {
		target.DownloadSpeed = *patch.DownloadSpeed
	}
	if patch.GenerateThumbnails != nil {
		target.GenerateThumbnails = *patch.GenerateThumbnails
	}
	if patch.EnableResumeSupport != nil {
		target.EnableResumeSupport = *patch.EnableResumeSupport
	}
}

// computeLineAndColumn は、バイトオフセットから行番号と列番号（1始まり）を計算します。
func computeLineAndColumn(data []byte, offset int64) (int, int) {
	if offset < 0 || int(offset) > len(data) {
		return 0, 0
	}
	line := 1
	lastLineStart := 0
	for i, b := range data {
		if int64(i) == offset {
			return line, i - lastLineStart + 1
		}
		if b == '\n' {
			line++
			lastLineStart = i + 1
		}
	}
	return line, int(offset) - lastLineStart + 1
}
