package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"BestdoriArchiver/internal/model"
)

// RangeCheckpoint は、1つの走査範囲の再開位置です。
type RangeCheckpoint struct {
	Key     string           `json:"key"`
	StartID int              `json:"start_id"`
	EndID   int              `json:"end_id"`
	Scan    model.ScanState  `json:"scan"`
	Done    bool             `json:"done"`
	Result  model.ScanResult `json:"result"`
}

// RunState は、中断された実行全体の状態です。実行ごとに1ファイルだけ保存されます。
type RunState struct {
	RunID         string              `json:"run_id"`
	TaskName      string              `json:"task_name"`
	AssetKind     string              `json:"asset_kind"`
	StartID       int                 `json:"start_id"`
	EndID         int                 `json:"end_id"`
	LastID        int                 `json:"last_id"`
	Stats         model.DownloadStats `json:"stats"`
	SuccessfulIDs []int               `json:"successful_ids"`
	Ranges        []RangeCheckpoint   `json:"ranges"`
	SavedAt       time.Time           `json:"saved_at"`
}

// Matches は、保存された状態が同じタスク・種別・ID範囲のものかを判定します。
// 範囲が異なる状態は再開に使えないため破棄されます。
func (s *RunState) Matches(taskName, kind string, start, end int) bool {
	return s != nil && s.TaskName == taskName && s.AssetKind == kind && s.StartID == start && s.EndID == end
}

// Checkpoint は、key に対応する範囲の再開位置を返します。
func (s *RunState) Checkpoint(key string) (RangeCheckpoint, bool) {
	if s == nil {
		return RangeCheckpoint{}, false
	}
	for _, cp := range s.Ranges {
		if cp.Key == key {
			return cp, true
		}
	}
	return RangeCheckpoint{}, false
}

// DefaultStateFile は、state_file_path が未指定のときの状態ファイル名です。
const DefaultStateFile = "bda_state.json"

// StatePathForTask は、base にタスク名を挟んだタスクごとの状態ファイルのパスを返します。
// 例えば bda_state.json とタスク "Tomorin Voice" からは bda_state.Tomorin Voice.json になります。
func StatePathForTask(base, taskName string) string {
	if base == "" {
		base = DefaultStateFile
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".json"
	}
	return stem + "." + SanitizeComponent(taskName) + ext
}

// LoadRunState は、状態ファイルを読み込みます。ファイルが存在しない場合は nil, nil を返します。
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("状態ファイルの読み込みに失敗しました (path=%s): %w", path, err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("状態ファイルのパースに失敗しました (path=%s): %w", path, err)
	}
	return &state, nil
}

// SaveRunState は、状態を一時ファイル経由で保存します。
func SaveRunState(path string, state *RunState) error {
	state.SavedAt = time.Now()
	state.SuccessfulIDs = append([]int(nil), state.Stats.Successful...)
	sort.Ints(state.SuccessfulIDs)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("状態のシリアライズに失敗しました: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("状態ファイルのディレクトリ作成に失敗しました (path=%s): %w", path, err)
		}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("状態ファイルの書き込みに失敗しました (path=%s): %w", path, err)
	}
	return nil
}

// RemoveRunState は、状態ファイルを削除します。存在しない場合は何もしません。
func RemoveRunState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("状態ファイルの削除に失敗しました (path=%s): %w", path, err)
	}
	return nil
}
