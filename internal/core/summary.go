package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/model"
)

// IDRange は、連続したIDの閉区間です。
type IDRange = model.IDRange

// MergeIDRanges は、IDの一覧を連続区間にまとめます。
func MergeIDRanges(ids []int) []IDRange {
	return model.MergeIDRanges(ids)
}

// FormatIDRanges は、区間を "1003-1004, 1006-1008" の形式に整形します。
func FormatIDRanges(ranges []IDRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// FormatSummary は、タスク結果の最終サマリーを返します。
// 早期終了や中断の場合も含め、常に呼び出し側へ提示されます。
func FormatSummary(label string, result *TaskResult) string {
	var b strings.Builder
	stats := result.Stats

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "%s: %s\n", label, result.TaskName)
	fmt.Fprintf(&b, "状態: %s\n", result.End)
	fmt.Fprintf(&b, "完全取得: %d | 一部取得: %d | 失敗: %d | 既存スキップ: %d | 存在しない: %d\n",
		stats.Complete, stats.Partial, stats.Failed, stats.Skipped, len(stats.Nonexistent))

	if len(stats.VariantHits) > 0 {
		names := make([]string, 0, len(stats.VariantHits))
		for name := range stats.VariantHits {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, stats.VariantHits[name])
		}
		fmt.Fprintf(&b, "バリアント別: %s\n", strings.Join(parts, ", "))
	}

	for _, r := range result.Ranges {
		fmt.Fprintf(&b, "  - %s: %s\n", r.Range.Label, r.Result)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "  ! %v\n", e)
	}

	if ranges := stats.NonexistentRanges(); len(ranges) > 0 {
		fmt.Fprintf(&b, "存在しないID範囲: %s\n", FormatIDRanges(ranges))
	}
	b.WriteString("========================================")
	return b.String()
}

// WriteSuccessfulIDs は、取得に成功したIDをバンドごとにまとめて path に書き出します。
func WriteSuccessfulIDs(path string, ids []int, c *catalog.Catalog) error {
	grouped := make(map[string][]int)
	var order []string
	for _, id := range ids {
		band := "Unknown"
		if entry, ok := c.Lookup(id); ok {
			band = entry.Band.Name
		}
		if _, seen := grouped[band]; !seen {
			order = append(order, band)
		}
		grouped[band] = append(grouped[band], id)
	}

	var b strings.Builder
	for _, band := range order {
		list := grouped[band]
		sort.Ints(list)
		fmt.Fprintf(&b, "[%s]\n", band)
		for _, id := range list {
			fmt.Fprintln(&b, id)
		}
		b.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("成功ID一覧のディレクトリ作成に失敗しました (path=%s): %w", path, err)
	}
	if err := writeFileAtomic(path, []byte(b.String())); err != nil {
		return fmt.Errorf("成功ID一覧の書き込みに失敗しました (path=%s): %w", path, err)
	}
	return nil
}

// rangeLabel は、ログとサマリーに使うキャラクター範囲の表示名です。
func rangeLabel(entry catalog.Entry) string {
	return fmt.Sprintf("%s/%s", entry.Band.Name, entry.Character.Name)
}
