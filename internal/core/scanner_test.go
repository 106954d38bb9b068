package core

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/model"

	"github.com/rs/zerolog"
)

func newTestScanner(t *testing.T, cdn *fakeCDN, root string) *Scanner {
	t.Helper()
	client := newCDNClient(t, cdn)
	resolver := NewResolver(NewProber(client, zerolog.Nop()))
	return NewScanner(testSpec(), resolver, newTestDownloader(client, 0), NewPathResolver(root, catalog.Default()), client.BaseURL(), zerolog.Nop())
}

func TestScanRange_EndToEnd(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	for _, id := range []int{1001, 1002, 1005, 1010} {
		cdn.put(testAssetPath("jp", id), []byte("payload"), "application/octet-stream")
	}
	root := t.TempDir()
	scanner := newTestScanner(t, cdn, root)
	rng := Range{Key: "kasumi", Label: "Poppin'Party/Kasumi", Start: 1001, End: 1010}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats
	var progressIDs []int

	// Act
	res, err := scanner.ScanRange(context.Background(), rng, state, &stats, func(p Progress) {
		progressIDs = append(progressIDs, p.CurrentID)
	})

	// Assert
	if err != nil {
		t.Fatalf("ScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanStoppedEarly || res.Reason != model.ReasonExhausted {
		t.Errorf("終了状態が期待値と異なります: %s", res)
	}
	if !reflect.DeepEqual(stats.Successful, []int{1001, 1002, 1005}) {
		t.Errorf("成功IDが期待値と異なります: %v", stats.Successful)
	}
	if !reflect.DeepEqual(stats.Nonexistent, []int{1003, 1004, 1006, 1007, 1008}) {
		t.Errorf("存在しないIDが期待値と異なります: %v", stats.Nonexistent)
	}
	if stats.Complete != 3 {
		t.Errorf("Completeが3ではありません: %d", stats.Complete)
	}
	for _, id := range []int{1009, 1010} {
		if cdn.requestedWith(id) {
			t.Errorf("早期終了後のID %d にリクエストが送られました", id)
		}
	}
	if len(progressIDs) != 8 {
		t.Errorf("進捗通知はIDごとに1回のはずです: %v", progressIDs)
	}
	if _, err := os.Stat(filepath.Join(root, "Poppin'Party", "Kasumi", "1005_a.bin")); err != nil {
		t.Errorf("ダウンロードしたファイルが見つかりません: %v", err)
	}
	if state.CurrentID != 1009 {
		t.Errorf("次に処理すべきIDが 1009 ではありません: %d", state.CurrentID)
	}
}

func TestScanRange_StopsWhenNoAssetsFound(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	scanner := newTestScanner(t, cdn, t.TempDir())
	rng := Range{Key: "tae", Label: "Poppin'Party/Tae", Start: 2001, End: 2100}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats

	// Act
	res, err := scanner.ScanRange(context.Background(), rng, state, &stats, nil)

	// Assert
	if err != nil {
		t.Fatalf("ScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanStoppedEarly || res.Reason != model.ReasonNoAssets {
		t.Errorf("終了状態が期待値と異なります: %s", res)
	}
	if res.LastID != 2003 {
		t.Errorf("最後に処理したIDが期待値と異なります: %d", res.LastID)
	}
	if cdn.requestedWith(2004) {
		t.Error("閾値を超えたIDにリクエストが送られました")
	}
	if len(stats.Successful) != 0 {
		t.Errorf("成功IDがあってはなりません: %v", stats.Successful)
	}
}

func TestScanRange_ExhaustsRange(t *testing.T) {
	cdn := newFakeCDN(t)
	for id := 1001; id <= 1004; id++ {
		cdn.put(testAssetPath("jp", id), []byte("payload"), "application/octet-stream")
	}
	scanner := newTestScanner(t, cdn, t.TempDir())
	rng := Range{Key: "kasumi", Start: 1001, End: 1004}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats

	res, err := scanner.ScanRange(context.Background(), rng, state, &stats, nil)

	if err != nil {
		t.Fatalf("ScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanExhausted || res.LastID != 1004 || res.Processed != 4 {
		t.Errorf("範囲完了になるはずです: %s (processed=%d)", res, res.Processed)
	}
}

func TestScanRange_CancelAndResume(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	for _, id := range []int{1001, 1002, 1003} {
		cdn.put(testAssetPath("jp", id), []byte("payload"), "application/octet-stream")
	}
	scanner := newTestScanner(t, cdn, t.TempDir())
	rng := Range{Key: "kasumi", Start: 1001, End: 1010}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act: 1002 の処理後に停止要求を出す
	res, err := scanner.ScanRange(ctx, rng, state, &stats, func(p Progress) {
		if p.CurrentID == 1002 {
			cancel()
		}
	})

	// Assert
	if err != nil {
		t.Fatalf("ScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanCancelled {
		t.Fatalf("中断になるはずです: %s", res)
	}
	if state.CurrentID != 1003 {
		t.Errorf("再開位置が 1003 ではありません: %d", state.CurrentID)
	}
	if cdn.requestedWith(1003) {
		t.Error("停止要求後に新しいIDの処理が開始されました")
	}

	// Act: 保存した状態から再開する
	res, err = scanner.ScanRange(context.Background(), rng, state, &stats, nil)

	// Assert
	if err != nil {
		t.Fatalf("再開後のScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanStoppedEarly {
		t.Errorf("再開後は早期終了になるはずです: %s", res)
	}
	if !reflect.DeepEqual(stats.Successful, []int{1001, 1002, 1003}) {
		t.Errorf("成功IDが期待値と異なります: %v", stats.Successful)
	}
	if n := cdn.count("GET", testAssetPath("jp", 1001)); n != 1 {
		t.Errorf("再開時に処理済みIDが再取得されました: GET %d回", n)
	}
}

func TestScanRange_UnmappedIDIsSkipped(t *testing.T) {
	cdn := newFakeCDN(t)
	scanner := newTestScanner(t, cdn, t.TempDir())
	rng := Range{Key: "gap", Start: 999, End: 1000}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats

	res, err := scanner.ScanRange(context.Background(), rng, state, &stats, nil)

	if err != nil {
		t.Fatalf("ScanRangeが予期せぬエラーを返しました: %v", err)
	}
	if res.End != model.ScanExhausted || res.Processed != 2 {
		t.Errorf("対応しないIDはスキップして範囲を完了するはずです: %s", res)
	}
	if state.ConsecutiveMiss != 0 || len(stats.Nonexistent) != 0 {
		t.Errorf("対応しないIDが連続ミスとして数えられました: miss=%d", state.ConsecutiveMiss)
	}
	if cdn.requests() != 0 {
		t.Errorf("対応しないIDにリクエストが送られました: %d件", cdn.requests())
	}
}

func TestScanRange_FilesystemErrorStopsCharacter(t *testing.T) {
	// Arrange: バンドのディレクトリと同名のファイルを置いて作成を失敗させる
	cdn := newFakeCDN(t)
	cdn.put(testAssetPath("jp", 1001), []byte("payload"), "application/octet-stream")
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Poppin'Party"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	scanner := newTestScanner(t, cdn, root)
	rng := Range{Key: "kasumi", Start: 1001, End: 1010}
	state := NewScanState(scanner.spec, rng.Start)
	var stats model.DownloadStats
	var updates []Progress

	// Act
	res, err := scanner.ScanRange(context.Background(), rng, state, &stats, func(p Progress) { updates = append(updates, p) })

	// Assert
	if err == nil {
		t.Fatal("ファイルシステムエラーが返されませんでした")
	}
	if len(updates) != 1 || updates[0].CurrentID != 1001 || updates[0].Processed != 1 {
		t.Errorf("失敗したIDの進捗が通知されていません: %+v", updates)
	}
	if res.End != model.ScanStoppedEarly {
		t.Errorf("早期終了になるはずです: %s", res)
	}
	if state.CurrentID != 1001 {
		t.Errorf("失敗したIDから再開できるはずです: %d", state.CurrentID)
	}
}
