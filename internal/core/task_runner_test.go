package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/model"

	"github.com/rs/zerolog"
)

func voiceTask(root string) config.Task {
	return config.Task{
		TaskName:              "Tomorin Voice",
		AssetKind:             "voice",
		SaveRootDirectory:     root,
		StartID:               36001,
		EndID:                 36010,
		EmptyMissThreshold:    3,
		TrailingMissThreshold: 3,
		DownloadSpeed:         5.0,
		EnableResumeSupport:   true,
	}
}

func newTestDeps(t *testing.T, cdn *fakeCDN) Deps {
	t.Helper()
	return Deps{
		Config: &config.Config{
			Network:       config.NetworkSettings{WarmupURLs: []string{cdn.baseURL + "/"}},
			StateFilePath: filepath.Join(t.TempDir(), "bda_state.json"),
		},
		Catalog: catalog.Default(),
		Logger:  zerolog.Nop(),
		Client:  newCDNClient(t, cdn),
	}
}

func taskStatePath(deps Deps, task config.Task) string {
	return StatePathForTask(deps.Config.StateFilePath, task.TaskName)
}

func putVoices(cdn *fakeCDN, ids ...int) {
	for _, id := range ids {
		cdn.put(voicePath("limitedspin", id), mp3Body(), "audio/mpeg")
	}
}

func TestExecuteTask_NoDownloadRootFailsBeforeNetwork(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	deps := newTestDeps(t, cdn)
	task := voiceTask("")

	// Act
	result, err := ExecuteTask(context.Background(), deps, task, nil)

	// Assert
	if !errors.Is(err, config.ErrNoDownloadRoot) {
		t.Fatalf("ErrNoDownloadRoot が返されるはずです: %v", err)
	}
	if result != nil {
		t.Error("エラー時に結果が返されました")
	}
	if cdn.requests() != 0 {
		t.Errorf("保存先の確認前にネットワークへアクセスしました: %d件", cdn.requests())
	}
}

func TestExecuteTask_EndToEnd(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	putVoices(cdn, 36001, 36002, 36005)
	deps := newTestDeps(t, cdn)
	root := t.TempDir()
	task := voiceTask(root)
	var updates int

	// Act
	result, err := ExecuteTask(context.Background(), deps, task, func(Progress) { updates++ })

	// Assert
	if err != nil {
		t.Fatalf("ExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	if !reflect.DeepEqual(result.Stats.Successful, []int{36001, 36002, 36005}) {
		t.Errorf("成功IDが期待値と異なります: %v", result.Stats.Successful)
	}
	if !reflect.DeepEqual(result.Stats.Nonexistent, []int{36003, 36004, 36006, 36007, 36008}) {
		t.Errorf("存在しないIDが期待値と異なります: %v", result.Stats.Nonexistent)
	}
	if result.End != model.ScanStoppedEarly {
		t.Errorf("早期終了になるはずです: %s", result.End)
	}
	if updates != 8 {
		t.Errorf("進捗通知の回数が期待値と異なります: %d", updates)
	}
	if _, err := os.Stat(filepath.Join(root, "MyGO!!!!!", "tomorin", "tomorin_mp3", "res036005.mp3")); err != nil {
		t.Errorf("ボイスファイルが保存されていません: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, SuccessfulIDsFile)); err != nil {
		t.Errorf("成功ID一覧が保存されていません: %v", err)
	}
	if _, err := os.Stat(taskStatePath(deps, task)); !os.IsNotExist(err) {
		t.Error("完了した実行の状態ファイルが残っています")
	}
	if result.BytesWritten != int64(3*len(mp3Body())) {
		t.Errorf("保存バイト数が期待値と異なります: %d", result.BytesWritten)
	}
}

func TestExecuteTask_CancelPersistsStateAndResumes(t *testing.T) {
	// Arrange
	cdn := newFakeCDN(t)
	putVoices(cdn, 36001, 36002, 36005)
	deps := newTestDeps(t, cdn)
	task := voiceTask(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act: 36001 の処理後に停止する
	first, err := ExecuteTask(ctx, deps, task, func(p Progress) {
		if p.CurrentID == 36001 {
			cancel()
		}
	})

	// Assert
	if err != nil {
		t.Fatalf("ExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	if first.End != model.ScanCancelled {
		t.Fatalf("中断になるはずです: %s", first.End)
	}
	saved, err := LoadRunState(taskStatePath(deps, task))
	if err != nil || saved == nil {
		t.Fatalf("状態ファイルが保存されていません: %v", err)
	}
	if saved.LastID != 36002 || saved.RunID != first.RunID {
		t.Errorf("保存された状態が期待値と異なります: last_id=%d run_id=%s", saved.LastID, saved.RunID)
	}

	// Act: 再開する
	var asked bool
	deps.Resume = func(*RunState) bool { asked = true; return true }
	second, err := ExecuteTask(context.Background(), deps, task, nil)

	// Assert
	if err != nil {
		t.Fatalf("再開したExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	if !asked || !second.Resumed || second.RunID != first.RunID {
		t.Errorf("保存状態から再開されていません: asked=%v resumed=%v", asked, second.Resumed)
	}
	if !reflect.DeepEqual(second.Stats.Successful, []int{36001, 36002, 36005}) {
		t.Errorf("再開後の成功IDが期待値と異なります: %v", second.Stats.Successful)
	}
	if n := cdn.count("GET", voicePath("limitedspin", 36001)); n != 1 {
		t.Errorf("再開時に処理済みIDが再取得されました: GET %d回", n)
	}
	if _, err := os.Stat(taskStatePath(deps, task)); !os.IsNotExist(err) {
		t.Error("完了後に状態ファイルが削除されていません")
	}
}

func TestExecuteTask_DiscardsMismatchedState(t *testing.T) {
	cdn := newFakeCDN(t)
	putVoices(cdn, 36001)
	deps := newTestDeps(t, cdn)
	task := voiceTask(t.TempDir())
	other := &RunState{RunID: "old", TaskName: "Tomorin Voice", AssetKind: "voice", StartID: 36001, EndID: 36999}
	if err := SaveRunState(taskStatePath(deps, task), other); err != nil {
		t.Fatal(err)
	}

	result, err := ExecuteTask(context.Background(), deps, task, nil)

	if err != nil {
		t.Fatalf("ExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	if result.Resumed || result.RunID == "old" {
		t.Error("範囲の異なる状態から再開されました")
	}
}

func TestExecuteTask_TasksKeepSeparateStates(t *testing.T) {
	// Arrange: 同じ実行の中で2つのタスクが同じキャンセル済みコンテキストで動く
	cdn := newFakeCDN(t)
	putVoices(cdn, 36001, 36002, 36005)
	deps := newTestDeps(t, cdn)
	first := voiceTask(t.TempDir())
	second := voiceTask(t.TempDir())
	second.TaskName = "Other Voice"
	second.StartID, second.EndID = 36011, 36020
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act: 1つ目は 36001 の処理後に停止し、2つ目は停止後に開始される
	firstRun, err := ExecuteTask(ctx, deps, first, func(p Progress) {
		if p.CurrentID == 36001 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("ExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	secondRun, err := ExecuteTask(ctx, deps, second, nil)
	if err != nil {
		t.Fatalf("2つ目のExecuteTaskが予期せぬエラーを返しました: %v", err)
	}

	// Assert
	if firstRun.End != model.ScanCancelled || secondRun.End != model.ScanCancelled {
		t.Fatalf("両方のタスクが中断になるはずです: %s, %s", firstRun.End, secondRun.End)
	}
	if taskStatePath(deps, first) == taskStatePath(deps, second) {
		t.Fatalf("タスクごとの状態ファイルが同じパスです: %s", taskStatePath(deps, first))
	}
	savedSecond, err := LoadRunState(taskStatePath(deps, second))
	if err != nil || savedSecond == nil || savedSecond.TaskName != "Other Voice" {
		t.Errorf("2つ目のタスクの状態が保存されていません: %+v, err=%v", savedSecond, err)
	}

	// Act: 1つ目のタスクを再開する
	deps.Resume = func(*RunState) bool { return true }
	resumed, err := ExecuteTask(context.Background(), deps, first, nil)

	// Assert
	if err != nil {
		t.Fatalf("再開したExecuteTaskが予期せぬエラーを返しました: %v", err)
	}
	if !resumed.Resumed || resumed.RunID != firstRun.RunID {
		t.Errorf("1つ目のタスクの保存状態が失われました: resumed=%v", resumed.Resumed)
	}
	if !reflect.DeepEqual(resumed.Stats.Successful, []int{36001, 36002, 36005}) {
		t.Errorf("再開後の成功IDが期待値と異なります: %v", resumed.Stats.Successful)
	}
	if _, err := os.Stat(taskStatePath(deps, second)); err != nil {
		t.Errorf("1つ目のタスクの完了で2つ目のタスクの状態が消えました: %v", err)
	}
}

func TestLoadResumable_IgnoresOtherTaskState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bda_state.json")
	other := &RunState{RunID: "other", TaskName: "Other Voice", AssetKind: "voice", StartID: 36011, EndID: 36020}
	if err := SaveRunState(path, other); err != nil {
		t.Fatal(err)
	}

	got := loadResumable(path, voiceTask(""), 36001, 36010, nil, zerolog.Nop())

	if got != nil {
		t.Error("別のタスクの状態から再開されました")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("別のタスクの状態が削除されました: %v", err)
	}
}

func TestStatePathForTask(t *testing.T) {
	cases := []struct {
		base, task, want string
	}{
		{"", "Tomorin Voice", "bda_state.Tomorin Voice.json"},
		{filepath.Join("state", "run.json"), "cards", filepath.Join("state", "run.cards.json")},
		{"state", "a/b", "state.a_b.json"},
	}
	for _, c := range cases {
		if got := StatePathForTask(c.base, c.task); got != c.want {
			t.Errorf("StatePathForTask(%q, %q) = %q, 期待値 %q", c.base, c.task, got, c.want)
		}
	}
}

func TestBuildRanges(t *testing.T) {
	cat := catalog.Default()

	t.Run("characters clipped by explicit ids", func(t *testing.T) {
		task := config.Task{Characters: []string{"Kasumi", "nobody", "tae"}, StartID: 1500, EndID: 2100}
		ranges, unknown, err := BuildRanges(task, cat)
		if err != nil {
			t.Fatalf("BuildRangesが予期せぬエラーを返しました: %v", err)
		}
		if len(ranges) != 2 || ranges[0].Start != 1500 || ranges[0].End != 2000 || ranges[1].Start != 2001 || ranges[1].End != 2100 {
			t.Errorf("範囲が期待値と異なります: %+v", ranges)
		}
		if !reflect.DeepEqual(unknown, []string{"nobody"}) {
			t.Errorf("不明な名前が期待値と異なります: %v", unknown)
		}
	})

	t.Run("explicit ids only", func(t *testing.T) {
		ranges, _, err := BuildRanges(config.Task{StartID: 36001}, cat)
		if err != nil || len(ranges) != 1 || ranges[0].End != 37000 {
			t.Errorf("既定の範囲は start+999 のはずです: %+v, %v", ranges, err)
		}
	})

	t.Run("all characters", func(t *testing.T) {
		ranges, _, err := BuildRanges(config.Task{}, cat)
		if err != nil || len(ranges) != len(cat.Characters()) {
			t.Errorf("全キャラクターの範囲になるはずです: %d, %v", len(ranges), err)
		}
	})

	t.Run("no overlap", func(t *testing.T) {
		_, _, err := BuildRanges(config.Task{Characters: []string{"kasumi"}, StartID: 5000, EndID: 5001}, cat)
		if !errors.Is(err, ErrNoRanges) {
			t.Errorf("ErrNoRanges が返されるはずです: %v", err)
		}
	})
}
