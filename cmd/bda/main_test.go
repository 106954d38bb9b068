package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/core"
)

func TestParseYesNo(t *testing.T) {
	cases := []struct {
		in   string
		def  bool
		want bool
	}{
		{"y\n", false, true},
		{" YES ", false, true},
		{"n", true, false},
		{"いいえ", true, false},
		{"", true, true},
		{"???", false, false},
	}
	for _, c := range cases {
		if got := parseYesNo(c.in, c.def); got != c.want {
			t.Errorf("parseYesNo(%q, %v) = %v, 期待値 %v", c.in, c.def, got, c.want)
		}
	}
}

func TestResumeModeFromFlags(t *testing.T) {
	if _, err := resumeModeFromFlags(true, true); err == nil {
		t.Error("--resume と --fresh の同時指定がエラーになりませんでした")
	}
	if mode, _ := resumeModeFromFlags(true, false); mode != resumeAlways {
		t.Errorf("--resume の解釈が期待値と異なります: %v", mode)
	}
	if mode, _ := resumeModeFromFlags(false, true); mode != resumeNever {
		t.Errorf("--fresh の解釈が期待値と異なります: %v", mode)
	}
}

func TestNewResumeFunc_Prompt(t *testing.T) {
	// Arrange
	saved := &core.RunState{TaskName: "cards", LastID: 1005, SuccessfulIDs: []int{1001, 1002}, SavedAt: time.Now()}
	var out bytes.Buffer

	// Act
	declined := newResumeFunc(resumeAsk, strings.NewReader("n\n"), &out, true)(saved)
	accepted := newResumeFunc(resumeAsk, strings.NewReader("\n"), &out, true)(saved)
	noTTY := newResumeFunc(resumeAsk, strings.NewReader("n\n"), &out, false)(saved)

	// Assert
	if declined {
		t.Error("n と回答したのに再開されました")
	}
	if !accepted {
		t.Error("空の回答で再開されませんでした")
	}
	if !noTTY {
		t.Error("端末でない場合は確認せずに再開する必要があります")
	}
	if !strings.Contains(out.String(), "cards") || !strings.Contains(out.String(), "1005") {
		t.Errorf("プロンプトにタスク名と再開位置が含まれていません: %s", out.String())
	}
}

func TestSelectTasks(t *testing.T) {
	disabled := false
	app := &application{cfg: &config.Config{Tasks: []config.Task{
		{TaskName: "cards", AssetKind: "card"},
		{TaskName: "voices", AssetKind: "voice", Enabled: &disabled},
	}}}

	tasks, err := app.selectTasks("")
	if err != nil || len(tasks) != 1 || tasks[0].TaskName != "cards" {
		t.Errorf("有効なタスクだけが選ばれていません: %+v, err=%v", tasks, err)
	}
	tasks, err = app.selectTasks("voices")
	if err != nil || len(tasks) != 1 {
		t.Errorf("名前指定では無効なタスクも選べる必要があります: %+v, err=%v", tasks, err)
	}
	if _, err := app.selectTasks("missing"); err == nil {
		t.Error("存在しないタスク名でエラーになりませんでした")
	}
}

func TestLogSink_Toggle(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "bda.log")
	sink := &logSink{}
	var console bytes.Buffer
	logger := newLogger(&console, sink, "info")

	// Act
	logger.Info().Msg("出力されない")
	if err := sink.Toggle(true, path); err != nil {
		t.Fatalf("Toggleが予期せぬエラーを返しました: %v", err)
	}
	logger.Info().Str("task", "cards").Msg("ファイルに出力")
	logger.Debug().Msg("レベル未満")
	sink.Close()
	logger.Info().Msg("閉じた後")

	// Assert
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ログファイルを読めません: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `"task":"cards"`) {
		t.Errorf("ログファイルにJSONで出力されていません: %s", got)
	}
	if strings.Contains(got, "出力されない") || strings.Contains(got, "閉じた後") || strings.Contains(got, "レベル未満") {
		t.Errorf("無効な間のログがファイルに出力されています: %s", got)
	}
	if !strings.Contains(console.String(), "閉じた後") {
		t.Error("コンソールへの出力が失われています")
	}
	if sink.Path() != path {
		t.Errorf("Path() = %s, 期待値 %s", sink.Path(), path)
	}
}
