package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"BestdoriArchiver/internal/core"

	"golang.org/x/term"
)

// resumeMode は、保存済みの実行状態をどう扱うかを表します。
type resumeMode int

const (
	resumeAsk resumeMode = iota
	resumeAlways
	resumeNever
)

// resumeModeFromFlags は、--resume と --fresh の組み合わせから再開方法を決めます。
func resumeModeFromFlags(resume, fresh bool) (resumeMode, error) {
	switch {
	case resume && fresh:
		return resumeAsk, errors.New("--resume と --fresh は同時に指定できません")
	case resume:
		return resumeAlways, nil
	case fresh:
		return resumeNever, nil
	}
	return resumeAsk, nil
}

// newResumeFunc は、再開するかどうかを決める core.ResumeFunc を返します。
// resumeAsk で標準入力が端末でない場合は、確認せずに再開します。
func newResumeFunc(mode resumeMode, in io.Reader, out io.Writer, interactive bool) core.ResumeFunc {
	var mu sync.Mutex
	reader := bufio.NewReader(in)
	return func(saved *core.RunState) bool {
		switch mode {
		case resumeAlways:
			return true
		case resumeNever:
			return false
		}
		if !interactive {
			return true
		}

		// 並行タスクのプロンプトが混ざらないようにする
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "タスク '%s' の中断された実行が見つかりました (ID %d, 取得済み %d件, 保存日時 %s)。\n",
			saved.TaskName, saved.LastID, len(saved.SuccessfulIDs), saved.SavedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprint(out, "再開しますか? [Y/n]: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return true
		}
		return parseYesNo(line, true)
	}
}

// parseYesNo は、y/n の回答を解釈します。空や不明な回答は def を返します。
func parseYesNo(answer string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "はい":
		return true
	case "n", "no", "いいえ":
		return false
	}
	return def
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
