package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// logSink は、ログファイルへの出力を実行中に切り替えられる io.Writer です。
// 無効なときは書き込みを捨てます。
type logSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return len(p), nil
	}
	return s.file.Write(p)
}

// Toggle はログファイル出力を切り替えます。path が空なら日付ごとのファイル名を使います。
func (s *logSink) Toggle(enable bool, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if !enable {
		return nil
	}

	if path == "" {
		path = defaultLogFileName(time.Now())
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("ログファイルを開けませんでした (path=%s): %w", path, err)
	}
	s.file = f
	s.path = path
	return nil
}

// Path は、最後に開いたログファイルのパスを返します。
func (s *logSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return defaultLogFileName(time.Now())
	}
	return s.path
}

// Close はログファイルを閉じます。
func (s *logSink) Close() error {
	return s.Toggle(false, "")
}

func defaultLogFileName(now time.Time) string {
	return fmt.Sprintf("bda_%s.log", now.Format("2006-01-02"))
}

// newLogger は、コンソールには人間向けの形式、ファイルにはJSONで出力するロガーを作ります。
func newLogger(console io.Writer, file io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
		file,
	)
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
