package main

import (
	"fmt"
	"io"
	"sync"

	"BestdoriArchiver/internal/core"

	"github.com/schollz/progressbar/v3"
)

// progressSink は、進捗を Monitor に記録し、範囲ごとの進捗バーを描画します。
type progressSink struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	monitor *core.Monitor
	bars    map[string]*progressbar.ProgressBar
}

func newProgressSink(out io.Writer, monitor *core.Monitor, enabled bool) *progressSink {
	return &progressSink{
		out:     out,
		enabled: enabled,
		monitor: monitor,
		bars:    make(map[string]*progressbar.ProgressBar),
	}
}

// Update は core.ProgressFunc として渡されます。
func (s *progressSink) Update(p core.Progress) {
	if s.monitor != nil {
		s.monitor.RecordProgress(p)
	}
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bar, ok := s.bars[p.RangeKey]
	if !ok {
		bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionSetDescription(p.Label),
			progressbar.OptionSetItsString("id"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		s.bars[p.RangeKey] = bar
	}
	bar.Describe(fmt.Sprintf("%s #%d 取得:%d", p.Label, p.CurrentID, len(p.Stats.Successful)))
	bar.Set(p.Processed)
}

// Finish は、全ての進捗バーを閉じます。早期終了した範囲のバーは途中のまま改行されます。
func (s *progressSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, bar := range s.bars {
		bar.Exit()
		delete(s.bars, key)
	}
}
