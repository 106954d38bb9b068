package core

import (
	"testing"

	"BestdoriArchiver/internal/model"
)

func TestMonitor_TracksProgressAndSession(t *testing.T) {
	// Arrange
	m := NewMonitor()
	updates := m.Subscribe()

	// Act
	m.SetState(StateRunning, "Kasumi Cards")
	m.RecordProgress(Progress{RangeKey: "kasumi", CurrentID: 1005, Processed: 5, Total: 1000})
	m.RecordResult(&TaskResult{Stats: model.DownloadStats{Successful: []int{1001, 1002}}, BytesWritten: 2 * 1024 * 1024})

	// Assert
	snap := m.Snapshot()
	if !snap.IsRunning || snap.StateLabel != "実行中" {
		t.Errorf("実行中の状態になっていません: %+v", snap)
	}
	if len(snap.Progress) != 1 || snap.Progress[0].CurrentID != 1005 {
		t.Errorf("進捗が記録されていません: %+v", snap.Progress)
	}
	if len(updates) != 2 {
		t.Errorf("購読者への通知回数が期待値と異なります: %d", len(updates))
	}
	if got := (<-updates).State; got != StateRunning {
		t.Errorf("最初の通知が実行中ではありません: %s", got)
	}
	if m.session.FilesDownloaded != 2 || m.session.TotalBytesWritten != 2*1024*1024 {
		t.Errorf("セッション統計が更新されていません: %+v", m.session)
	}
}
