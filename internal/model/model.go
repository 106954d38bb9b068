package model

import (
	"fmt"
	"sort"
)

// DownloadStats は、1回のスキャンで得られた結果の集計です。
// スキャン中にリセットされることはなく、並行実行時はワーカーごとに保持して最後に Merge します。
type DownloadStats struct {
	Complete    int            `json:"complete"`
	Partial     int            `json:"partial"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Nonexistent []int          `json:"nonexistent"`
	Successful  []int          `json:"successful"`
	VariantHits map[string]int `json:"variant_hits,omitempty"`
}

// RecordVariant は、バリアント単位の取得成功を記録します。
func (s *DownloadStats) RecordVariant(name string) {
	if s.VariantHits == nil {
		s.VariantHits = make(map[string]int)
	}
	s.VariantHits[name]++
}

// Found は、存在が確認されたIDの総数を返します。
func (s *DownloadStats) Found() int {
	return s.Complete + s.Partial + s.Failed
}

// Total は、存在の有無が確定したIDの総数を返します。
func (s *DownloadStats) Total() int {
	return s.Found() + len(s.Nonexistent)
}

// NonexistentRanges は、存在しなかったIDを連続区間にまとめて返します。
func (s *DownloadStats) NonexistentRanges() []IDRange {
	return MergeIDRanges(s.Nonexistent)
}

// Clone は、進捗通知用のスナップショットを返します。
func (s *DownloadStats) Clone() DownloadStats {
	c := *s
	c.Nonexistent = append([]int(nil), s.Nonexistent...)
	c.Successful = append([]int(nil), s.Successful...)
	if s.VariantHits != nil {
		c.VariantHits = make(map[string]int, len(s.VariantHits))
		for k, v := range s.VariantHits {
			c.VariantHits[k] = v
		}
	}
	return c
}

// Merge は、other の集計を s に加算します。ID一覧は昇順に整列されます。
func (s *DownloadStats) Merge(other DownloadStats) {
	s.Complete += other.Complete
	s.Partial += other.Partial
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Nonexistent = append(s.Nonexistent, other.Nonexistent...)
	s.Successful = append(s.Successful, other.Successful...)
	sort.Ints(s.Nonexistent)
	sort.Ints(s.Successful)
	for k, v := range other.VariantHits {
		if s.VariantHits == nil {
			s.VariantHits = make(map[string]int)
		}
		s.VariantHits[k] += v
	}
}

// ScanState は、1キャラクター分のID範囲を走査する際の状態です。
// チェックポイントとして永続化できるようJSONタグを持ちます。
type ScanState struct {
	CurrentID             int  `json:"current_id"`
	ConsecutiveMiss       int  `json:"consecutive_miss"`
	FoundAny              bool `json:"found_any"`
	EmptyMissThreshold    int  `json:"empty_miss_threshold"`
	TrailingMissThreshold int  `json:"trailing_miss_threshold"`
}

// ScanEnd は、範囲走査の終了状態を表すenumです。
type ScanEnd int

const (
	ScanScanning ScanEnd = iota // 走査中
	ScanStoppedEarly            // 連続ミスにより早期終了
	ScanExhausted               // 範囲末尾まで到達
	ScanCancelled               // 外部からの停止
)

// String は ScanEnd を人間可読な文字列に変換します。
func (e ScanEnd) String() string {
	switch e {
	case ScanScanning:
		return "走査中"
	case ScanStoppedEarly:
		return "早期終了"
	case ScanExhausted:
		return "範囲完了"
	case ScanCancelled:
		return "中断"
	default:
		return "不明"
	}
}

// Early stop reasons.
const (
	ReasonNoAssets  = "character likely has no assets"
	ReasonExhausted = "assumed exhausted after trailing gap"
)

// ScanResult は、範囲走査の結果です。
type ScanResult struct {
	End       ScanEnd `json:"end"`
	Reason    string  `json:"reason,omitempty"`
	LastID    int     `json:"last_id"` // 最後に処理したID。未処理なら start-1
	Processed int     `json:"processed"`
}

func (r ScanResult) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s (%s, last_id=%d)", r.End, r.Reason, r.LastID)
	}
	return fmt.Sprintf("%s (last_id=%d)", r.End, r.LastID)
}

// IDRange は、連続したIDの閉区間です。
type IDRange struct {
	Start int
	End   int
}

func (r IDRange) String() string {
	if r.Start == r.End {
		return fmt.Sprint(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// MergeIDRanges は、IDの一覧を昇順に並べ、連続する部分を区間にまとめます。重複は無視されます。
func MergeIDRanges(ids []int) []IDRange {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	ranges := []IDRange{{Start: sorted[0], End: sorted[0]}}
	for _, id := range sorted[1:] {
		last := &ranges[len(ranges)-1]
		switch {
		case id == last.End:
		case id == last.End+1:
			last.End = id
		default:
			ranges = append(ranges, IDRange{Start: id, End: id})
		}
	}
	return ranges
}
