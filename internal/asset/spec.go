// Package asset は、アセット種別（カード画像、アニメーション、ボイス）ごとの
// URLテンプレート、検証方法、走査パラメータをまとめた Spec を提供します。
// 探索・ダウンロードエンジンは Spec のみに依存し、種別ごとの差異はここに閉じ込めます。
package asset

import (
	"fmt"
	"strings"

	"BestdoriArchiver/internal/config"
)

// Selection は、1つのIDに対してバリアントをどう扱うかを表します。
type Selection int

const (
	// EachVariant は全バリアントをそれぞれ取得します（カードの通常/特訓後など）。
	EachVariant Selection = iota
	// FirstVariant は最初に見つかったバリアントのみを取得します（ボイスのripパッケージなど）。
	FirstVariant
)

// Variant は、1つのIDに属するサブリソースです。
// Path は {id6} を含む相対パスで、サーバーとIDからただ1つのURLに対応します。
type Variant struct {
	Name string
	Path string
	Ext  string
}

// CheckFunc は、取得したペイロードがそのアセットとして妥当かを検証します。
type CheckFunc func(body []byte, contentType string) error

// Spec は、1種類のアセットの取得方法を定義します。
type Spec struct {
	Kind      string
	Label     string
	Variants  []Variant
	Selection Selection
	Servers   []string
	Accept    string

	// HeadMinBytes は HEAD の Content-Length に対する下限です。
	HeadMinBytes int64
	// FullProbe が true の場合、探索時にも全体をGETして Check を実行します。
	FullProbe bool
	// SniffBytes が正の場合、Content-Type で判定できなければ先頭バイトを取得して Sniff します。
	SniffBytes int
	Sniff      func(head []byte) bool
	// CacheBuster が true の場合、HEAD 失敗時に ?t=<ms> を付けて1度だけ再試行します。
	CacheBuster bool

	MinPayloadBytes  int64
	ExistingMinBytes int64
	Validate         CheckFunc

	EmptyMissThreshold    int
	TrailingMissThreshold int

	DirectoryFormat string
	FilenameFormat  string
	Thumbnails      bool
}

// URL は、サーバーとIDからバリアントのURLを組み立てます。
func (s *Spec) URL(baseURL, server string, id int, v Variant) string {
	path := strings.NewReplacer("{id6}", fmt.Sprintf("%06d", id), "{id}", fmt.Sprint(id)).Replace(v.Path)
	return fmt.Sprintf("%s/assets/%s/%s", strings.TrimRight(baseURL, "/"), server, path)
}

// Check は、サイズ下限と種別固有の検証を行います。
func (s *Spec) Check(body []byte, contentType string) error {
	if int64(len(body)) < s.MinPayloadBytes {
		return fmt.Errorf("%w (size=%d, min=%d)", ErrPayloadTooSmall, len(body), s.MinPayloadBytes)
	}
	if s.Validate == nil {
		return nil
	}
	return s.Validate(body, contentType)
}

// Variant は、名前に一致するバリアントを返します。
func (s *Spec) Variant(name string) (Variant, bool) {
	for _, v := range s.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// Apply は、タスク設定による上書きを反映します。
func (s *Spec) Apply(task config.Task) {
	if len(task.Servers) > 0 {
		s.Servers = append([]string(nil), task.Servers...)
	}
	if task.EmptyMissThreshold > 0 {
		s.EmptyMissThreshold = task.EmptyMissThreshold
	}
	if task.TrailingMissThreshold > 0 {
		s.TrailingMissThreshold = task.TrailingMissThreshold
	}
	if task.DirectoryFormat != "" {
		s.DirectoryFormat = task.DirectoryFormat
	}
	if task.FilenameFormat != "" {
		s.FilenameFormat = task.FilenameFormat
	}
	if task.GenerateThumbnails && s.Kind == KindCard {
		s.Thumbnails = true
	}
}
