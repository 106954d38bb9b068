package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/catalog"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// ErrUnmappedID は、リソースIDに対応するキャラクターが見つからない場合に返されます。
// 呼び出し側はそのIDをスキップし、警告を記録します。
var ErrUnmappedID = errors.New("IDに対応するキャラクターが見つかりません")

const maxComponentLength = 255

const illegalChars = `<>:"/\|?*`

// SanitizeComponent は、パスの1要素をファイルシステムで安全な名前に変換します。
// 禁止文字とその全角形、制御文字は '_' に置換され、前後の空白とドットは除去されます。
func SanitizeComponent(name string) string {
	name = norm.NFC.String(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7F || isIllegalRune(r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimFunc(b.String(), func(r rune) bool {
		return unicode.IsSpace(r) || r == '.'
	})

	if utf8.RuneCountInString(out) > maxComponentLength {
		runes := []rune(out)
		out = strings.TrimRightFunc(string(runes[:maxComponentLength]), func(r rune) bool {
			return unicode.IsSpace(r) || r == '.'
		})
	}
	if out == "" {
		return "_"
	}
	return out
}

func isIllegalRune(r rune) bool {
	if strings.ContainsRune(illegalChars, r) {
		return true
	}
	if r < utf8.RuneSelf {
		return false
	}
	// 全角形（＜ ＞ ： ＂ ／ ＼ ｜ ？ ＊）は半角に畳み込んで判定
	narrow := width.Narrow.String(string(r))
	return len(narrow) == 1 && strings.ContainsRune(illegalChars, rune(narrow[0]))
}

// PathResolver は、リソースIDとバリアントから保存先のパスを決定します。
type PathResolver struct {
	root    string
	catalog *catalog.Catalog
}

// NewPathResolver は、root を保存先ルートとする PathResolver を返します。
func NewPathResolver(root string, c *catalog.Catalog) *PathResolver {
	return &PathResolver{root: root, catalog: c}
}

// Root は保存先ルートを返します。
func (p *PathResolver) Root() string { return p.root }

// Lookup は、IDに対応するバンドとキャラクターを返します。
func (p *PathResolver) Lookup(id int) (catalog.Entry, error) {
	entry, ok := p.catalog.Lookup(id)
	if !ok {
		return catalog.Entry{}, fmt.Errorf("%w (id=%d)", ErrUnmappedID, id)
	}
	return entry, nil
}

// Resolve は、spec の DirectoryFormat / FilenameFormat を展開し、サニタイズ済みの保存先パスを返します。
func (p *PathResolver) Resolve(spec *asset.Spec, id int, v asset.Variant) (string, error) {
	entry, err := p.Lookup(id)
	if err != nil {
		return "", err
	}

	r := strings.NewReplacer(
		"{band}", SanitizeComponent(entry.Band.Folder()),
		"{character}", SanitizeComponent(entry.Character.Name),
		"{short}", SanitizeComponent(entry.Character.Nickname),
		"{id6}", fmt.Sprintf("%06d", id),
		"{id}", fmt.Sprint(id),
		"{variant}", SanitizeComponent(v.Name),
		"{ext}", v.Ext,
	)

	dirFormat := spec.DirectoryFormat
	if dirFormat == "" {
		dirFormat = "{band}/{character}"
	}
	fileFormat := spec.FilenameFormat
	if fileFormat == "" {
		fileFormat = "{id}_{variant}.{ext}"
	}

	parts := []string{p.root}
	for _, seg := range strings.Split(r.Replace(dirFormat), "/") {
		if seg == "" {
			continue
		}
		parts = append(parts, SanitizeComponent(seg))
	}
	parts = append(parts, SanitizeComponent(r.Replace(fileFormat)))
	return filepath.Join(parts...), nil
}
