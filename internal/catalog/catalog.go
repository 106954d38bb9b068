// Package catalog は、バンドとキャラクターのID範囲を保持する参照データを提供します。
// 走査対象のID範囲と保存先フォルダ名の決定にのみ使用され、実行中に変更されることはありません。
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed character_list.json
var defaultCharacterList []byte

// IDRange は、キャラクターに割り当てられたリソースIDの閉区間です。
type IDRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains は、id が範囲内かどうかを返します。
func (r IDRange) Contains(id int) bool {
	return id >= r.Start && id <= r.End
}

// Character は、1人のキャラクターの情報です。
type Character struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Nickname    string   `json:"nickname"`
	Aliases     []string `json:"aliases,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
	IDRange     IDRange  `json:"id_range"`
}

// Band は、バンドとその所属キャラクターです。
type Band struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	FolderName string      `json:"folder_name,omitempty"`
	Members    []Character `json:"members"`
}

// Folder は、保存先に使うバンドのフォルダ名を返します。
func (b Band) Folder() string {
	if b.FolderName != "" {
		return b.FolderName
	}
	return b.Name
}

// Entry は、Lookup の結果として返されるバンドとキャラクターの組です。
type Entry struct {
	Band      Band
	Character Character
}

// Catalog は、character_list.json 全体を表します。
type Catalog struct {
	Groups []Band `json:"groups"`

	entries []Entry // ID範囲の開始順
}

// Default は、埋め込みのキャラクター一覧を返します。
func Default() *Catalog {
	c, err := Parse(defaultCharacterList)
	if err != nil {
		panic(fmt.Sprintf("埋め込みキャラクター一覧が不正です: %v", err))
	}
	return c
}

// Load は、path のキャラクター一覧を読み込みます。path が空の場合は埋め込みの一覧を返します。
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("キャラクター一覧の読み込みに失敗しました (path=%s): %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("キャラクター一覧の解析に失敗しました (path=%s): %w", path, err)
	}
	return c, nil
}

// Parse は、groups[].members[] 形式のJSONを解析します。
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	for _, band := range c.Groups {
		for _, member := range band.Members {
			if member.IDRange.Start <= 0 || member.IDRange.End < member.IDRange.Start {
				return nil, fmt.Errorf("キャラクター '%s' のID範囲が不正です (start=%d, end=%d)", member.Name, member.IDRange.Start, member.IDRange.End)
			}
			c.entries = append(c.entries, Entry{Band: band, Character: member})
		}
	}
	sort.Slice(c.entries, func(i, j int) bool {
		return c.entries[i].Character.IDRange.Start < c.entries[j].Character.IDRange.Start
	})
	return &c, nil
}

// Lookup は、リソースIDに対応するバンドとキャラクターを返します。
func (c *Catalog) Lookup(id int) (Entry, bool) {
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Character.IDRange.End >= id
	})
	if i < len(c.entries) && c.entries[i].Character.IDRange.Contains(id) {
		return c.entries[i], true
	}
	return Entry{}, false
}

// Characters は、全キャラクターをID範囲順に返します。
func (c *Catalog) Characters() []Entry {
	return append([]Entry(nil), c.entries...)
}

// ResolveNicknames は、ニックネームまたは別名の一覧をキャラクターに解決します。
// 大文字小文字は区別せず、重複を除いて入力順を保ちます。解決できなかった名前は unknown に返されます。
func (c *Catalog) ResolveNicknames(names []string) (resolved []Entry, unknown []string) {
	index := make(map[string]int, len(c.entries)*2)
	for i, e := range c.entries {
		index[strings.ToLower(e.Character.Nickname)] = i
		index[strings.ToLower(e.Character.Name)] = i
		for _, alias := range e.Character.Aliases {
			index[strings.ToLower(alias)] = i
		}
	}

	seen := make(map[int]bool)
	for _, raw := range names {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			unknown = append(unknown, raw)
			continue
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		resolved = append(resolved, c.entries[i])
	}
	return resolved, unknown
}
