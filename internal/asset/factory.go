package asset

import (
	"fmt"
	"sort"
)

// Kinds.
const (
	KindCard      = "card"
	KindAnimation = "animation"
	KindVoice     = "voice"
)

const (
	CardWidth  = 1334
	CardHeight = 1002
)

// DefaultServers は、探索するサーバーの既定の順序です。
var DefaultServers = []string{"jp", "en", "tw", "cn", "kr"}

// specRegistry は、種別名と Spec 生成関数のマッピングを保持します。
var specRegistry = map[string]func() *Spec{
	KindCard:      NewCardSpec,
	KindAnimation: NewAnimationSpec,
	KindVoice:     NewVoiceSpec,
}

// GetSpec は、指定された種別に対応する Spec の新しいインスタンスを返します。
// 呼び出し側はタスク設定に応じて自由に書き換えて構いません。
func GetSpec(kind string) (*Spec, error) {
	factory, ok := specRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("アセット種別 '%s' に対応する定義が見つかりません", kind)
	}
	return factory(), nil
}

// Kinds は、登録済みの種別名を返します。
func Kinds() []string {
	kinds := make([]string, 0, len(specRegistry))
	for k := range specRegistry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewCardSpec は、カード画像（通常/特訓後）の定義です。
func NewCardSpec() *Spec {
	return &Spec{
		Kind:  KindCard,
		Label: "カード",
		Variants: []Variant{
			{Name: "normal", Path: "characters/resourceset/res{id6}_rip/card_normal.png", Ext: "png"},
			{Name: "trained", Path: "characters/resourceset/res{id6}_rip/card_after_training.png", Ext: "png"},
		},
		Selection:             EachVariant,
		Servers:               append([]string(nil), DefaultServers...),
		Accept:                "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
		HeadMinBytes:          100,
		FullProbe:             true,
		MinPayloadBytes:       1024,
		ExistingMinBytes:      100000,
		Validate:              ImageCheck(CardWidth, CardHeight),
		EmptyMissThreshold:    8,
		TrailingMissThreshold: 8,
		DirectoryFormat:       "{band}/{character}",
		FilenameFormat:        "{id}_{variant}.{ext}",
	}
}

// NewAnimationSpec は、アニメーションエピソード動画の定義です。
func NewAnimationSpec() *Spec {
	return &Spec{
		Kind:  KindAnimation,
		Label: "アニメーション",
		Variants: []Variant{
			{Name: "clip", Path: "movie/animation_episode/mov{id6}_rip/mov{id6}.mp4", Ext: "mp4"},
		},
		Selection:             EachVariant,
		Servers:               append([]string(nil), DefaultServers...),
		Accept:                "video/mp4,video/*;q=0.9,*/*;q=0.8",
		HeadMinBytes:          10240,
		MinPayloadBytes:       10240,
		ExistingMinBytes:      10240,
		Validate:              VideoCheck,
		EmptyMissThreshold:    3,
		TrailingMissThreshold: 3,
		DirectoryFormat:       "{band}/{character}",
		FilenameFormat:        "{id}_{variant}.{ext}",
	}
}

// NewVoiceSpec は、ガチャボイスの定義です。ripパッケージは先に見つかったものを採用します。
func NewVoiceSpec() *Spec {
	variants := make([]Variant, 0, 4)
	for _, rip := range []string{"limitedspin", "limited", "operationspin", "spin"} {
		variants = append(variants, Variant{
			Name: rip,
			Path: "sound/voice/gacha/" + rip + "_rip/res{id6}.mp3",
			Ext:  "mp3",
		})
	}
	return &Spec{
		Kind:                  KindVoice,
		Label:                 "ボイス",
		Variants:              variants,
		Selection:             FirstVariant,
		Servers:               []string{"jp"},
		Accept:                "audio/mpeg,audio/*;q=0.9,*/*;q=0.8",
		HeadMinBytes:          512,
		SniffBytes:            16,
		Sniff:                 LooksLikeMP3,
		CacheBuster:           true,
		MinPayloadBytes:       512,
		ExistingMinBytes:      1024,
		Validate:              AudioCheck,
		EmptyMissThreshold:    15,
		TrailingMissThreshold: 15,
		DirectoryFormat:       "{band}/{short}/{short}_mp3",
		FilenameFormat:        "res{id6}.{ext}",
	}
}
