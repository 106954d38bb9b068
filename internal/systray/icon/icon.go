// Package icon は、トレイアイコンを状態ごとの色で描画します。
package icon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"runtime"
	"sync"

	"BestdoriArchiver/internal/core"

	"github.com/disintegration/imaging"
)

const size = 32

var (
	stateColors = map[core.AppState]color.NRGBA{
		core.StateInitializing: {R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff},
		core.StateIdle:         {R: 0x4c, G: 0xaf, B: 0x50, A: 0xff},
		core.StateRunning:      {R: 0x21, G: 0x96, B: 0xf3, A: 0xff},
		core.StateStopping:     {R: 0xff, G: 0x98, B: 0x00, A: 0xff},
		core.StateError:        {R: 0xf4, G: 0x43, B: 0x36, A: 0xff},
	}

	cacheMu sync.Mutex
	cache   = make(map[core.AppState][]byte)
)

// GetIconData は、状態に対応するアイコンを返します。
// Windows ではPNGを埋め込んだICO、それ以外ではPNGです。
func GetIconData(state core.AppState) []byte {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if data, ok := cache[state]; ok {
		return data
	}

	data, err := RenderPNG(state)
	if err != nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		data = wrapICO(data)
	}
	cache[state] = data
	return data
}

// RenderPNG は、状態色の円に白い縁取りを付けた 32×32 のPNGを描画します。
func RenderPNG(state core.AppState) ([]byte, error) {
	fill, ok := stateColors[state]
	if !ok {
		fill = stateColors[core.StateInitializing]
	}

	// 4倍の解像度で描いてから縮小し、縁を滑らかにする
	const scale = 4
	big := imaging.New(size*scale, size*scale, color.NRGBA{})
	center := float64(size*scale) / 2
	outer := center - scale
	inner := outer - 2*scale
	for y := 0; y < size*scale; y++ {
		for x := 0; x < size*scale; x++ {
			dx, dy := float64(x)+0.5-center, float64(y)+0.5-center
			d := dx*dx + dy*dy
			switch {
			case d <= inner*inner:
				big.SetNRGBA(x, y, fill)
			case d <= outer*outer:
				big.SetNRGBA(x, y, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			}
		}
	}
	small := imaging.Resize(big, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrapICO は、PNGを1枚だけ含むICOコンテナを作ります。
func wrapICO(png []byte) []byte {
	var buf bytes.Buffer
	// ICONDIR
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.Write([]byte{size, size, 0, 0})
	binary.Write(&buf, binary.LittleEndian, [2]uint16{1, 32})
	binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(png)), 6 + 16})
	buf.Write(png)
	return buf.Bytes()
}

// ValidateIconData は、アイコンとして設定できるデータかを確認します。
func ValidateIconData(data []byte) error {
	if len(data) == 0 {
		return errors.New("アイコンデータが空です")
	}
	if bytes.HasPrefix(data, []byte{0, 0, 1, 0}) {
		return nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return errors.New("アイコンデータを画像として解析できません")
	}
	return nil
}
