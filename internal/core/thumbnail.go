package core

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	thumbWidth  = 320
	thumbHeight = 240
)

// thumbnailPath は、保存先と同じ階層の thumbs/ 以下のJPEGパスを返します。
func thumbnailPath(dest string) string {
	base := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
	return filepath.Join(filepath.Dir(dest), "thumbs", base+".jpg")
}

// writeThumbnail は、画像を縦横比を保って縮小し thumbs/ に保存します。
func writeThumbnail(data []byte, dest string) error {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("サムネイル用の画像デコードに失敗しました: %w", err)
	}
	thumb := imaging.Fit(img, thumbWidth, thumbHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("サムネイルのエンコードに失敗しました: %w", err)
	}
	return writeFileAtomic(thumbnailPath(dest), buf.Bytes())
}
