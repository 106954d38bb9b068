package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	ErrPayloadTooSmall       = errors.New("ペイロードが小さすぎます")
	ErrUnexpectedContentType = errors.New("Content-Typeが想定と異なります")
	ErrResolutionMismatch    = errors.New("画像の解像度が想定と異なります")
	ErrSignatureMismatch     = errors.New("ファイルシグネチャが想定と異なります")
	ErrUndecodableImage      = errors.New("画像として解析できません")
)

// ImageCheck は、Content-Type が image/* で、かつ解像度が width×height の画像のみを受け付けます。
// CDNが同じパスでプレースホルダー画像を返す場合への対策です。
func ImageCheck(width, height int) CheckFunc {
	return func(body []byte, contentType string) error {
		if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
			return fmt.Errorf("%w (content_type=%s)", ErrUnexpectedContentType, contentType)
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUndecodableImage, err)
		}
		if cfg.Width != width || cfg.Height != height {
			return fmt.Errorf("%w (format=%s, got=%dx%d, want=%dx%d)", ErrResolutionMismatch, format, cfg.Width, cfg.Height, width, height)
		}
		return nil
	}
}

// AudioCheck は、Content-Type が audio/* であるか、先頭バイトがMP3として妥当なものを受け付けます。
func AudioCheck(body []byte, contentType string) error {
	if strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return nil
	}
	if LooksLikeMP3(body) {
		return nil
	}
	return fmt.Errorf("%w (content_type=%s)", ErrSignatureMismatch, contentType)
}

// LooksLikeMP3 は、ID3タグまたはMPEGフレーム同期パターンで始まるかを判定します。
func LooksLikeMP3(head []byte) bool {
	if len(head) >= 3 && string(head[:3]) == "ID3" {
		return true
	}
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

// VideoCheck は、MP4の ftyp ボックスを持つペイロードのみを受け付けます。
func VideoCheck(body []byte, contentType string) error {
	if len(body) >= 8 && string(body[4:8]) == "ftyp" {
		return nil
	}
	return fmt.Errorf("%w (content_type=%s)", ErrSignatureMismatch, contentType)
}
