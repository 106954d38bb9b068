package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/network"

	"github.com/rs/zerolog"
)

// DefaultRetryCount は、一時的な失敗に対する再試行回数です。
const DefaultRetryCount = 2

// Outcome は、1バリアントのダウンロード結果です。
type Outcome int

const (
	OutcomeFailed     Outcome = iota // 取得または検証に失敗
	OutcomeDownloaded                // 新規に保存
	OutcomeSkipped                   // 既存ファイルが十分なサイズのため取得せず
)

// OK は、ファイルが保存先に存在する結果かどうかを返します。
func (o Outcome) OK() bool { return o == OutcomeDownloaded || o == OutcomeSkipped }

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "保存"
	case OutcomeSkipped:
		return "既存"
	default:
		return "失敗"
	}
}

// FilesystemError は、保存先の作成や書き込みに失敗したことを表します。
// ネットワークや検証の失敗とは異なり、呼び出し元へ伝播します。
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("ファイルシステムエラー (path=%s): %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Downloader は、アセットを取得・再検証し、一時ファイル経由で保存します。
type Downloader struct {
	client     *network.Client
	logger     zerolog.Logger
	speed      float64
	retryCount int
	sleep      func(time.Duration)
	jitter     func() float64

	// BytesWritten は新規保存したバイト数の合計です。単一のスキャン内でのみ更新されます。
	BytesWritten int64
}

// NewDownloader は Downloader を生成します。speed は [0.1, 5.0] に丸められます。
func NewDownloader(client *network.Client, logger zerolog.Logger, speed float64, retryCount int) *Downloader {
	if retryCount < 0 {
		retryCount = 0
	}
	return &Downloader{
		client:     client,
		logger:     logger,
		speed:      config.ClampSpeed(speed),
		retryCount: retryCount,
		sleep:      time.Sleep,
		jitter:     func() float64 { return 0.2 + rand.Float64()*0.3 },
	}
}

// pause は random(0.2, 0.5) / speed 秒待機します。
func (d *Downloader) pause() {
	d.sleep(time.Duration(d.jitter() / d.speed * float64(time.Second)))
}

// Download は url のアセットを dest に保存します。
// 既存ファイルが spec.ExistingMinBytes 以上であれば取得せず OutcomeSkipped を返します。
// error はファイルシステムの失敗時のみ返され、ネットワークや検証の失敗は OutcomeFailed になります。
func (d *Downloader) Download(ctx context.Context, url, dest string, spec *asset.Spec) (Outcome, error) {
	if info, err := os.Stat(dest); err == nil && !info.IsDir() && info.Size() >= spec.ExistingMinBytes {
		d.logger.Debug().Str("path", dest).Int64("size", info.Size()).Msg("既存ファイルのためスキップします")
		return OutcomeSkipped, nil
	}

	hdr := http.Header{}
	hdr.Set("Accept", spec.Accept)

	var body []byte
	for i := 0; i <= d.retryCount; i++ {
		if i > 0 {
			d.pause()
		}

		resp, err := d.client.Fetch(ctx, url, hdr, 0)
		if err != nil {
			var httpErr *network.HTTPError
			if errors.As(err, &httpErr) && !httpErr.IsRetryable() {
				d.logger.Warn().Int("status", httpErr.StatusCode).Str("url", url).Msg("ダウンロード失敗（リトライ不可）")
				return OutcomeFailed, nil
			}
			d.logger.Warn().Err(err).Int("attempt", i+1).Int("max", d.retryCount+1).Str("url", url).Msg("ダウンロード失敗")
			continue
		}

		if err := spec.Check(resp.Body, resp.ContentType()); err != nil {
			// 探索時と本取得時でサーバーの応答が異なる場合があるため、ここでも検証する
			d.logger.Warn().Err(err).Str("url", url).Msg("ダウンロードしたデータの検証に失敗しました")
			return OutcomeFailed, nil
		}
		body = resp.Body
		break
	}
	if body == nil {
		d.logger.Error().Str("url", url).Int("retry_count", d.retryCount).Msg("ダウンロードがリトライ上限に達しました")
		return OutcomeFailed, nil
	}

	if err := writeFileAtomic(dest, body); err != nil {
		return OutcomeFailed, err
	}
	d.BytesWritten += int64(len(body))
	d.logger.Info().Str("path", dest).Int("size", len(body)).Msg("保存しました")

	if spec.Thumbnails {
		if err := writeThumbnail(body, dest); err != nil {
			d.logger.Warn().Err(err).Str("path", dest).Msg("サムネイルの生成に失敗しました")
		}
	}

	d.pause()
	return OutcomeDownloaded, nil
}

// writeFileAtomic は、同じディレクトリの一時ファイルに書き込んでからリネームします。
// 途中で失敗しても不完全なファイルが保存先に残ることはありません。
func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FilesystemError{Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return &FilesystemError{Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return &FilesystemError{Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &FilesystemError{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FilesystemError{Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return &FilesystemError{Path: dest, Err: err}
	}
	return nil
}
