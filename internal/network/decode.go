package network

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// readBody は、Content-Encoding に従ってレスポンスボディを展開して読み込みます。
// Accept-Encoding を明示した場合、net/http は自動展開を行わないため、ここで処理します。
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzipの展開に失敗しました: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		r = fl
	default:
		return nil, fmt.Errorf("未対応のContent-Encodingです: %s", resp.Header.Get("Content-Encoding"))
	}

	return io.ReadAll(r)
}
