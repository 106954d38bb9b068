package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/network"

	"github.com/rs/zerolog"
)

// Prober は、1つのサーバー・ID・バリアントについてアセットの存在を確認します。
// HTTP 200 でもプレースホルダーやエラーページが返ることがあるため、
// Content-Length、先頭バイト、解像度まで確認してから Exists と判定します。
type Prober struct {
	client *network.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewProber は Prober を生成します。
func NewProber(client *network.Client, logger zerolog.Logger) *Prober {
	return &Prober{client: client, logger: logger, now: time.Now}
}

// Probe は、アセットが存在すれば true を返します。ネットワークエラーや検証失敗は全て Absent(false) です。
func (p *Prober) Probe(ctx context.Context, spec *asset.Spec, server string, id int, v asset.Variant) bool {
	url := spec.URL(p.client.BaseURL(), server, id, v)
	hdr := http.Header{}
	hdr.Set("Accept", spec.Accept)

	head, err := p.client.Head(ctx, url, hdr, 0)
	if err != nil && spec.CacheBuster {
		// CDNのキャッシュが古い404を返すことがあるため、クエリを付けて1度だけ再確認
		head, err = p.client.Head(ctx, fmt.Sprintf("%s?t=%d", url, p.now().UnixMilli()), hdr, 0)
	}
	if err != nil {
		p.logger.Debug().Err(err).Str("server", server).Int("id", id).Str("variant", v.Name).Msg("HEAD失敗")
		return false
	}

	if n := head.ContentLength(); n >= 0 && n < spec.HeadMinBytes {
		p.logger.Debug().Int64("content_length", n).Int64("min", spec.HeadMinBytes).Str("url", url).Msg("Content-Lengthが下限未満です")
		return false
	}

	if spec.FullProbe {
		resp, err := p.client.Fetch(ctx, url, hdr, p.client.ProbeTimeout())
		if err != nil {
			p.logger.Debug().Err(err).Str("url", url).Msg("探索GET失敗")
			return false
		}
		if err := spec.Check(resp.Body, resp.ContentType()); err != nil {
			p.logger.Debug().Err(err).Str("url", url).Msg("探索時の検証に失敗しました")
			return false
		}
		return true
	}

	if spec.SniffBytes > 0 && spec.Sniff != nil {
		if strings.HasPrefix(strings.ToLower(head.ContentType()), "audio/") {
			return true
		}
		rangeHdr := hdr.Clone()
		rangeHdr.Set("Range", fmt.Sprintf("bytes=0-%d", spec.SniffBytes-1))
		resp, err := p.client.Fetch(ctx, url, rangeHdr, p.client.ProbeTimeout())
		if err != nil {
			p.logger.Debug().Err(err).Str("url", url).Msg("先頭バイトの取得に失敗しました")
			return false
		}
		if !spec.Sniff(resp.Body) {
			p.logger.Debug().Str("url", url).Str("content_type", resp.ContentType()).Msg("先頭バイトが想定と異なります")
			return false
		}
	}

	return true
}
