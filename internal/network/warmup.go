package network

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// DefaultWarmupURLs は、Cookie取得のために最初にアクセスするページです。
var DefaultWarmupURLs = []string{
	"https://bestdori.com",
	"https://bestdori.com/info/cards",
}

// Warmup は、サイトのトップページと一覧ページにアクセスしてセッションCookieを取得します。
// 失敗は警告として記録するだけで、以降の探索は取得できたCookieのまま続行します。
// 成功したページ数を返します。
func (c *Client) Warmup(ctx context.Context, urls []string, logger zerolog.Logger) int {
	if len(urls) == 0 {
		urls = DefaultWarmupURLs
	}

	succeeded := 0
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		body, err := c.Get(ctx, u)
		if err != nil {
			logger.Warn().Err(err).Str("url", u).Msg("ウォームアップに失敗しました。続行します。")
			continue
		}
		succeeded++
		logger.Debug().
			Str("url", u).
			Str("title", pageTitle(body)).
			Int("cookies", len(c.Cookies(u))).
			Msg("ウォームアップ完了")
	}
	return succeeded
}

// pageTitle は、HTMLの<title>を取り出します。解析できない場合は空文字を返します。
func pageTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
