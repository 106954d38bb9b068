// Package network は、HTTP通信に関する機能を提供します。
// Cookie Jarによるセッション管理とホストごとのレート制御をカプセル化した、
// より高レベルなHTTPクライアントを実装しています。
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"BestdoriArchiver/internal/config"

	"golang.org/x/time/rate"
)

const (
	// DefaultUserAgent はブラウザを模したUser-Agentです。
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	// DefaultBaseURL はアセット配信元のベースURLです。
	DefaultBaseURL = "https://bestdori.com"

	defaultRequestTimeout = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultInterval       = 100 * time.Millisecond
)

// DefaultHeaders は、設定で上書きされない限り全リクエストに付与されるヘッダーです。
var DefaultHeaders = map[string]string{
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	"Referer":         "https://bestdori.com/info/cards",
	"Cache-Control":   "no-cache",
}

// HTTPError は、HTTPリクエストで発生したエラーとステータスコードを保持します。
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// IsRetryable は、このエラーがリトライ可能かどうかを判定します。
// 4xxエラー（クライアントエラー）はリトライ不可、5xxエラー（サーバーエラー）はリトライ可能とします。
func (e *HTTPError) IsRetryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// Response は、デコード済みのレスポンスです。HEADの場合 Body は nil です。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Length     int64
}

// ContentLength は宣言されたボディ長を返します。不明な場合は -1 です。
func (r *Response) ContentLength() int64 {
	return r.Length
}

// ContentType は Content-Type ヘッダーの値を返します。
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Client は、Cookie Jarを内包し、HTTPセッションを管理するクライアントです。
// 1回の実行内で全ての探索とダウンロードに共有されます。
type Client struct {
	httpClient         *http.Client
	jar                *cookiejar.Jar
	userAgent          string
	defaultHeaders     map[string]string
	baseURL            string
	probeTimeout       time.Duration
	requestTimeout     time.Duration
	defaultInterval    time.Duration
	rateLimiters       map[string]*rate.Limiter // ホスト名ごとのレートリミッター
	rateLimitersMutex  sync.Mutex               // rateLimitersへのアクセスを保護するMutex
	perDomainIntervals map[string]int           // ドメインごとの設定間隔
}

// NewClient は NetworkSettings に基づいて HTTP クライアントを初期化し、
// ドメインごとのレートリミッターを設定します。
func NewClient(settings config.NetworkSettings) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jarの作成に失敗しました: %w", err)
	}

	timeout := time.Duration(settings.RequestTimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	probeTimeout := time.Duration(settings.ProbeTimeoutMillis) * time.Millisecond
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	// 個別のリクエストは context のタイムアウトで制御するため、上限として長い方を設定
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}

	rateLimiters := make(map[string]*rate.Limiter)
	for domain, intervalMillis := range settings.PerDomainIntervalMillis {
		if intervalMillis <= 0 {
			continue
		}
		rateLimiters[domain] = rate.NewLimiter(rate.Every(time.Duration(intervalMillis)*time.Millisecond), 1)
	}

	interval := defaultInterval
	switch {
	case settings.DefaultIntervalMillis < 0:
		interval = 0
	case settings.DefaultIntervalMillis > 0:
		interval = time.Duration(settings.DefaultIntervalMillis) * time.Millisecond
	}

	headers := make(map[string]string, len(DefaultHeaders)+len(settings.DefaultHeaders))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	for k, v := range settings.DefaultHeaders {
		headers[k] = v
	}

	userAgent := settings.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	baseURL := strings.TrimRight(settings.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient:         httpClient,
		jar:                jar,
		userAgent:          userAgent,
		defaultHeaders:     headers,
		baseURL:            baseURL,
		probeTimeout:       probeTimeout,
		requestTimeout:     timeout,
		defaultInterval:    interval,
		rateLimiters:       rateLimiters,
		perDomainIntervals: settings.PerDomainIntervalMillis,
	}, nil
}

// BaseURL は、アセットURLの組み立てに使うベースURLを返します。
func (c *Client) BaseURL() string { return c.baseURL }

// ProbeTimeout は、存在確認用の短いタイムアウトです。
func (c *Client) ProbeTimeout() time.Duration { return c.probeTimeout }

// RequestTimeout は、本ダウンロード用のタイムアウトです。
func (c *Client) RequestTimeout() time.Duration { return c.requestTimeout }

// SetCookie は、指定されたURLのドメインに対して、任意のCookieを設定します。
func (c *Client) SetCookie(domainURL string, cookie *http.Cookie) error {
	if !strings.HasPrefix(domainURL, "http") {
		domainURL = "https://" + domainURL
	}

	parsedURL, err := url.Parse(domainURL)
	if err != nil {
		return fmt.Errorf("Cookie設定のためのURL解析に失敗しました: %w", err)
	}

	c.jar.SetCookies(parsedURL, []*http.Cookie{cookie})
	return nil
}

// Cookies は、指定URLに対して保持しているCookieを返します。
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// Get は、設定済みのCookieを使って指定されたURLにGETリクエストを送信し、
// レスポンスボディを文字列として返します。圧縮されたページも展開されます。
func (c *Client) Get(ctx context.Context, reqURL string) (string, error) {
	hdr := http.Header{}
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	hdr.Set("Accept-Encoding", "gzip, deflate, br")
	resp, err := c.do(ctx, http.MethodGet, reqURL, hdr, c.requestTimeout)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Head は、HEADリクエストを送信します。timeout が0の場合は探索用タイムアウトを使います。
func (c *Client) Head(ctx context.Context, reqURL string, hdr http.Header, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.probeTimeout
	}
	return c.do(ctx, http.MethodHead, reqURL, hdr, timeout)
}

// Fetch は、GETリクエストを送信しボディ全体を読み込みます。timeout が0の場合は本ダウンロード用タイムアウトを使います。
func (c *Client) Fetch(ctx context.Context, reqURL string, hdr http.Header, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	return c.do(ctx, http.MethodGet, reqURL, hdr, timeout)
}

func (c *Client) do(ctx context.Context, method, reqURL string, hdr http.Header, timeout time.Duration) (*Response, error) {
	parsedURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("リクエストURLの解析に失敗しました (%s): %w", reqURL, err)
	}

	limiter := c.getLimiterForHost(parsedURL.Hostname())
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レートリミッター待機中にエラーが発生しました: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%sリクエストの作成に失敗しました (%s): %w", method, reqURL, err)
	}
	for key, value := range c.defaultHeaders {
		req.Header.Set(key, value)
	}
	for key, values := range hdr {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%sリクエストの送信に失敗しました (%s): %w", method, reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Length: resp.ContentLength}
	if method == http.MethodHead {
		return out, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み込みに失敗しました (%s): %w", reqURL, err)
	}
	out.Body = body
	return out, nil
}

// getLimiterForHost は、指定されたホスト名に対応するレートリミッターを返します。
// 存在しない場合は新しく生成します。間隔が無制限の場合は nil を返します。
func (c *Client) getLimiterForHost(host string) *rate.Limiter {
	c.rateLimitersMutex.Lock()
	defer c.rateLimitersMutex.Unlock()

	if limiter, exists := c.rateLimiters[host]; exists {
		return limiter
	}

	interval := c.defaultInterval
	if val, ok := c.perDomainIntervals[host]; ok && val > 0 {
		interval = time.Duration(val) * time.Millisecond
	}
	if interval <= 0 {
		return nil
	}

	newLimiter := rate.NewLimiter(rate.Every(interval), 1)
	c.rateLimiters[host] = newLimiter
	return newLimiter
}
