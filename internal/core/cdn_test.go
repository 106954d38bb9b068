package core

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/network"

	"github.com/rs/zerolog"
)

type fakeAsset struct {
	body        []byte
	contentType string
}

// fakeCDN は、/assets/{server}/... を配信するテスト用のCDNです。
type fakeCDN struct {
	mu      sync.Mutex
	assets  map[string]fakeAsset
	fail    map[string]int  // 指定回数だけ503を返す
	stale   map[string]bool // クエリなしのリクエストには404を返す
	hits    map[string]int  // "METHOD path" ごとのリクエスト数
	total   int
	server  *httptest.Server
	baseURL string
}

func newFakeCDN(t *testing.T) *fakeCDN {
	t.Helper()
	cdn := &fakeCDN{
		assets: make(map[string]fakeAsset),
		fail:   make(map[string]int),
		stale:  make(map[string]bool),
		hits:   make(map[string]int),
	}
	cdn.server = httptest.NewServer(cdn)
	cdn.baseURL = cdn.server.URL
	t.Cleanup(cdn.server.Close)
	return cdn
}

func (c *fakeCDN) put(path string, body []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets[path] = fakeAsset{body: body, contentType: contentType}
}

func (c *fakeCDN) count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[method+" "+path]
}

func (c *fakeCDN) requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// requestedWith は、path に id6 を含むリクエストがあったかを返します。
func (c *fakeCDN) requestedWith(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	needle := fmt.Sprintf("%06d", id)
	for key := range c.hits {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func (c *fakeCDN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.total++
	c.hits[r.Method+" "+r.URL.Path]++
	if c.fail[r.URL.Path] > 0 {
		c.fail[r.URL.Path]--
		c.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	a, ok := c.assets[r.URL.Path]
	if c.stale[r.URL.Path] && r.URL.RawQuery == "" {
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	body := a.body
	status := http.StatusOK
	if rng := r.Header.Get("Range"); strings.HasPrefix(rng, "bytes=0-") {
		if n, err := strconv.Atoi(strings.TrimPrefix(rng, "bytes=0-")); err == nil && n+1 < len(body) {
			body = body[:n+1]
			status = http.StatusPartialContent
		}
	}
	w.Header().Set("Content-Type", a.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

func newCDNClient(t *testing.T, cdn *fakeCDN) *network.Client {
	t.Helper()
	client, err := network.NewClient(config.NetworkSettings{
		DefaultIntervalMillis: -1,
		BaseURL:               cdn.baseURL,
		WarmupURLs:            []string{cdn.baseURL + "/"},
	})
	if err != nil {
		t.Fatalf("NewClientの作成に失敗しました: %v", err)
	}
	return client
}

func newTestDownloader(client *network.Client, retryCount int) *Downloader {
	d := NewDownloader(client, zerolog.Nop(), 5.0, retryCount)
	d.sleep = func(time.Duration) {}
	return d
}

// testSpec は、検証を最小限にした1バリアントのアセット定義です。
func testSpec() *asset.Spec {
	return &asset.Spec{
		Kind:                  "test",
		Label:                 "テスト",
		Variants:              []asset.Variant{{Name: "a", Path: "res{id6}_rip/a.bin", Ext: "bin"}},
		Selection:             asset.EachVariant,
		Servers:               []string{"jp"},
		Accept:                "*/*",
		HeadMinBytes:          4,
		MinPayloadBytes:       4,
		ExistingMinBytes:      4,
		EmptyMissThreshold:    3,
		TrailingMissThreshold: 3,
		DirectoryFormat:       "{band}/{character}",
		FilenameFormat:        "{id}_{variant}.{ext}",
	}
}

func testAssetPath(server string, id int) string {
	return fmt.Sprintf("/assets/%s/res%06d_rip/a.bin", server, id)
}

func voicePath(variant string, id int) string {
	return fmt.Sprintf("/assets/jp/sound/voice/gacha/%s_rip/res%06d.mp3", variant, id)
}

func mp3Body() []byte {
	return append([]byte("ID3\x04\x00"), bytes.Repeat([]byte{0x11}, 2043)...)
}

// noisyPNG は、圧縮されにくい w×h のPNGを返します。
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	rnd := rand.New(rand.NewSource(1))
	rnd.Read(img.Pix)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("PNGのエンコードに失敗しました: %v", err)
	}
	return buf.Bytes()
}
