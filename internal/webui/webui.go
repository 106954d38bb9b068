// Package webui は、実行状況を確認するためのローカルのステータスページを提供します。
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"BestdoriArchiver/internal/core"

	"github.com/rs/zerolog"
)

//go:embed embed/*
var embeddedAssets embed.FS

// Server は、127.0.0.1 の空きポートで待ち受けるステータスページです。
type Server struct {
	monitor *core.Monitor
	stop    func()
	logger  zerolog.Logger

	mu     sync.Mutex // server と port を保護します
	server *http.Server
	port   int
}

// New は Server を生成します。stop は /api/stop への POST で呼ばれます。
func New(monitor *core.Monitor, stop func(), logger zerolog.Logger) *Server {
	return &Server{monitor: monitor, stop: stop, logger: logger}
}

// Handler は、ステータスページとAPIのルーティングを返します。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stop", s.handleStop)

	staticFS, err := fs.Sub(embeddedAssets, "embed/static")
	if err == nil {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		indexHTML, err := embeddedAssets.ReadFile("embed/index.html")
		if err != nil {
			s.logger.Error().Err(err).Msg("index.htmlの読み込みに失敗しました")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexHTML)
	})
	return mux
}

// Start は、サーバーが未起動なら起動し、ページのURLを返します。
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return s.url(), nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("ステータスページの待ち受けに失敗しました: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Minute,
	}
	s.server = server

	go func() {
		s.logger.Info().Int("port", s.port).Msg("ステータスページを起動しました")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("ステータスページが異常終了しました")
			s.mu.Lock()
			s.server = nil
			s.mu.Unlock()
		}
	}()
	return s.url(), nil
}

// Open は、サーバーを起動して既定のブラウザでページを開きます。
func (s *Server) Open() error {
	url, err := s.Start()
	if err != nil {
		return err
	}
	if err := OpenBrowser(url); err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("ブラウザの起動に失敗しました。手動でURLを開いてください。")
	}
	return nil
}

// Shutdown はサーバーを停止します。起動していなければ何もしません。
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) url() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// handleStatus は /api/status へのリクエストを処理します。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "許可されていないメソッドです"}`, http.StatusMethodNotAllowed)
		return
	}
	if err := json.NewEncoder(w).Encode(s.monitor.Snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("状態JSONのエンコードに失敗しました")
	}
}

// handleStop は実行中のタスクに停止を要求します。状態は保存され、次回再開できます。
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "許可されていないメソッドです"}`, http.StatusMethodNotAllowed)
		return
	}
	if !s.monitor.Snapshot().IsRunning {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message": "実行中のタスクはありません"}`))
		return
	}
	s.logger.Info().Msg("ステータスページから停止要求を受信しました")
	if s.stop != nil {
		s.stop()
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"message": "停止を要求しました"}`))
}

// OpenBrowser はOSのデフォルトブラウザでURLを開きます。
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default: // Linux, BSDなど
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ブラウザの起動コマンドの実行に失敗しました: %w", err)
	}
	return nil
}
