package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
)

// --- DIAGNOSTIC HELPER: A listener that logs accepted connections ---
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf(" [WebServer DIAGNOSTIC] Connection accepted from: %s ", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// NewMux wires the status API. gatherer backs /metrics.
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	user, pass := cfg.User, cfg.Password

	mux.Handle("/api/stats", basicAuthMiddleware(http.HandlerFunc(handler.HandleStats), user, pass))
	mux.Handle("/api/recent_targets", basicAuthMiddleware(http.HandlerFunc(handler.HandleGetRecentTargets), user, pass))
	mux.Handle("/metrics", basicAuthMiddleware(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), user, pass))

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)
	return mux
}

// Server is the optional status web service.
type Server struct {
	cfg        types.WebConf
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg types.WebConf, mux http.Handler) *Server {
	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a port is configured.
func (s *Server) Enabled() bool { return s.cfg.Port > 0 }

// Start listens and serves in the background. It returns the bound address.
func (s *Server) Start() (string, error) {
	if !s.Enabled() {
		logger.Info().Msg("[WebServer] Status web service is disabled (port is 0 or not set).")
		return "", nil
	}
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start web service on %s: %w", addr, err)
	}
	s.listener = listener
	logger.Info().Msgf("SUCCESS: Status web service is listening on http://%s", listener.Addr())

	go func() {
		// Wrap the original listener with our logging listener
		if err := s.httpServer.Serve(loggingListener{Listener: listener}); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return listener.Addr().String(), nil
}

// Shutdown stops accepting requests and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
