package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sloghttp "github.com/samber/slog-http"

	"SonicPilot/internal/assistant"
	"SonicPilot/internal/auth"
	"SonicPilot/internal/observability/metrics"
	"SonicPilot/pkg/logger"
)

const (
	defaultCookieName = "sonicpilot_session"
	defaultTokenLimit = 6
	maxBodyBytes      = 64 << 10
)

// HealthCheck 探测一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Server 负责暴露向导 REST 接口。
type Server struct {
	addr         string
	assistant    *assistant.Service
	metrics      *metrics.Metrics
	checks       map[string]HealthCheck
	cookieName   string
	secureCookie bool
	perMinute    int
	burst        int
	tokenLimit   int
	logger       *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 暴露 /metrics 并记录请求指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck 注册 /healthz 中的一个依赖探测。
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// WithSessionCookie 设置会话 Cookie 名称及 Secure 标记。
func WithSessionCookie(name string, secure bool) Option {
	return func(s *Server) {
		if name != "" {
			s.cookieName = name
		}
		s.secureCookie = secure
	}
}

// WithRateLimit 按客户端 IP 限制每分钟请求数，perMinute <= 0 时不限流。
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Server) {
		s.perMinute = perMinute
		s.burst = burst
	}
}

// WithTokenLimit 设置 /api/v1/tokens 默认返回的条数。
func WithTokenLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.tokenLimit = limit
		}
	}
}

// WithLogger 替换访问日志使用的 logger。
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *assistant.Service, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		assistant:  svc,
		checks:     make(map[string]HealthCheck),
		cookieName: defaultCookieName,
		tokenLimit: defaultTokenLimit,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装路由与中间件。
func (s *Server) Handler() http.Handler {
	identified := auth.Middleware(auth.MiddlewareConfig{})

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/wizards", s.instrument("wizards", http.HandlerFunc(s.handleListFlows)))
	mux.Handle("GET /api/v1/wizards/{flow}", s.instrument("wizard_current", identified(http.HandlerFunc(s.handleCurrent))))
	mux.Handle("POST /api/v1/wizards/{flow}/actions", s.instrument("wizard_action", identified(http.HandlerFunc(s.handleAction))))
	mux.Handle("GET /api/v1/launches", s.instrument("launches", identified(http.HandlerFunc(s.handleLaunches))))
	mux.Handle("GET /api/v1/tokens", s.instrument("tokens", http.HandlerFunc(s.handleTokens)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = mux
	if s.perMinute > 0 {
		handler = newRateLimiter(s.perMinute, s.burst).middleware(handler)
	}
	handler = sloghttp.New(s.logger)(handler)
	return sloghttp.Recovery(handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("HTTP 服务已启动", slog.String("addr", s.addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 记录每个路由的状态码与耗时。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
