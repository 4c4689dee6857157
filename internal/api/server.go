package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"VelocityVault/internal/config"
	"VelocityVault/internal/intent"
	"VelocityVault/internal/observability/metrics"
	"VelocityVault/internal/portfolio"
	"VelocityVault/pkg/logger"
)

// Version 为 API 版本号。
const Version = "0.0.1"

// IntentView 为 /intents 提供队列状态。
type IntentView interface {
	Stats(ctx context.Context) (intent.Stats, error)
	List(ctx context.Context, limit int, statuses ...intent.Status) ([]*intent.TradeIntent, error)
}

// Server 负责暴露 REST 接口，供前端与代理读写组合数据。
type Server struct {
	addr        string
	origins     []string
	metricsPath string
	portfolio   *portfolio.Service
	intents     IntentView
	log         *slog.Logger
	now         func() time.Time
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithIntents 启用 /intents 接口。
func WithIntents(view IntentView) Option {
	return func(s *Server) {
		s.intents = view
	}
}

// WithMetrics 在指定路径暴露 Prometheus 指标，path 为空时不暴露。
func WithMetrics(path string) Option {
	return func(s *Server) {
		s.metricsPath = path
	}
}

// NewServer 构造 API 服务实例。
func NewServer(cfg config.ServerConfig, svc *portfolio.Service, opts ...Option) *Server {
	s := &Server{
		addr:      cfg.Address,
		origins:   cfg.CORSOrigins,
		portfolio: svc,
		log:       logger.Named("api"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, metrics.Handler())
	}
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)

	r.Post("/session", s.handleCreateSession)
	r.Get("/session/{address}", s.handleGetSession)
	r.Delete("/session/{address}", s.handleRevokeSession)

	r.Post("/intent", s.handleIntent)
	r.Post("/intent/update-pnl", s.handleUpdatePnL)
	r.Get("/intents", s.handleListIntents)

	r.Route("/state/{address}", func(r chi.Router) {
		r.Get("/", s.handleState)
		r.Get("/positions", s.handlePositions)
		r.Get("/pnl", s.handlePnL)
	})

	r.Route("/logs/{address}", func(r chi.Router) {
		r.Get("/", s.handleLogs)
		r.Get("/trades", s.handleTrades)
		r.Get("/pnl-history", s.handlePnLHistory)
		r.Get("/stats", s.handleStats)
	})

	r.Post("/ens/{address}/update", s.handleUpdateENS)
	r.Post("/ens/{address}/register", s.handleRegisterENS)
	r.Get("/ens/{name}", s.handleReadENS)
	return r
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
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

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

// observe 记录请求指标与访问日志，路由使用 chi 的模式串以控制标签基数。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed)
		s.log.Debug("HTTP 请求",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
