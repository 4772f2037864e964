package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mehmetcc/sessiongate/internal/auth"
	"github.com/mehmetcc/sessiongate/internal/config"
	"github.com/mehmetcc/sessiongate/internal/gateway"
	"github.com/mehmetcc/sessiongate/internal/httpx"
	"github.com/mehmetcc/sessiongate/internal/metrics"
	"github.com/mehmetcc/sessiongate/internal/proxy"
	"github.com/mehmetcc/sessiongate/internal/route"
	"github.com/mehmetcc/sessiongate/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"moul.io/chizap"
)

type Server struct {
	cfg     *config.Config
	router  chi.Router
	metrics *metrics.Metrics
	logger  *zap.Logger
	http    *http.Server
}

// New wires gateway, proxy, session status, health and metrics onto one router.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	inspector := token.NewInspector(cfg.TokenConfig.SafetyMargin)
	classifier := route.NewClassifier(route.Config{
		ProtectedPaths: cfg.RouteConfig.ProtectedPaths,
		PublicPaths:    cfg.RouteConfig.PublicPaths,
		Locales:        cfg.RouteConfig.Locales,
		DefaultLocale:  cfg.RouteConfig.DefaultLocale,
		LoginPath:      cfg.RouteConfig.LoginPath,
		HomePath:       cfg.RouteConfig.HomePath,
	})
	gw := gateway.New(gateway.Config{
		AccessCookieName:  cfg.CookieConfig.AccessCookieName,
		RefreshCookieName: cfg.CookieConfig.RefreshCookieName,
		RefreshHintHeader: cfg.TokenConfig.RefreshHintHeader,
		SkipPaths:         cfg.RouteConfig.SkipPaths,
	}, classifier, inspector, m, logger.Named("gateway"))

	px, err := proxy.NewProxy(proxy.Config{
		BackendBaseURL:    cfg.ProxyConfig.BackendBaseURL,
		AccessCookieName:  cfg.CookieConfig.AccessCookieName,
		RefreshCookieName: cfg.CookieConfig.RefreshCookieName,
		Timeout:           cfg.ProxyConfig.Timeout,
		MaxBodyBytes:      cfg.ProxyConfig.MaxBodyBytes,
		RateLimit:         cfg.ProxyConfig.RateLimit,
		RateWindow:        cfg.ProxyConfig.RateWindow,
		AllowedOrigins:    cfg.ProxyConfig.AllowedOrigins,
	}, logger.Named("proxy"), proxy.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("build proxy: %w", err)
	}

	/** router */
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(chizap.New(logger, &chizap.Opts{
		WithReferer:   true,
		WithUserAgent: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(gw.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Mount("/session", auth.NewStatusHandler(inspector,
		cfg.CookieConfig.AccessCookieName,
		cfg.CookieConfig.RefreshCookieName,
		logger.Named("session"),
	).Routes())
	r.Mount(cfg.ProxyConfig.MountPath, px.Routes())
	r.Handle("/*", pages(cfg.AppConfig.StaticDir))

	s := &Server{
		cfg:     cfg,
		router:  r,
		metrics: m,
		logger:  logger,
	}
	s.http = &http.Server{
		Addr:         cfg.AppConfig.Port,
		Handler:      r,
		ReadTimeout:  cfg.AppConfig.ReadTimeout,
		WriteTimeout: cfg.AppConfig.WriteTimeout,
		IdleTimeout:  cfg.AppConfig.IdleTimeout,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.AppConfig.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// pages stands in for the page renderer: static files when a directory is
// configured, a JSON 404 otherwise.
func pages(dir string) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(w, http.StatusNotFound, httpx.ErrorResponse[any]{
				Code:    httpx.ErrNotFound,
				Message: "no page renderer configured",
			})
		})
	}
	return http.FileServer(http.Dir(dir))
}
