package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/mehmetcc/sessiongate/internal/httpx"
	"github.com/mehmetcc/sessiongate/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	BackendBaseURL    string
	AccessCookieName  string
	RefreshCookieName string
	Timeout           time.Duration
	MaxBodyBytes      int64
	RateLimit         int
	RateWindow        time.Duration
	AllowedOrigins    []string
}

// Proxy forwards API calls to the backend carrying only the two credential
// cookies, and relays the backend's answer (including Set-Cookie) unchanged.
type Proxy interface {
	Forward(w http.ResponseWriter, r *http.Request)
	Routes() chi.Router
}

type proxy struct {
	cfg     Config
	base    string
	client  *http.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*proxy)

// WithTransport swaps the backend transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *proxy) {
		p.client.Transport = rt
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *proxy) {
		p.metrics = m
	}
}

func NewProxy(cfg Config, logger *zap.Logger, opts ...Option) (Proxy, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BackendBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBackendURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidBackendURL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AccessCookieName == "" {
		cfg.AccessCookieName = "access_token"
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = "refresh_token"
	}

	p := &proxy{
		cfg:  cfg,
		base: u.String(),
		client: &http.Client{
			// Redirects belong to the browser, not to us.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *proxy) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   p.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", httpx.HeaderDeviceID, httpx.HeaderDeviceName, httpx.HeaderPlatform, httpx.HeaderAppVersion},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if p.cfg.RateLimit > 0 {
		r.Use(httprate.Limit(p.cfg.RateLimit, p.cfg.RateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.WriteError(w, http.StatusTooManyRequests, httpx.ErrorResponse[any]{
					Code:    httpx.ErrTooManyRequests,
					Message: "too many requests",
				})
			}),
		))
	}

	r.Get("/*", p.Forward)
	r.Post("/*", p.Forward)
	r.Put("/*", p.Forward)
	r.Delete("/*", p.Forward)
	r.Patch("/*", p.Forward)
	return r
}

func (p *proxy) Forward(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Timeout)
	defer cancel()

	tracer := otel.Tracer("credential-proxy")
	ctx, span := tracer.Start(ctx, "proxy.Forward")
	defer span.End()

	target := p.targetURL(r)
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("proxy.path", chi.URLParam(r, "*")),
	)

	/** read inbound body */
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, p.cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				p.logger.Warn("proxy request body too large", zap.Int64("limit", tooLarge.Limit))
				httpx.WriteError(w, http.StatusRequestEntityTooLarge, httpx.ErrorResponse[any]{
					Code:    httpx.ErrPayloadTooLarge,
					Message: "request body too large",
				})
				return
			}
			p.fail(w, span, "failed to read request body", err)
			return
		}
	}

	/** build outbound request */
	out, err := http.NewRequestWithContext(ctx, r.Method, target, bodyReader(body))
	if err != nil {
		p.fail(w, span, "failed to build backend request", err)
		return
	}
	p.copyRequestHeaders(r, out)

	/** round trip */
	start := time.Now()
	resp, err := p.client.Do(out)
	if err != nil {
		p.fail(w, span, "backend request failed", err, zap.String("target", target))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.fail(w, span, "failed to read backend response", err, zap.String("target", target))
		return
	}
	p.metrics.ObserveProxy(r.Method, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	/** relay */
	for _, h := range relayedResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	for _, c := range resp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", c)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		p.logger.Debug("client went away while relaying response", zap.Error(err))
	}
}

var relayedRequestHeaders = []string{"Content-Type", "Accept", "Accept-Language"}

var relayedResponseHeaders = []string{"Content-Type", "Cache-Control", "Location"}

// copyRequestHeaders sends an allow-listed subset. The inbound Cookie header
// is never forwarded; only the two credential cookies are rebuilt.
func (p *proxy) copyRequestHeaders(in, out *http.Request) {
	for _, h := range relayedRequestHeaders {
		if v := in.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}
	httpx.DeviceMetaFromRequest(in).Apply(out.Header)

	reqID := middleware.GetReqID(in.Context())
	if reqID == "" {
		reqID = uuid.NewString()
	}
	out.Header.Set(httpx.HeaderRequestID, reqID)

	for _, name := range []string{p.cfg.AccessCookieName, p.cfg.RefreshCookieName} {
		if c, err := in.Cookie(name); err == nil && c.Value != "" {
			out.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

func (p *proxy) targetURL(r *http.Request) string {
	rest := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	target := p.base + "/" + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func (p *proxy) fail(w http.ResponseWriter, span trace.Span, msg string, err error, fields ...zap.Field) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	p.metrics.IncProxyFailure()
	p.logger.Error(msg, append(fields, zap.Error(err))...)
	httpx.WriteInternal(w)
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(body)
}
