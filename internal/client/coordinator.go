package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mehmetcc/sessiongate/internal/httpx"
	"github.com/mehmetcc/sessiongate/internal/metrics"
	"github.com/mehmetcc/sessiongate/internal/session"
	"go.uber.org/zap"
)

type Endpoints struct {
	Login          string
	Logout         string
	Refresh        string
	Profile        string
	Register       string
	VerifyAccount  string
	ForgotPassword string
	ResetPassword  string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:          "/auth/login",
		Logout:         "/auth/logout",
		Refresh:        "/auth/refresh",
		Profile:        "/auth/profile",
		Register:       "/auth/register",
		VerifyAccount:  "/auth/verify-account",
		ForgotPassword: "/auth/forgot-password",
		ResetPassword:  "/auth/reset-password",
	}
}

type Config struct {
	// BaseURL is where API calls go, normally the gateway's proxy mount
	// (http://localhost:8080/api).
	BaseURL           string `validate:"required,url"`
	RefreshTimeout    time.Duration
	RefreshHintHeader string
	LoginPath         string
	Endpoints         Endpoints
}

// Navigator moves the UI somewhere else. The coordinator only ever sends it
// to the login path.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded unless it is already a []byte.
	Body   any
	Header http.Header
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

// Coordinator owns every credentialed call the client makes. It is the only
// writer of the session store.
type Coordinator struct {
	cfg      Config
	base     *url.URL
	store    *session.Store
	jar      *jar
	http     *http.Client
	nav      Navigator
	metrics  *metrics.Metrics
	logger   *zap.Logger
	validate *validator.Validate

	// exempt holds full request paths that never trigger a refresh.
	exempt map[string]struct{}

	mu     sync.Mutex
	flight *refreshFlight

	// generation counts local logouts. A refresh that started under an older
	// generation must not bring the session back.
	sessMu     sync.Mutex
	generation uint64

	loadMu  sync.Mutex
	running int
}

type Option func(*Coordinator)

func WithNavigator(n Navigator) Option {
	return func(c *Coordinator) {
		c.nav = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTransport sets the transport underneath the refresh-hint interceptor.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Coordinator) {
		c.http.Transport = rt
	}
}

func New(cfg Config, store *session.Store, opts ...Option) (*Coordinator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.RefreshHintHeader == "" {
		cfg.RefreshHintHeader = "X-Token-Expired"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	cfg.Endpoints = withDefaults(cfg.Endpoints)

	c := &Coordinator{
		cfg:      cfg,
		base:     base,
		store:    store,
		jar:      newJar(),
		nav:      NavigatorFunc(func(string) {}),
		logger:   zap.NewNop(),
		validate: v,
		http:     &http.Client{Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.exempt = map[string]struct{}{
		c.fullPath(cfg.Endpoints.Refresh): {},
		c.fullPath(cfg.Endpoints.Login):   {},
		c.fullPath(cfg.Endpoints.Logout):  {},
	}
	c.http.Jar = c.jar
	c.http.Transport = &hintInterceptor{next: c.http.Transport, c: c}
	return c, nil
}

func withDefaults(e Endpoints) Endpoints {
	d := DefaultEndpoints()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Endpoints{
		Login:          pick(e.Login, d.Login),
		Logout:         pick(e.Logout, d.Logout),
		Refresh:        pick(e.Refresh, d.Refresh),
		Profile:        pick(e.Profile, d.Profile),
		Register:       pick(e.Register, d.Register),
		VerifyAccount:  pick(e.VerifyAccount, d.VerifyAccount),
		ForgotPassword: pick(e.ForgotPassword, d.ForgotPassword),
		ResetPassword:  pick(e.ResetPassword, d.ResetPassword),
	}
}

func (c *Coordinator) Store() *session.Store { return c.store }

// Call performs a credentialed request. A 401 on anything but the refresh,
// login or logout endpoints triggers one coordinated refresh and exactly one
// retry; if that does not help the session is dropped and ErrSessionExpired
// returned. Every other status comes back as is.
func (c *Coordinator) Call(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.isExempt(c.fullPath(req.Path)) {
		return resp, nil
	}

	c.logger.Debug("unauthorized response, refreshing", zap.String("path", req.Path))
	if !c.Refresh(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		c.expire("refresh failed after 401")
		return nil, ErrSessionExpired
	}

	resp, err = c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.expire("still unauthorized after refresh")
		return nil, ErrSessionExpired
	}
	return resp, nil
}

func (c *Coordinator) do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.resolve(req.Path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(httpx.HeaderRequestID, uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// resolve joins path onto the base URL, keeping any query string in path.
func (c *Coordinator) resolve(path string) string {
	p, q, _ := strings.Cut(path, "?")
	u := *c.base
	u.Path = c.fullPath(p)
	u.RawPath = ""
	u.RawQuery = q
	return u.String()
}

func (c *Coordinator) fullPath(path string) string {
	path, _, _ = strings.Cut(path, "?")
	return c.base.Path + "/" + strings.TrimPrefix(path, "/")
}

func (c *Coordinator) isExempt(fullPath string) bool {
	_, ok := c.exempt[fullPath]
	return ok
}

// clearLocal drops everything the client knows about the session. It never
// touches the network.
func (c *Coordinator) clearLocal() {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.generation++
	c.store.SetUser(nil)
	c.jar.Reset()
}

func (c *Coordinator) currentGeneration() uint64 {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.generation
}

func (c *Coordinator) expire(reason string) {
	c.logger.Info("session expired", zap.String("reason", reason))
	c.clearLocal()
	c.nav.Navigate(c.cfg.LoginPath)
}

// track marks an action as running. The returned func must run on every exit.
func (c *Coordinator) track() (done func()) {
	c.loadMu.Lock()
	c.running++
	c.store.SetLoading(true)
	c.loadMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.loadMu.Lock()
			c.running--
			c.store.SetLoading(c.running > 0)
			c.loadMu.Unlock()
		})
	}
}
