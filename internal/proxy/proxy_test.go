package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mehmetcc/sessiongate/internal/httpx"
	"github.com/mehmetcc/sessiongate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type seen struct {
	method  string
	path    string
	query   string
	body    string
	cookies map[string]string
	header  http.Header
}

func newBackend(t *testing.T, got *seen, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.body = string(b)
		got.header = r.Header.Clone()
		got.cookies = map[string]string{}
		for _, c := range r.Cookies() {
			got.cookies[c.Name] = c.Value
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mount(t *testing.T, cfg Config, opts ...Option) http.Handler {
	t.Helper()
	p, err := NewProxy(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Mount("/api", p.Routes())
	return r
}

func TestProxy_ForwardsCredentialsOnly(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Set-Cookie", "access_token=new-access; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "refresh_token=new-refresh; Path=/; HttpOnly")
		w.Header().Set("X-Backend-Internal", "secret")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	h := mount(t, Config{BackendBaseURL: backend.URL + "/"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login?next=%2Fdashboard", strings.NewReader(`{"email":"ada@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer should-not-pass")
	req.Header.Set(httpx.HeaderDeviceID, "device-12345")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "acc"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "ref"})
	req.AddCookie(&http.Cookie{Name: "analytics", Value: "tracking-id"})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/auth/login", got.path)
	require.Equal(t, "next=%2Fdashboard", got.query)
	require.Equal(t, `{"email":"ada@example.com"}`, got.body)
	require.Equal(t, map[string]string{"access_token": "acc", "refresh_token": "ref"}, got.cookies)
	require.Empty(t, got.header.Get("Authorization"))
	require.Equal(t, "device-12345", got.header.Get(httpx.HeaderDeviceID))
	require.NotEmpty(t, got.header.Get(httpx.HeaderRequestID))
	require.Equal(t, "application/json", got.header.Get("Content-Type"))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, []string{
		"access_token=new-access; Path=/; HttpOnly",
		"refresh_token=new-refresh; Path=/; HttpOnly",
	}, rec.Header().Values("Set-Cookie"))
	require.Empty(t, rec.Header().Get("X-Backend-Internal"))
}

func TestProxy_NoCookiesNoBody(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	h := mount(t, Config{BackendBaseURL: backend.URL})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/api/auth/profile", nil))

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, method, got.method)
		require.Empty(t, got.cookies)
		require.Empty(t, got.body)
		require.Empty(t, got.header.Get("Cookie"))
	}
}

func TestProxy_BackendPathPrefix(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {})
	h := mount(t, Config{BackendBaseURL: backend.URL + "/v1"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/api/users/42", strings.NewReader("x")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/v1/users/42", got.path)
	require.Equal(t, http.MethodPatch, got.method)
}

func TestProxy_RedirectsAreNotFollowed(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	h := mount(t, Config{BackendBaseURL: backend.URL})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/oauth/start", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/elsewhere", rec.Header().Get("Location"))
	require.Equal(t, "/oauth/start", got.path)
}

func TestProxy_BackendDownIsGeneric500(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := mount(t, Config{BackendBaseURL: addr}, WithMetrics(m))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), strings.TrimPrefix(addr, "http://"))

	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, httpx.ErrInternal, env.Error.Code)
	require.Equal(t, "internal server error", env.Error.Message)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProxyFailures))
}

func TestProxy_BodyLimit(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {})
	h := mount(t, Config{BackendBaseURL: backend.URL, MaxBodyBytes: 4})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("0123456789")))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Empty(t, got.method)
}

func TestProxy_RateLimited(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {})
	h := mount(t, Config{BackendBaseURL: backend.URL, RateLimit: 1, RateWindow: time.Minute})

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestProxy_MetricsRecorded(t *testing.T) {
	var got seen
	backend := newBackend(t, &got, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	m := metrics.New(prometheus.NewRegistry())
	h := mount(t, Config{BackendBaseURL: backend.URL}, WithMetrics(m))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/items/1", strings.NewReader("{}")))

	require.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("PUT", "204")))
}

func TestNewProxy_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "backend:8080", "://nope"} {
		_, err := NewProxy(Config{BackendBaseURL: raw}, zaptest.NewLogger(t))
		require.ErrorIs(t, err, ErrInvalidBackendURL, raw)
	}
}
