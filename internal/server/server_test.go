package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mehmetcc/sessiongate/internal/client"
	"github.com/mehmetcc/sessiongate/internal/config"
	"github.com/mehmetcc/sessiongate/internal/session"
	"github.com/mehmetcc/sessiongate/internal/token"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func mint(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "42", ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return s
}

type backend struct {
	srv       *httptest.Server
	refreshes atomic.Int32
}

// newBackend logs users in with an already expired access token so the first
// API call through the gateway carries the refresh hint.
func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	inspector := token.NewInspector(token.DefaultSafetyMargin)
	user := `{"user":{"id":42,"email":"ada@example.com","roles":[{"name":"admin"},"editor"]}}`

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: mint(t, -time.Minute), Path: "/", HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: mint(t, time.Hour), Path: "/", HttpOnly: true})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(user))
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		c, err := r.Cookie("refresh_token")
		if err != nil || inspector.IsExpired(c.Value) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: mint(t, time.Hour), Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /auth/profile", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("access_token")
		if err != nil || inspector.IsExpired(c.Value) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(user))
	})
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login"), []byte("login page"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dashboard"), []byte("dashboard page"), 0o600))

	return &config.Config{
		AppConfig: &config.AppConfig{
			Port:            ":0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
			StaticDir:       dir,
		},
		ProxyConfig: &config.ProxyConfig{
			BackendBaseURL: backendURL,
			MountPath:      "/api",
			Timeout:        5 * time.Second,
			MaxBodyBytes:   1 << 20,
			RateWindow:     time.Minute,
		},
		CookieConfig: &config.CookieConfig{
			AccessCookieName:  "access_token",
			RefreshCookieName: "refresh_token",
		},
		RouteConfig: &config.RouteConfig{
			DefaultLocale:  "en",
			Locales:        []string{"en", "tr"},
			ProtectedPaths: []string{"/dashboard"},
			PublicPaths:    []string{"/", "/login"},
			LoginPath:      "/login",
			HomePath:       "/dashboard",
			SkipPaths:      []string{"/healthz", "/metrics"},
		},
		TokenConfig: &config.TokenConfig{
			SafetyMargin:      token.DefaultSafetyMargin,
			RefreshHintHeader: "X-Token-Expired",
		},
		ClientConfig: &config.ClientConfig{RefreshTimeout: 2 * time.Second},
	}
}

func newGateway(t *testing.T) (*httptest.Server, *backend) {
	t.Helper()
	b := newBackend(t)
	cfg := testConfig(t, b.srv.URL)
	require.NoError(t, cfg.Validate())

	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	gw := httptest.NewServer(s.Handler())
	t.Cleanup(gw.Close)
	return gw, b
}

func noFollow() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func get(t *testing.T, c *http.Client, url string, cookies ...*http.Cookie) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_PageGate(t *testing.T) {
	gw, _ := newGateway(t)
	c := noFollow()

	resp, _ := get(t, c, gw.URL+"/dashboard?tab=1")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = get(t, c, gw.URL+"/tr/dashboard")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/tr/login", resp.Header.Get("Location"))

	resp, body := get(t, c, gw.URL+"/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "login page", body)

	signedIn := &http.Cookie{Name: "access_token", Value: mint(t, time.Hour)}
	resp, _ = get(t, c, gw.URL+"/login", signedIn)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body = get(t, c, gw.URL+"/dashboard", signedIn)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "dashboard page", body)

	resp, _ = get(t, c, gw.URL+"/dashboard",
		&http.Cookie{Name: "access_token", Value: mint(t, -time.Minute)},
		&http.Cookie{Name: "refresh_token", Value: mint(t, time.Hour)},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get("X-Token-Expired"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	gw, _ := newGateway(t)
	c := noFollow()

	resp, body := get(t, c, gw.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"status":"ok"`)

	resp, body = get(t, c, gw.URL+"/session",
		&http.Cookie{Name: "access_token", Value: mint(t, -time.Minute)},
		&http.Cookie{Name: "refresh_token", Value: mint(t, time.Hour)},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"refresh_needed":true`)

	get(t, c, gw.URL+"/dashboard")
	resp, body = get(t, c, gw.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `sessiongate_gateway_decisions_total{outcome="redirect"} 1`)
	require.Contains(t, body, "go_goroutines")
}

// The coordinator talks to the backend only through the gateway's proxy;
// the gateway's hint makes it refresh before the expired token bites.
func TestServer_SessionLifecycle(t *testing.T) {
	gw, b := newGateway(t)

	var navigated []string
	store := session.NewStore()
	coord, err := client.New(client.Config{BaseURL: gw.URL + "/api"}, store,
		client.WithLogger(zaptest.NewLogger(t)),
		client.WithNavigator(client.NavigatorFunc(func(p string) { navigated = append(navigated, p) })),
	)
	require.NoError(t, err)
	ctx := context.Background()

	user, err := coord.Login(ctx, client.LoginInput{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, "42", user.ID)
	require.Equal(t, []string{"admin", "editor"}, user.Roles)

	resp, err := coord.Call(ctx, client.Request{Path: "/items"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, b.refreshes.Load(), "hint should have triggered exactly one refresh")

	user, err = coord.CheckAuth(ctx)
	require.NoError(t, err)
	require.True(t, user.HasRole("admin"))
	require.EqualValues(t, 1, b.refreshes.Load())

	coord.Logout(ctx)
	require.Nil(t, store.CurrentUser())
	require.Equal(t, []string{"/login"}, navigated)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(t, b.srv.URL)
	cfg.AppConfig.Port = "127.0.0.1:0"

	s, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
