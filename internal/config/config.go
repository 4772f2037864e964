package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type AppConfig struct {
	Port            string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	IdleTimeout     time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	StaticDir       string
}

type ProxyConfig struct {
	BackendBaseURL string        `validate:"required,url"`
	MountPath      string        `validate:"required,startswith=/"`
	Timeout        time.Duration `validate:"gt=0"`
	MaxBodyBytes   int64         `validate:"gt=0"`
	RateLimit      int           `validate:"gte=0"`
	RateWindow     time.Duration `validate:"gt=0"`
	AllowedOrigins []string
}

type CookieConfig struct {
	AccessCookieName  string `validate:"required"`
	RefreshCookieName string `validate:"required"`
}

type RouteConfig struct {
	DefaultLocale  string   `validate:"required,len=2"`
	Locales        []string `validate:"dive,len=2"`
	ProtectedPaths []string `validate:"dive,startswith=/"`
	PublicPaths    []string `validate:"dive,startswith=/"`
	LoginPath      string   `validate:"required,startswith=/"`
	HomePath       string   `validate:"required,startswith=/"`
	SkipPaths      []string `validate:"dive,startswith=/"`
}

type TokenConfig struct {
	SafetyMargin      time.Duration `validate:"gte=0"`
	RefreshHintHeader string        `validate:"required"`
}

type ClientConfig struct {
	RefreshTimeout time.Duration `validate:"gt=0"`
}

type Config struct {
	AppConfig    *AppConfig
	ProxyConfig  *ProxyConfig
	CookieConfig *CookieConfig
	RouteConfig  *RouteConfig
	TokenConfig  *TokenConfig
	ClientConfig *ClientConfig
}

func loadEnvFile(logger *zap.Logger, envFile string) {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.Warn("failed to load env file, using process environment", zap.String("file", envFile), zap.Error(err))
	}
}

// LoadConfig reads envFile (when present) into the process environment and
// builds the configuration from it. A missing env file is not an error.
func LoadConfig(logger *zap.Logger, envFile string) (*Config, error) {
	loadEnvFile(logger, envFile)

	var errs error
	p := envParser{errs: &errs}

	/** app config */
	appConfig := &AppConfig{
		Port:            normalizePort(p.str("APP_PORT", "8080")),
		ReadTimeout:     p.duration("APP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    p.duration("APP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     p.duration("APP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: p.duration("APP_SHUTDOWN_TIMEOUT", 5*time.Second),
		StaticDir:       p.str("APP_STATIC_DIR", ""),
	}

	/** proxy config */
	proxyConfig := &ProxyConfig{
		BackendBaseURL: strings.TrimRight(p.str("BACKEND_BASE_URL", ""), "/"),
		MountPath:      p.str("PROXY_MOUNT_PATH", "/api"),
		Timeout:        p.duration("PROXY_TIMEOUT", 30*time.Second),
		MaxBodyBytes:   p.int64("PROXY_MAX_BODY_BYTES", 10<<20),
		RateLimit:      int(p.int64("PROXY_RATE_LIMIT", 300)),
		RateWindow:     p.duration("PROXY_RATE_WINDOW", time.Minute),
		AllowedOrigins: p.list("CORS_ALLOWED_ORIGINS", nil),
	}

	/** cookie config */
	cookieConfig := &CookieConfig{
		AccessCookieName:  p.str("ACCESS_COOKIE_NAME", "access_token"),
		RefreshCookieName: p.str("REFRESH_COOKIE_NAME", "refresh_token"),
	}

	routeConfig := parseRouteConfig(p)
	tokenConfig := parseTokenConfig(p)
	clientConfig := parseClientConfig(p)

	if errs != nil {
		logger.Error("invalid environment configuration", zap.Error(errs))
		return nil, errs
	}

	cfg := &Config{
		AppConfig:    appConfig,
		ProxyConfig:  proxyConfig,
		CookieConfig: cookieConfig,
		RouteConfig:  routeConfig,
		TokenConfig:  tokenConfig,
		ClientConfig: clientConfig,
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// LoadClientConfig is LoadConfig for processes that only act as a session
// client. Only the route, token and client groups are read, so no backend
// address is required.
func LoadClientConfig(logger *zap.Logger, envFile string) (*Config, error) {
	loadEnvFile(logger, envFile)

	var errs error
	p := envParser{errs: &errs}
	cfg := &Config{
		RouteConfig:  parseRouteConfig(p),
		TokenConfig:  parseTokenConfig(p),
		ClientConfig: parseClientConfig(p),
	}
	if errs != nil {
		logger.Error("invalid environment configuration", zap.Error(errs))
		return nil, errs
	}
	if err := validateGroups(cfg.RouteConfig, cfg.TokenConfig, cfg.ClientConfig); err != nil {
		logger.Error("configuration validation failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

func parseRouteConfig(p envParser) *RouteConfig {
	return &RouteConfig{
		DefaultLocale:  strings.ToLower(p.str("DEFAULT_LOCALE", "pl")),
		Locales:        lower(p.list("LOCALES", []string{"pl", "en"})),
		ProtectedPaths: p.list("PROTECTED_PATHS", []string{"/dashboard"}),
		PublicPaths: p.list("PUBLIC_PATHS", []string{
			"/", "/login", "/register", "/forgot-password", "/reset-password", "/verify-account",
		}),
		LoginPath: p.str("LOGIN_PATH", "/login"),
		HomePath:  p.str("HOME_PATH", "/dashboard"),
		SkipPaths: p.list("GATEWAY_SKIP_PATHS", []string{
			"/healthz", "/metrics", "/static/", "/_next/", "/favicon.ico",
		}),
	}
}

func parseTokenConfig(p envParser) *TokenConfig {
	return &TokenConfig{
		SafetyMargin:      p.duration("TOKEN_SAFETY_MARGIN", 30*time.Second),
		RefreshHintHeader: p.str("REFRESH_HINT_HEADER", "X-Token-Expired"),
	}
}

func parseClientConfig(p envParser) *ClientConfig {
	return &ClientConfig{
		RefreshTimeout: p.duration("REFRESH_TIMEOUT", 10*time.Second),
	}
}

// Validate checks every config group against its struct tags.
func (c *Config) Validate() error {
	return validateGroups(c.AppConfig, c.ProxyConfig, c.CookieConfig, c.RouteConfig, c.TokenConfig, c.ClientConfig)
}

func validateGroups(groups ...any) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	var errs error
	for _, group := range groups {
		if err := v.Struct(group); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

type envParser struct {
	errs *error
}

func (p envParser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p envParser) duration(key string, def time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = multierr.Append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p envParser) int64(key string, def int64) int64 {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*p.errs = multierr.Append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p envParser) list(key string, def []string) []string {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func lower(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = strings.ToLower(item)
	}
	return out
}
