package gateway

import (
	"net/http"
	"strings"

	"github.com/mehmetcc/sessiongate/internal/metrics"
	"github.com/mehmetcc/sessiongate/internal/route"
	"github.com/mehmetcc/sessiongate/internal/token"
	"go.uber.org/zap"
)

type Outcome int

const (
	Skip Outcome = iota
	PassThrough
	PassThroughWithRefreshHint
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass"
	case PassThroughWithRefreshHint:
		return "pass_with_hint"
	case Redirect:
		return "redirect"
	default:
		return "skip"
	}
}

type Decision struct {
	Outcome Outcome
	Target  string
}

type Config struct {
	AccessCookieName  string
	RefreshCookieName string
	RefreshHintHeader string
	SkipPaths         []string
}

// Gateway decides, per request and from cookies alone, whether a page load
// may proceed. It never refreshes tokens; at most it tells the client to.
type Gateway struct {
	cfg        Config
	classifier *route.Classifier
	inspector  *token.Inspector
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(cfg Config, classifier *route.Classifier, inspector *token.Inspector, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if cfg.AccessCookieName == "" {
		cfg.AccessCookieName = "access_token"
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = "refresh_token"
	}
	if cfg.RefreshHintHeader == "" {
		cfg.RefreshHintHeader = "X-Token-Expired"
	}
	return &Gateway{
		cfg:        cfg,
		classifier: classifier,
		inspector:  inspector,
		metrics:    m,
		logger:     logger,
	}
}

// Decide depends only on the request path and its credential cookies.
func (g *Gateway) Decide(r *http.Request) Decision {
	path := r.URL.Path
	if g.skipped(path) {
		return Decision{Outcome: Skip}
	}

	access := g.cookie(r, g.cfg.AccessCookieName)
	refresh := g.cookie(r, g.cfg.RefreshCookieName)
	authenticated := g.inspector.IsAuthenticated(access, refresh)

	if target, ok := g.classifier.RedirectTargetFor(path, authenticated); ok {
		return Decision{Outcome: Redirect, Target: target}
	}

	if access != "" && refresh != "" && g.inspector.IsExpired(access) && g.classifier.Classify(path) != route.Public {
		return Decision{Outcome: PassThroughWithRefreshHint}
	}
	return Decision{Outcome: PassThrough}
}

func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Decide(r)
		g.metrics.IncGateway(d.Outcome.String())

		switch d.Outcome {
		case Redirect:
			g.logger.Debug("gateway redirect",
				zap.String("path", r.URL.Path),
				zap.String("target", d.Target),
			)
			http.Redirect(w, r, d.Target, http.StatusTemporaryRedirect)
			return
		case PassThroughWithRefreshHint:
			w.Header().Set(g.cfg.RefreshHintHeader, "true")
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) skipped(path string) bool {
	for _, p := range g.cfg.SkipPaths {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (g *Gateway) cookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
