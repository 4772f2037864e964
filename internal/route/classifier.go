package route

import (
	"strings"
)

type Class int

const (
	Neutral Class = iota
	Public
	Protected
)

func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case Protected:
		return "protected"
	default:
		return "neutral"
	}
}

type Config struct {
	ProtectedPaths []string
	PublicPaths    []string
	Locales        []string
	DefaultLocale  string
	LoginPath      string
	HomePath       string
}

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	protected     []string
	public        []string
	locales       map[string]struct{}
	defaultLocale string
	loginPath     string
	homePath      string
}

func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{
		protected:     cleanAll(cfg.ProtectedPaths),
		public:        cleanAll(cfg.PublicPaths),
		locales:       make(map[string]struct{}, len(cfg.Locales)),
		defaultLocale: strings.ToLower(cfg.DefaultLocale),
		loginPath:     clean(cfg.LoginPath),
		homePath:      clean(cfg.HomePath),
	}
	for _, l := range cfg.Locales {
		c.locales[strings.ToLower(l)] = struct{}{}
	}
	if c.loginPath == "/" && cfg.LoginPath == "" {
		c.loginPath = "/login"
	}
	if c.homePath == "/" && cfg.HomePath == "" {
		c.homePath = "/dashboard"
	}
	return c
}

// Split separates a leading locale segment from the rest of the path.
// "/en/login" -> ("en", "/login"), "/en" -> ("en", "/"), "/login" -> ("", "/login").
func (c *Classifier) Split(path string) (locale, rest string) {
	path = clean(path)
	seg, remainder, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !c.isLocale(seg) {
		return "", path
	}
	return strings.ToLower(seg), "/" + remainder
}

func (c *Classifier) isLocale(seg string) bool {
	if len(seg) != 2 {
		return false
	}
	if len(c.locales) > 0 {
		_, ok := c.locales[strings.ToLower(seg)]
		return ok
	}
	for _, r := range seg {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// Classify strips any locale prefix and matches the remainder. Protected
// membership is checked first so a path is never both.
func (c *Classifier) Classify(path string) Class {
	_, rest := c.Split(path)
	return c.classifyBare(rest)
}

func (c *Classifier) classifyBare(path string) Class {
	for _, p := range c.protected {
		if strings.HasPrefix(path, p) {
			return Protected
		}
	}
	for _, p := range c.public {
		if path == p || (p != "/" && strings.HasPrefix(path, p+"/")) {
			return Public
		}
	}
	return Neutral
}

// RedirectTargetFor returns where the request should be sent instead, if anywhere.
func (c *Classifier) RedirectTargetFor(path string, authenticated bool) (string, bool) {
	locale, rest := c.Split(path)
	switch class := c.classifyBare(rest); {
	case authenticated && class == Public:
		return c.Localize(locale, c.homePath), true
	case !authenticated && class == Protected:
		return c.Localize(locale, c.loginPath), true
	default:
		return "", false
	}
}

// Localize prefixes target with locale unless it is empty or the default.
func (c *Classifier) Localize(locale, target string) string {
	if locale == "" || locale == c.defaultLocale {
		return target
	}
	if target == "/" {
		return "/" + locale
	}
	return "/" + locale + target
}

func (c *Classifier) LoginPath() string { return c.loginPath }

func (c *Classifier) HomePath() string { return c.homePath }

func clean(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, clean(p))
	}
	return out
}
