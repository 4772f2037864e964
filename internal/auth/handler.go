package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mehmetcc/sessiongate/internal/httpx"
	"github.com/mehmetcc/sessiongate/internal/token"
	"go.uber.org/zap"
)

// StatusHandler reports what the edge can see in the HttpOnly session cookies,
// which browser script cannot read itself. Token values are never echoed.
type StatusHandler interface {
	Status(w http.ResponseWriter, r *http.Request)
	Routes() chi.Router
}

type statusHandler struct {
	logger            *zap.Logger
	inspector         *token.Inspector
	accessCookieName  string
	refreshCookieName string
}

func NewStatusHandler(inspector *token.Inspector, accessCookieName, refreshCookieName string, l *zap.Logger) StatusHandler {
	return &statusHandler{
		logger:            l,
		inspector:         inspector,
		accessCookieName:  accessCookieName,
		refreshCookieName: refreshCookieName,
	}
}

func (a *statusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.Status)
	return r
}

func (a *statusHandler) Status(w http.ResponseWriter, r *http.Request) {
	access := cookieValue(r, a.accessCookieName)
	refresh := cookieValue(r, a.refreshCookieName)

	resp := sessionStatusResponse{
		Authenticated: a.inspector.IsAuthenticated(access, refresh),
		RefreshNeeded: access != "" && a.inspector.IsExpired(access) && refresh != "" && !a.inspector.IsExpired(refresh),
	}
	if exp, ok := a.inspector.ExpirationTime(access); ok {
		resp.AccessExpiresAt = &exp
	}
	if exp, ok := a.inspector.ExpirationTime(refresh); ok {
		resp.RefreshExpiresAt = &exp
	}
	if claims, err := a.inspector.Decode(access); err == nil {
		resp.Subject = claims.Subject
	} else if access != "" {
		a.logger.Debug("access cookie is not a readable token", zap.Error(err))
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

type sessionStatusResponse struct {
	Authenticated    bool       `json:"authenticated"`
	RefreshNeeded    bool       `json:"refresh_needed"`
	Subject          string     `json:"subject,omitempty"`
	AccessExpiresAt  *time.Time `json:"access_expires_at,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
