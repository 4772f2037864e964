package client

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// hintInterceptor watches every response for the gateway's refresh hint and
// refreshes before handing the response back. It is installed once, in New.
//
// 401 responses are left alone: Call's retry path refreshes for those, and
// refreshing here too would spend two refreshes on one expired token.
type hintInterceptor struct {
	next http.RoundTripper
	c    *Coordinator
}

func (h *hintInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := h.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusUnauthorized || h.c.isExempt(req.URL.Path) {
		return resp, nil
	}
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get(h.c.cfg.RefreshHintHeader)), "true") {
		return resp, nil
	}

	h.c.logger.Debug("refresh hint received", zap.String("path", req.URL.Path))
	if !h.c.Refresh(req.Context()) && req.Context().Err() == nil {
		h.c.expire("refresh after hint failed")
	}
	return resp, nil
}
