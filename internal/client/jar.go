package client

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// jar is a cookie jar that can be emptied. cookiejar.Jar has no way to drop
// cookies, so Reset swaps in a fresh one.
type jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func newJar() *jar {
	j := &jar{}
	j.Reset()
	return j
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *jar) Reset() {
	// cookiejar.New never returns a non-nil error.
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}
