package httpx

import (
	"net"
	"net/http"
	"strings"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformMac     Platform = "mac"
	PlatformWindows Platform = "win"
	PlatformLinux   Platform = "linux"
	PlatformWeb     Platform = "web"
)

const (
	HeaderDeviceID   = "X-Device-Id"
	HeaderDeviceName = "X-Device-Name"
	HeaderPlatform   = "X-Client-Platform"
	HeaderAppVersion = "X-App-Version"
	HeaderRequestID  = "X-Request-Id"
)

// DeviceMeta is the client description the backend uses to label sessions.
// The edge only relays it.
type DeviceMeta struct {
	DeviceID   string   `header:"X-Device-Id"      validate:"omitempty,min=8,max=128"`
	DeviceName string   `header:"X-Device-Name"    validate:"omitempty,min=1,max=64"`
	Platform   Platform `header:"X-Client-Platform" validate:"omitempty,oneof=ios android mac win linux web"`
	AppVersion string   `header:"X-App-Version"    validate:"omitempty,min=1,max=32"`
	UserAgent  string   `header:"-"                validate:"omitempty,max=256"`
	IP         string   `header:"-"                validate:"omitempty,max=64"`
}

func DeviceMetaFromRequest(r *http.Request) DeviceMeta {
	return DeviceMeta{
		DeviceID:   strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
		DeviceName: strings.TrimSpace(r.Header.Get(HeaderDeviceName)),
		Platform:   Platform(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPlatform)))),
		AppVersion: strings.TrimSpace(r.Header.Get(HeaderAppVersion)),
		UserAgent:  r.UserAgent(),
		IP:         clientIP(r),
	}
}

// Apply writes the non-empty fields onto an outbound header set.
func (m DeviceMeta) Apply(h http.Header) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set(HeaderDeviceID, m.DeviceID)
	set(HeaderDeviceName, m.DeviceName)
	set(HeaderPlatform, string(m.Platform))
	set(HeaderAppVersion, m.AppVersion)
	set("User-Agent", m.UserAgent)
	if m.IP != "" {
		h.Set("X-Forwarded-For", m.IP)
	}
}

// clientIP prefers RemoteAddr, which chi's RealIP middleware has already
// rewritten from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
