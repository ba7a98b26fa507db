package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// RealIP rewrites X-Real-IP with the client address. Forwarded headers are only
// honored when the direct peer is a configured proxy.
type RealIP struct {
	trustedNets []*net.IPNet
}

// NewRealIP accepts IP addresses ("192.168.1.1") and CIDRs ("10.0.0.0/8").
// Unparseable entries are logged and skipped.
func NewRealIP(trustedProxies []string) *RealIP {
	m := &RealIP{}

	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if !strings.Contains(proxy, "/") {
			if ip := net.ParseIP(proxy); ip != nil {
				bits := 8 * net.IPv6len
				if ip.To4() != nil {
					ip = ip.To4()
					bits = 8 * net.IPv4len
				}
				m.trustedNets = append(m.trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		} else if _, network, err := net.ParseCIDR(proxy); err == nil {
			m.trustedNets = append(m.trustedNets, network)
			continue
		}

		slog.Warn("ignoring invalid trusted proxy", slog.String("proxy", proxy))
	}

	return m
}

// Handler returns the middleware handler. Client-supplied X-Real-IP is always replaced.
func (m *RealIP) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Set("X-Real-IP", m.clientIP(r))
		next.ServeHTTP(w, r)
	})
}

func (m *RealIP) clientIP(r *http.Request) string {
	remoteIP := hostOnly(r.RemoteAddr)
	if !m.trusted(remoteIP) {
		return remoteIP
	}

	// Cloudflare's header wins over the generic chain.
	if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
		return strings.TrimSpace(cfIP)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	return remoteIP
}

func (m *RealIP) trusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range m.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// hostOnly strips the port from a RemoteAddr, tolerating bare IPs.
func hostOnly(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
