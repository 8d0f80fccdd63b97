// Package ipfilter restricts HTTP endpoints to configured client networks
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against a list of allowed prefixes.
// An empty filter allows everything.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New creates a filter from IPs and CIDRs. Invalid entries are logged and
// skipped.
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, s := range allowed {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		p, err := parsePrefix(s)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "value", s, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, p)
	}

	return f
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

// Enabled reports whether any network is configured
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// Allowed reports whether addr may access the protected endpoint
func (f *Filter) Allowed(addr netip.Addr) bool {
	if !f.Enabled() {
		return true
	}

	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr extracts the client address from a request. X-Forwarded-For
// (first hop) and X-Real-IP take precedence over RemoteAddr.
func ClientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr, true
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr, true
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// Middleware rejects requests from clients outside the allowed networks
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.Allowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
