package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    int
	}{
		{"empty", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR", []string{"10.0.0.0/8", "172.16.0.0/12"}, 2},
		{"skips invalid", []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, 1},
		{"skips blank", []string{" ", "", "::1"}, 1},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, discardLogger())
			if f.Count() != tt.want {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.want)
			}
			if f.Enabled() != (tt.want > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestFilterAllowed(t *testing.T) {
	f := New([]string{"192.168.1.100", "10.0.0.0/8", "::1", "fe80::/10"}, discardLogger())

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"::ffff:10.1.2.3", true},
		{"::1", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := f.Allowed(netip.MustParseAddr(tt.ip)); got != tt.allowed {
				t.Errorf("Allowed(%s) = %v, want %v", tt.ip, got, tt.allowed)
			}
		})
	}

	empty := New(nil, discardLogger())
	if !empty.Allowed(netip.MustParseAddr("8.8.8.8")) {
		t.Error("empty filter should allow everything")
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr with port", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"remote addr without port", "192.168.1.100", nil, "192.168.1.100"},
		{"forwarded for", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.1.1"}, "10.0.0.1"},
		{"real ip", "127.0.0.1:1", map[string]string{"X-Real-IP": "172.16.0.1"}, "172.16.0.1"},
		{"forwarded for wins", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "172.16.0.1"}, "10.0.0.1"},
		{"bad header falls back", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "garbage"}, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			addr, ok := ClientAddr(req)
			if !ok {
				t.Fatal("ClientAddr() failed")
			}
			if addr.String() != tt.want {
				t.Errorf("ClientAddr() = %s, want %s", addr, tt.want)
			}
		})
	}
}

func TestFilterMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		remoteAddr string
		want       int
	}{
		{"no filter", nil, "1.2.3.4:1", http.StatusOK},
		{"allowed", []string{"192.168.1.0/24"}, "192.168.1.7:1", http.StatusOK},
		{"denied", []string{"192.168.1.0/24"}, "10.0.0.1:1", http.StatusForbidden},
		{"unparseable", []string{"192.168.1.0/24"}, "not-an-ip", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, discardLogger())
			req := httptest.NewRequest("GET", "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()

			f.Middleware(ok).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
