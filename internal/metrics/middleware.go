package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HTTPMiddleware counts and times API requests. A nil collector passes
// requests through untouched.
func HTTPMiddleware(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			began := time.Now()

			next.ServeHTTP(ww, r)

			// handlers that never write still answer 200
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			c.ObserveAPIRequest(r.Method, routeLabel(r), code, time.Since(began))
		})
	}
}

// routeLabel is the chi route pattern, or the raw path with run ids and
// log indexes folded into placeholders when no route matched.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		switch {
		case len(seg) == 36 && uuid.Validate(seg) == nil:
			segments[i] = "{id}"
		case isDigits(seg):
			segments[i] = "{index}"
		}
	}
	return strings.Join(segments, "/")
}

func isDigits(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

var errorKinds = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "auth_error",
	http.StatusForbidden:             "auth_error",
	http.StatusNotFound:              "not_found",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "too_large",
	http.StatusUnprocessableEntity:   "validation_error",
}

// errorKind maps a status code to the api_errors_total label; success
// codes have no kind.
func errorKind(code int) (string, bool) {
	if code < 400 {
		return "", false
	}
	if code >= 500 {
		return "server_error", true
	}
	if kind, ok := errorKinds[code]; ok {
		return kind, true
	}
	return "client_error", true
}
