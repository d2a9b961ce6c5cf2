package frontend

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

type contextKey struct{}

// FromContext returns the frontend selected for the request, or nil when
// selection did not run or nothing matched.
func FromContext(ctx context.Context) *Frontend {
	f, _ := ctx.Value(contextKey{}).(*Frontend)
	return f
}

// Middleware annotates each request with the frontend selected by host and
// path and strips the frontend's matching path prefix before passing the
// request on, so downstream handlers see frontend-relative paths.
func Middleware(c *Collection) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f := c.Select(r.Host, r.URL.Path)
			if f == nil {
				next.ServeHTTP(w, r)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, f))
			if f.MatchingPath != "" {
				if stripped, ok := stripPrefix(r.URL.Path, f.MatchingPath); ok {
					r.URL.Path = stripped
				}
			}

			log.WithFields(log.Fields{
				"frontend": f.Name,
				"host":     r.Host,
				"path":     r.URL.Path,
			}).Debug("request routed to frontend")
			next.ServeHTTP(w, r)
		})
	}
}

// stripPrefix removes prefix from path on segment boundaries. "/app" strips
// from "/app" and "/app/x" but not from "/application".
func stripPrefix(path, prefix string) (string, bool) {
	prefix = "/" + strings.Trim(prefix, "/")
	if path == prefix {
		return "/", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return path, false
}
