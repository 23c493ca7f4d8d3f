package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, X-API-Key"
	corsExposeHeaders = "Retry-After"
	corsMaxAge        = "600"
)

// originSet matches request origins against the configured list. An empty
// list or a "*" entry admits every origin.
type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	set := originSet{any: len(allowed) == 0, origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			set.any = true
			continue
		}
		if o != "" {
			set.origins[o] = struct{}{}
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.origins[strings.ToLower(origin)]
	return ok
}

// CORS echoes the request origin back when it is allowed. Only the read and
// write verbs of the ratecore API are advertised, and Retry-After is exposed
// so browsers can honour rate-limit responses.
//
// A preflight (OPTIONS with Access-Control-Request-Method) is answered here;
// any other OPTIONS request reaches the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := newOriginSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allowed := origin != "" && origins.allows(origin)
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
