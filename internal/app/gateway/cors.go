package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-Id"
	corsMaxAge       = "600"
)

// originPolicy holds the UI origins allowed to call the gateway from a
// browser. An empty list allows any origin.
type originPolicy struct {
	origins []*url.URL
}

// newOriginPolicy parses a comma-separated origin list such as UI_ORIGIN.
// "*" or an empty value allows every origin. Unparseable entries are skipped.
func newOriginPolicy(raw string) originPolicy {
	var p originPolicy
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimRight(strings.TrimSpace(item), "/")
		if item == "" {
			continue
		}
		if item == "*" {
			return originPolicy{}
		}
		u, err := url.Parse(item)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		p.origins = append(p.origins, u)
	}
	return p
}

// match returns the value for Access-Control-Allow-Origin, or false when the
// origin is not allowed. Loopback hosts are interchangeable when scheme and
// port agree, so a UI opened on 127.0.0.1 works against a localhost setting.
func (p originPolicy) match(origin string) (string, bool) {
	if len(p.origins) == 0 {
		return "*", true
	}
	o, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || o.Host == "" {
		return "", false
	}
	for _, allowed := range p.origins {
		if !strings.EqualFold(o.Scheme, allowed.Scheme) || o.Port() != allowed.Port() {
			continue
		}
		if strings.EqualFold(o.Hostname(), allowed.Hostname()) || (isLoopback(o.Hostname()) && isLoopback(allowed.Hostname())) {
			return origin, true
		}
	}
	return "", false
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (p originPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		allowOrigin, ok := p.match(origin)
		if ok {
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
