package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tasknotify/project/internal/platform/config"
)

var ErrNoRoutes = errors.New("gateway has no routes")

// Route maps an inbound path prefix onto one upstream service.
type Route struct {
	Name   string
	Prefix string
	// Rewrite replaces Prefix in the forwarded path. Empty strips it.
	Rewrite string
	Public  bool
	Target  *url.URL
}

// DefaultRoutes is the built-in table used when no routes are configured.
func DefaultRoutes(cfg config.Gateway) []config.Route {
	return []config.Route{
		{Name: "identity", Prefix: "/api/users", Target: cfg.IdentityURL, Public: true},
		{Name: "task", Prefix: "/api/tasks", Target: cfg.TasksURL, Rewrite: "/tasks"},
		{Name: "notification", Prefix: "/api/notifications", Target: cfg.NotificationsURL, Rewrite: "/notifications"},
	}
}

// BuildRoutes resolves the configured route table, falling back to
// DefaultRoutes.
func BuildRoutes(cfg config.Gateway) ([]Route, error) {
	raw := cfg.Routes
	if len(raw) == 0 {
		raw = DefaultRoutes(cfg)
	}
	routes := make([]Route, 0, len(raw))
	for _, r := range raw {
		target, err := url.Parse(strings.TrimSpace(r.Target))
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("route %s: invalid target %q", r.Name, r.Target)
		}
		prefix := "/" + strings.Trim(r.Prefix, "/")
		rewrite := strings.TrimRight(r.Rewrite, "/")
		if rewrite != "" && !strings.HasPrefix(rewrite, "/") {
			rewrite = "/" + rewrite
		}
		routes = append(routes, Route{
			Name:    r.Name,
			Prefix:  prefix,
			Rewrite: rewrite,
			Public:  r.Public,
			Target:  target,
		})
	}
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}
	return routes, nil
}

// UpstreamPath maps an inbound request path to the path sent upstream.
func (rt Route) UpstreamPath(inbound string) string {
	rest := strings.TrimPrefix(inbound, rt.Prefix)
	p := rt.Rewrite + rest
	if p == "" {
		p = "/"
	}
	if base := strings.TrimRight(rt.Target.Path, "/"); base != "" {
		p = base + p
	}
	return p
}
