package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasknotify/project/internal/platform/auth"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/httpx"
	"github.com/tasknotify/project/internal/platform/logging"
	"github.com/tasknotify/project/internal/platform/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultUpstreamTimeout = 10 * time.Second
	readyCheckTimeout      = 2 * time.Second
)

type Gateway struct {
	Routes        []Route
	Verifier      auth.Verifier
	Logger        *slog.Logger
	AllowedOrigin string
	Timeout       time.Duration
	Transport     http.RoundTripper
	Now           func() time.Time
}

func New(cfg config.Config, verifier auth.Verifier, logger *slog.Logger) (*Gateway, error) {
	routes, err := BuildRoutes(cfg.Gateway)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Gateway.UpstreamTimeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &Gateway{
		Routes:        routes,
		Verifier:      verifier,
		Logger:        logger,
		AllowedOrigin: cfg.UIOrigin,
		Timeout:       timeout,
		Transport:     otelhttp.NewTransport(newTransport(timeout)),
		Now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.ResponseHeaderTimeout = timeout
	return t
}

func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(g.Logger, "/health", "/readyz", "/metrics"))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(newOriginPolicy(g.AllowedOrigin).middleware)

	r.Get("/health", g.handleHealth)
	r.Get("/readyz", g.handleReady)
	r.Handle("/metrics", metrics.Handler())

	for _, rt := range g.Routes {
		var h http.Handler = g.proxy(rt)
		if !rt.Public {
			h = auth.Middleware(g.Verifier)(h)
		}
		h = withTimeout(g.Timeout)(h)
		r.Handle(rt.Prefix, h)
		r.Handle(rt.Prefix+"/*", h)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "Route not found")
	})
	return r
}

// proxy forwards method, headers and body unchanged and only rewrites the
// path. Each request gets a single attempt.
func (g *Gateway) proxy(rt Route) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = rt.Target.Scheme
			pr.Out.URL.Host = rt.Target.Host
			pr.Out.URL.Path = rt.UpstreamPath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		Transport: g.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.IncUpstreamFailure(rt.Name)
			g.Logger.WarnContext(r.Context(), "upstream unavailable",
				"upstream", rt.Name,
				"target", rt.Target.String(),
				"path", r.URL.Path,
				"error", err,
			)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":  rt.Name + " service is unavailable",
				"target": rt.Target.String(),
			})
		},
	}
}

func withTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "API Gateway is running",
		"timestamp": g.Now().Format(time.RFC3339),
	})
}

// handleReady checks each upstream's /health endpoint.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	client := &http.Client{Transport: g.Transport, Timeout: readyCheckTimeout}
	upstreams := make(map[string]string, len(g.Routes))
	ready := true
	for _, rt := range g.Routes {
		if err := checkUpstream(r.Context(), client, rt); err != nil {
			upstreams[rt.Name] = err.Error()
			ready = false
			continue
		}
		upstreams[rt.Name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, map[string]any{"status": status, "upstreams": upstreams})
}

var errUnhealthy = errors.New("unhealthy")

func checkUpstream(ctx context.Context, client *http.Client, rt Route) error {
	u := *rt.Target
	u.Path = strings.TrimRight(rt.Target.Path, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return errUnhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errUnhealthy
	}
	return nil
}
