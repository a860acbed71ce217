// Package api is the HTTP+WS Adapter: a chi router exposing the daemon's
// container, network, firewall and billing surface over REST, plus a
// WebSocket endpoint that streams console output, stats and lifecycle
// events and accepts power/command/logs frames. Grounded on the original
// implementation's Axum router (api/routes.rs, websocket/handler.rs) and on
// the chi + go-chi/cors wiring idiom used across the example pack (e.g.
// volaticloud's cmd/server/main.go).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lightdaemon/lightd/pkg/auth"
	"github.com/lightdaemon/lightd/pkg/billing"
	"github.com/lightdaemon/lightd/pkg/console"
	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/firewall"
	"github.com/lightdaemon/lightd/pkg/lifecycle"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/metrics"
	"github.com/lightdaemon/lightd/pkg/netrebind"
	"github.com/lightdaemon/lightd/pkg/portpool"
	"github.com/lightdaemon/lightd/pkg/power"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/stats"
	"github.com/lightdaemon/lightd/pkg/update"
)

// Deps are every engine the adapter dispatches requests into. Server owns
// none of their lifecycles; the caller (cmd/lightd) constructs and closes
// them.
type Deps struct {
	Registry   *registry.Registry
	Hub        *eventhub.Hub
	Lifecycle  *lifecycle.Engine
	Power      *power.Engine
	NetRebind  *netrebind.Rebinder
	Update     *update.Engine
	Firewall   *firewall.Manager
	PortPool   *portpool.Pool
	Console    *console.Streamer
	Stats      *stats.Collector
	Billing    *billing.Tracker
	TokenAuth  *auth.Manager
}

// Server is the HTTP+WS adapter.
type Server struct {
	deps Deps
	auth auth.Config
	http *http.Server
}

// NewServer builds the router and wraps it in an *http.Server bound to
// addr. authCfg.Enabled gates every /api/v1 route except the public ping
// under Bearer + vendor-header auth, per the original implementation's
// auth_middleware; /ws/{id}, /metrics, /healthz and /readyz are mounted
// outside it.
func NewServer(addr string, deps Deps, authCfg auth.Config) *Server {
	s := &Server{deps: deps, auth: authCfg}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(httpLogger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   authCfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/api/v1/public/ping", s.handlePing)
	router.Get("/ws/{id}", s.handleWebSocket)
	router.Get("/metrics", metrics.Handler().ServeHTTP)
	router.Get("/healthz", metrics.HealthHandler())
	router.Get("/readyz", metrics.ReadyHandler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(authCfg))
		s.mountContainers(r)
		s.mountNetwork(r)
		s.mountFirewall(r)
		s.mountBilling(r)
		s.mountTokens(r)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	log.WithComponent("api").Info().Str("addr", s.http.Addr).Msg("http+ws adapter listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func httpLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
