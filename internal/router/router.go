package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/zyro/backend/internal/config"
	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/handlers"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/realtime"
	"github.com/zyro/backend/internal/services"
)

// Deps are the long-lived components the routes are built on.
type Deps struct {
	Queries   *db.Queries
	Broker    handlers.Pinger
	Rooms     *realtime.Manager
	Publisher *realtime.Publisher
}

// Router is the application's HTTP handler plus the pieces that need an
// orderly stop.
type Router struct {
	http.Handler

	websocket *handlers.WebSocketHandler
	limiters  []*middleware.RateLimiter
}

func New(cfg *config.Config, deps Deps) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIP(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.AccessTokenDuration, cfg.RefreshTokenDuration)
	authenticator := middleware.NewAuthenticator(authService, deps.Queries)

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	healthHandler := handlers.NewHealthHandler(deps.Broker)
	authHandler := handlers.NewAuthHandler(deps.Queries, authService)
	projectHandler := handlers.NewProjectHandler(deps.Queries)
	issueHandler := handlers.NewIssueHandler(deps.Queries, deps.Publisher)
	sseHandler := handlers.NewSSEHandler(deps.Rooms, deps.Queries, cfg.WSSendBuffer)
	wsHandler := handlers.NewWebSocketHandler(deps.Rooms, authenticator, handlers.WebSocketOptions{
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
		WriteTimeout: cfg.WSWriteTimeout,
		SendBuffer:   cfg.WSSendBuffer,
	})

	// Login is rate limited per client IP; so are websocket handshakes, which
	// each cost a token check and a user lookup.
	loginRateLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit)
	wsRateLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit * 6)

	managerOrAbove := middleware.RequireRole(services.RoleManager)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/config", configHandler.PublicConfig)

		r.Route("/v1", func(r chi.Router) {
			r.With(loginRateLimiter.Middleware).Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)

			// Authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(authenticator.Middleware)
				r.Use(middleware.UpdateRequestContextMiddleware)

				r.Get("/users/me", authHandler.Me)

				r.Route("/projects", func(r chi.Router) {
					r.Get("/", projectHandler.List)
					r.With(managerOrAbove).Post("/", projectHandler.Create)

					r.Route("/{projectID}", func(r chi.Router) {
						r.Get("/", projectHandler.Get)
						r.Get("/events", sseHandler.Stream)

						r.Route("/issues", func(r chi.Router) {
							r.Get("/", issueHandler.List)
							r.Post("/", issueHandler.Create)
							r.Get("/{issueID}", issueHandler.Get)
							r.With(managerOrAbove).Put("/{issueID}", issueHandler.Update)
							r.With(managerOrAbove).Delete("/{issueID}", issueHandler.Delete)
						})
					})
				})
			})
		})
	})

	// The token is carried in the query string; the handler authenticates
	// after the upgrade so failures can be reported with a close frame.
	r.With(wsRateLimiter.Middleware).Get("/ws/issues/{projectID}", wsHandler.Serve)

	return &Router{
		Handler:   r,
		websocket: wsHandler,
		limiters:  []*middleware.RateLimiter{loginRateLimiter, wsRateLimiter},
	}
}

// Shutdown closes open websocket connections and stops background cleanup.
// Call it before http.Server.Shutdown, which does not wait for hijacked
// connections.
func (rt *Router) Shutdown(ctx context.Context) error {
	err := rt.websocket.Shutdown(ctx)
	for _, l := range rt.limiters {
		l.Close()
	}
	return err
}
