package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/linksmith/linksmith/internal/app/service"
	inthttp "github.com/linksmith/linksmith/internal/http/handler"
	"github.com/linksmith/linksmith/internal/http/middleware"
)

// Dependencies bundles what the HTTP server needs.
type Dependencies struct {
	Logger *zap.Logger
	Links  service.LinkService
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	app := fiber.New()

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.CORS())

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger: s.deps.Logger,
		Links:  s.deps.Links,
	})
	apiHandler.Register(s.app)

	// Registered last so /api and /health win over the slug wildcard.
	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger: s.deps.Logger,
		Links:  s.deps.Links,
	})
	redirectHandler.Register(s.app)
}
