// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"vectra/internal/http/handlers"
	"vectra/internal/http/middleware"
	"vectra/internal/infra"
	"vectra/internal/metrics"
)

type ServerDeps struct {
	Location handlers.Resolver
	Feedback handlers.Submitter
	// Verifier is optional; when set, feedback requires a Firebase ID token.
	Verifier infra.TokenVerifier
	Env      string
	Logger   *slog.Logger
}

type Server struct {
	location *handlers.LocationHandler
	feedback *handlers.FeedbackHandler
	health   *handlers.HealthHandler
	verifier infra.TokenVerifier
	logger   *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		location: handlers.NewLocationHandler(deps.Location),
		feedback: handlers.NewFeedbackHandler(deps.Feedback),
		health:   handlers.NewHealthHandler(deps.Env),
		verifier: deps.Verifier,
		logger:   deps.Logger,
	}
}

// Routes mounts every endpoint at the root and again under /api/v1.
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.logger), middleware.Logging(s.logger), middleware.Metrics())

	r.GET("/health", s.health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.mount(&r.RouterGroup)
	s.mount(r.Group("/api/v1"))
	return r
}

func (s *Server) mount(g *gin.RouterGroup) {
	g.GET("/resolve/:id", s.location.Resolve)
	if s.verifier != nil {
		g.POST("/feedback", middleware.Auth(s.verifier), s.feedback.Submit)
	} else {
		g.POST("/feedback", s.feedback.Submit)
	}
}
