// Package server exposes the chat pipeline over HTTP. Responses stream as
// server-sent events; session history and deletion are plain JSON endpoints.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"studybuddy/internal/chat"
	"studybuddy/internal/config"
	"studybuddy/internal/logging"
	"studybuddy/internal/retrieval"
	"studybuddy/internal/store"
)

// Runner is the conversation engine the server drives. *chat.Runner is the
// production implementation; tests substitute scripted ones.
type Runner interface {
	Run(ctx context.Context, history []store.Message, question string, filters retrieval.Filters) <-chan chat.Event
	GenerateTitle(ctx context.Context, question, answer string) (string, error)
}

// Server wires HTTP routes to the store and runner.
type Server struct {
	cfg       *config.Config
	store     *store.LocalStore
	runner    Runner
	retriever *retrieval.Retriever
	engine    *gin.Engine
}

// New builds the server and registers its routes.
func New(cfg *config.Config, st *store.LocalStore, runner Runner, retriever *retrieval.Retriever) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		retriever: retriever,
		engine:    gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.corsMiddleware())

	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.POST("/chat/stream", s.handleChatStream)
		api.GET("/chat/sessions/:id", s.handleGetSession)
		api.GET("/chat/sessions/:id/messages", s.handleListMessages)
		api.DELETE("/chat/sessions/:id", s.handleDeleteSession)
	}

	return s
}

// Router exposes the gin engine, mainly for httptest.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()

	logging.Server("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origin := s.cfg.Server.CORSOrigin
	return func(c *gin.Context) {
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
	})
}
