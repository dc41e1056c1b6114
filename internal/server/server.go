// Package server is the thin HTTP surface of the engine: workflow
// start and status queries plus a health probe. All heavy lifting
// happens in the router and dispatch packages.
package server

import (
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/stakemint/sagad/internal/router"
	"github.com/stakemint/sagad/internal/store"
)

// Server implements the HTTP API
type Server struct {
	router *router.Router
	store  *store.Store
	views  *ViewCache
}

// NewServer creates the HTTP API server. views may be nil to disable
// the read cache
func NewServer(r *router.Router, s *store.Store, views *ViewCache) *Server {
	return &Server{router: r, store: s, views: views}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	engine.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	engine.GET("/health", s.handleHealth)

	wf := engine.Group("/workflow")
	{
		wf.POST("", s.startWorkflow)
		wf.GET("/:workflowID", s.getWorkflow)
		wf.GET("/:workflowID/steps", s.listSteps)
	}

	return engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
