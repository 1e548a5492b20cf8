package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/database"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/handlers"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/reconcile"
)

// Deps are the collaborators the HTTP layer serves from. DB is nil when the
// node runs without Postgres.
type Deps struct {
	Handler  *handlers.Handler
	Engine   *reconcile.Engine
	DB       database.Service
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

type Server struct {
	deps Deps
}

// NewServer configures the HTTP server listening on port
func NewServer(port string, deps Deps) *http.Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{deps: deps}

	return &http.Server{
		Addr:        "0.0.0.0:" + port,
		Handler:     s.RegisterRoutes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: tally streams stay open.
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * 3600,
	}))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	// API routes
	api := r.Group("/api")
	{
		api.GET("/posts", s.deps.Handler.Post.GetPosts)
		api.GET("/posts/:id", s.deps.Handler.Post.GetPost)
		api.POST("/posts", s.deps.Handler.Post.CreatePost)
		api.POST("/posts/:id/vote", s.deps.Handler.Post.VotePost)
		api.GET("/posts/:id/pending", s.deps.Handler.Post.GetPending)
		api.GET("/posts/:id/tally/stream", s.deps.Handler.Post.StreamTally)
	}

	return r
}

// health reports the reconciliation state and, with Postgres, the database.
// A node still replaying history is healthy; a stopped one is not.
func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if s.deps.Engine != nil {
		state := s.deps.Engine.State()
		body["reconcile"] = state.String()
		if state == reconcile.Cold || state == reconcile.Stopped {
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.DB != nil {
		db := s.deps.DB.Health()
		body["database"] = db
		if db["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
	}

	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	c.JSON(status, body)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.deps.Log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
