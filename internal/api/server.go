package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"thsw/internal/astronomy"
	"thsw/internal/switcher"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// Controller is the part of the switcher the API exposes.
type Controller interface {
	Status() switcher.Status
	Sun() (astronomy.Location, astronomy.Result)
	Force(ctx context.Context, phase astronomy.Phase) error
}

type Server struct {
	router     *gin.Engine
	server     *http.Server
	controller Controller
	port       int
	logger     *log.Logger
}

type ServerConfig struct {
	Port       int
	Controller Controller
	Logger     *log.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	router.Use(requestLogger(logger))

	s := &Server{
		router:     router,
		controller: cfg.Controller,
		port:       cfg.Port,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/sun", s.sunHandler)
		api.GET("/state", s.stateHandler)
		api.POST("/switch/:phase", s.switchHandler)
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	st := s.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"running":   st.Running,
		"phase":     st.Phase,
		"timestamp": time.Now(),
	})
}

func (s *Server) sunHandler(c *gin.Context) {
	loc, res := s.controller.Sun()
	body := gin.H{
		"location":  loc,
		"sunrise":   res.Sunrise,
		"noon":      res.Noon,
		"sunset":    res.Sunset,
		"condition": res.Condition,
	}
	if err := res.Err(); err != nil {
		delete(body, "sunrise")
		delete(body, "sunset")
		body["message"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) stateHandler(c *gin.Context) {
	st := s.controller.Status()
	if st.EvaluatedAt.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No evaluation yet",
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) switchHandler(c *gin.Context) {
	phase, err := astronomy.ParsePhase(c.Param("phase"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.Force(c.Request.Context(), phase); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"phase":   phase,
	})
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}
