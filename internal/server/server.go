// Package server is the HTTP adapter around the rate limiting engine: the
// admission middleware, identity extraction, and the ops/admin API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbitex/ratelimitd/internal/config"
	"github.com/orbitex/ratelimitd/internal/ratelimit"
)

const requestIDKey = "request_id"

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	engine  *gin.Engine
	http    *http.Server
}

// New assembles the router: admission middleware around everything except the
// excluded operational paths, plus health, metrics, status, and admin routes.
func New(cfg *config.Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(requestIDMiddleware())
	engine.Use(JWTIdentityMiddleware(cfg.Auth.JWTSecret))
	engine.Use(AdmissionMiddleware(limiter, cfg.RateLimit.ExcludedPaths))

	s := &Server{
		limiter: limiter,
		logger:  logger,
		engine:  engine,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.GET("/ratelimit/status", s.handleStatus)

	admin := v1.Group("/admin/ratelimit", adminAuth(cfg.Auth.AdminToken))
	admin.POST("/rules", s.handleAddRule)
	admin.DELETE("/rules", s.handleRemoveRule)

	return s
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
