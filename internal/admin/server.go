// Package admin serves the HTTP admin surface of a courier peer: liveness,
// per-layer stack statistics and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/courier/internal/auth"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/observability"
	"github.com/danmuck/courier/internal/stack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// StatsSource reports one snapshot per stack layer. *stack.Stack satisfies it.
type StatsSource interface {
	Stats() []stack.Stats
}

type Server struct {
	Name     string
	Addr     string
	Appeared time.Time
	// Auth, when set before serving, guards /stats and /metrics. /health
	// stays open.
	Auth auth.Validator

	router *gin.Engine
	stats  StatsSource
}

func New(name, addr string, corsOrigins []string, stats StatsSource) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminMiddleware(name, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		router:   r,
		stats:    stats,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": Version,
		})
	})

	guarded := s.router.Group("/", s.authorize)
	guarded.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   s.Name,
			"layers": s.snapshot(),
		})
	})

	guarded.GET("/stats/:layer", func(c *gin.Context) {
		want := stack.Layer(strings.ToLower(c.Param("layer")))
		for _, st := range s.snapshot() {
			if st.Layer == want {
				c.JSON(http.StatusOK, st)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "layer not in stack: " + string(want)})
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) authorize(c *gin.Context) {
	auth.Require(s.Auth)(c)
}

func (s *Server) snapshot() []stack.Stats {
	if s.stats == nil {
		return []stack.Stats{}
	}
	return s.stats.Stats()
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logs.Infof("admin.Serve name=%s addr=%s", s.Name, ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
