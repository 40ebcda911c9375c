// Package admin serves the operator HTTP API: health, readiness, metrics,
// registered grammars and open sessions.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/dirauth/internal/auth"
	"github.com/danmuck/dirauth/internal/observability"
	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/server"
)

const Version = "0.1.0"

// Source is the running service the API reports on.
type Source interface {
	Ready() bool
	Sessions() []server.SessionInfo
}

type Config struct {
	NodeID      string
	Addr        string
	Token       string
	CorsOrigins []string
}

// ConfigFrom derives the admin settings from the service configuration.
func ConfigFrom(cfg server.ServiceConfig) Config {
	return Config{
		NodeID:      cfg.NodeID,
		Addr:        cfg.AdminAddr,
		Token:       cfg.AdminToken,
		CorsOrigins: cfg.CorsOrigins,
	}
}

type Server struct {
	cfg     Config
	src     Source
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, src Source) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, src: src, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.NodeID,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.src.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"service": s.cfg.NodeID,
			"version": Version,
		})
	})

	guarded := s.router.Group("/", s.requireToken())
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/grammars", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"grammars": codec.Grammars()})
	})
	guarded.GET("/sessions", func(c *gin.Context) {
		sessions := s.src.Sessions()
		c.JSON(http.StatusOK, gin.H{"count": len(sessions), "sessions": sessions})
	})
}

// requireToken enforces the bearer token when one is configured.
func (s *Server) requireToken() gin.HandlerFunc {
	if strings.TrimSpace(s.cfg.Token) == "" {
		return func(c *gin.Context) { c.Next() }
	}
	v := auth.StaticToken{Token: s.cfg.Token}
	return func(c *gin.Context) {
		if err := auth.Check(v, c.GetHeader("Authorization")); err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="dirauth"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Run serves the API on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Msgf("admin.Serve listening addr=%q", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Msgf("admin.Serve shutdown err=%v", err)
		}
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
