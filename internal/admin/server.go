// Package admin serves the gateway's operator HTTP surface.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/blockgate/internal/cluster"
	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/sink"
)

const Version = "0.1.0"

var ErrSinkNotFound = errors.New("sink not found")

// StateFunc reports the cluster join state for /ready.
type StateFunc func() cluster.State

type Server struct {
	node      string
	addr      string
	directory *sink.Directory
	state     StateFunc
	router    *gin.Engine
	started   time.Time
}

func New(node, addr string, directory *sink.Directory, state StateFunc, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("admin", node)))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if state == nil {
		state = func() cluster.State { return cluster.Idle }
	}
	s := &Server{
		node:      node,
		addr:      addr,
		directory: directory,
		state:     state,
		router:    r,
		started:   time.Now(),
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
			"uptime":  time.Since(s.started).String(),
			"node":    s.node,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.state()
		status := http.StatusOK
		if state != cluster.Connected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   state == cluster.Connected,
			"cluster": state.String(),
			"node":    s.node,
		})
	})

	s.router.GET("/sinks", func(c *gin.Context) {
		infos := s.directory.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"count": len(infos),
			"sinks": infos,
		})
	})

	s.router.GET("/sinks/:id", func(c *gin.Context) {
		info, ok := s.directory.Info(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrSinkNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	s.router.POST("/sinks/:id/close", func(c *gin.Context) {
		id := c.Param("id")
		target, ok := s.directory.Lookup(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrSinkNotFound.Error()})
			return
		}
		if err := target.Close(c.Request.Context()); err != nil {
			log.Error().Str("sink", id).Err(err).Msg("admin sink close failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("sink", id).Msg("admin sink closed")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
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
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	logs.Infof("admin.Server.Serve listening addr=%s node=%s", ln.Addr(), s.node)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logs.Infof("admin.Server.Serve stopped addr=%s", ln.Addr())
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
