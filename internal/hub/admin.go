package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/nodehub/internal/auth"
	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const adminRequestTimeout = 2 * time.Second

// StateReader is the read-only hub surface the admin API serves.
type StateReader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Capability(ctx context.Context, id uint32) ([]byte, error)
}

// AdminOptions tunes the admin HTTP surface. A non-empty Token guards the
// /nodes routes with bearer authentication; /health and /metrics stay open.
type AdminOptions struct {
	CorsOrigins []string
	Token       string
}

// AdminServer serves hub state and metrics over HTTP.
type AdminServer struct {
	addr     string
	router   *gin.Engine
	hub      StateReader
	guard    gin.HandlerFunc
	appeared time.Time
	srv      *http.Server
	log      zerolog.Logger
}

func NewAdminServer(addr string, opts AdminOptions, hub StateReader) *AdminServer {
	observability.RegisterMetrics()
	logger := logging.Component("hub.admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware("hub"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &AdminServer{
		addr:     addr,
		router:   r,
		hub:      hub,
		appeared: time.Now(),
		log:      logger,
	}
	if opts.Token != "" {
		a.guard = auth.Require(auth.StaticToken{Token: opts.Token})
	}
	a.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.registerRoutes()
	return a
}

func (a *AdminServer) Addr() string {
	return a.addr
}

func (a *AdminServer) Router() *gin.Engine {
	return a.router
}

func (a *AdminServer) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(a.appeared).String(),
			"component": "hub-admin",
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	nodes := a.router.Group("/nodes")
	if a.guard != nil {
		nodes.Use(a.guard)
	}

	nodes.GET("", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), adminRequestTimeout)
		defer cancel()
		snap, err := a.hub.Snapshot(ctx)
		if err != nil {
			respondHubError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	nodes.GET("/:id", func(c *gin.Context) {
		id, ok := parseNodeID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), adminRequestTimeout)
		defer cancel()
		snap, err := a.hub.Snapshot(ctx)
		if err != nil {
			respondHubError(c, err)
			return
		}
		for _, n := range snap.Nodes {
			if n.NodeID == id {
				c.JSON(http.StatusOK, n)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
	})

	nodes.GET("/:id/capability", func(c *gin.Context) {
		id, ok := parseNodeID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), adminRequestTimeout)
		defer cancel()
		doc, err := a.hub.Capability(ctx, id)
		if err != nil {
			respondHubError(c, err)
			return
		}
		if len(doc) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		if !json.Valid(doc) {
			c.Data(http.StatusOK, "application/octet-stream", doc)
			return
		}
		c.Data(http.StatusOK, "application/json", doc)
	})
}

func parseNodeID(c *gin.Context) (uint32, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || raw == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node id must be a positive integer"})
		return 0, false
	}
	return uint32(raw), true
}

func respondHubError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrServiceStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "hub did not answer in time"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Serve blocks serving on ln until Shutdown.
func (a *AdminServer) Serve(ln net.Listener) error {
	a.log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")
	if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
