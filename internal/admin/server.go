// Package admin serves the receiver's read-mostly HTTP status surface.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/imglink/internal/auth"
	"github.com/danmuck/imglink/internal/observability"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/danmuck/imglink/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrActionNotFound  = errors.New("action not found")
)

// Captures lists files already stored for an endpoint.
type Captures interface {
	List(ep protocol.Endpoint) ([]string, error)
}

type Config struct {
	Name        string
	Addr        string
	CORSOrigins []string
	// ActionToken, when set, is required as a bearer token on action routes.
	ActionToken string
}

type Server struct {
	cfg      Config
	table    *session.Table
	registry *services.ServiceRegistry
	captures Captures
	started  time.Time
	router   *gin.Engine
}

func New(cfg Config, table *session.Table, registry *services.ServiceRegistry, captures Captures) *Server {
	observability.RegisterMetrics()
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "imgrx"
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(cfg.Name, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if registry == nil {
		registry = services.NewServiceRegistry()
	}
	s := &Server{
		cfg:      cfg,
		table:    table,
		registry: registry,
		captures: captures,
		started:  time.Now(),
		router:   r,
	}
	s.registerRoutes()
	return s
}

// Handler is the router wrapped with response compression.
func (s *Server) Handler() http.Handler {
	return handlers.CompressHandler(s.router)
}

// Serve listens on the configured address until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("admin http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("admin http stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"server":   s.cfg.Name,
			"uptime":   time.Since(s.started).String(),
			"sessions": s.table.Len(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.table.List()})
	})

	r.GET("/sessions/:endpoint", func(c *gin.Context) {
		ep := protocol.ParseEndpoint(c.Param("endpoint"))
		info, ok := s.table.Get(ep)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for " + ep.String()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	r.GET("/captures/:endpoint", func(c *gin.Context) {
		if s.captures == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "captures unavailable"})
			return
		}
		ep := protocol.ParseEndpoint(c.Param("endpoint"))
		files, err := s.captures.List(ep)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if files == nil {
			files = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"endpoint": ep, "files": files})
	})

	r.GET("/services", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"services": s.listServices()})
	})

	actions := r.Group("/services")
	if token := strings.TrimSpace(s.cfg.ActionToken); token != "" {
		actions.Use(auth.RequireBearer(auth.StaticToken{Token: token}))
	}
	actions.POST("/:service/actions/:action", func(c *gin.Context) {
		out, err := s.executeAction(c.Param("service"), c.Param("action"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrServiceNotFound) || errors.Is(err, ErrActionNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "output": out})
	})
}

type ServiceInfo struct {
	Name    string   `json:"name"`
	Status  any      `json:"status,omitempty"`
	Error   string   `json:"error,omitempty"`
	Actions []string `json:"actions"`
}

func (s *Server) listServices() []ServiceInfo {
	out := make([]ServiceInfo, 0)
	for _, name := range s.registry.Names() {
		svc, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		info := ServiceInfo{Name: name, Actions: []string{}}
		status, err := svc.Status()
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Status = status
		}
		for action := range svc.Actions() {
			info.Actions = append(info.Actions, action)
		}
		sort.Strings(info.Actions)
		out = append(out, info)
	}
	return out
}

func (s *Server) executeAction(serviceName, actionName string) (string, error) {
	svc, ok := s.registry.Get(serviceName)
	if !ok {
		return "", ErrServiceNotFound
	}
	action, ok := svc.Actions()[actionName]
	if !ok {
		return "", ErrActionNotFound
	}
	out, err := action()
	if err != nil {
		log.Error().Str("service", serviceName).Str("action", actionName).Err(err).Msg("service action failed")
		return "", err
	}
	log.Info().Str("service", serviceName).Str("action", actionName).Msg("service action executed")
	return out, nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
