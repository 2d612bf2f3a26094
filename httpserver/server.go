package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
	"github.com/isdmx/coderun/sandbox"
)

const healthTimeout = 5 * time.Second

// Server serves the execution API over HTTP.
type Server struct {
	config  *config.Config
	logger  *zap.Logger
	service *execution.Service
	pinger  sandbox.Pinger
	engine  *gin.Engine
	http    *http.Server
}

// Option defines a functional option for Server
type Option func(*Server)

// WithPinger enables the runtime check in the health endpoint.
func WithPinger(p sandbox.Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}

// New creates a Server and registers its routes.
func New(cfg *config.Config, logger *zap.Logger, service *execution.Service, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		service: service,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Server.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	if cfg.Metrics.Enabled {
		initGinMetrics(r)
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.GET("/languages", s.handleLanguages)
	api.POST("/execute", s.handleExecute)
	api.GET("/health", s.handleHealth)

	s.engine = r
	return s
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on server.http_port and serves in the background.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting HTTP API", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight executions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("stopping HTTP API")
	return s.http.Shutdown(ctx)
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (s *Server) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supportedLanguages": s.service.Languages(),
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err) //nolint:errcheck // recorded for the access log
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": execution.ErrClientInput.Error()})
		return
	}

	record, err := s.service.Run(c.Request.Context(), req.Language, req.Code)
	if err != nil {
		c.Error(err) //nolint:errcheck // recorded for the access log
		var failure *execution.Failure
		switch {
		case errors.Is(err, execution.ErrClientInput):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &failure):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   failure.Error(),
				"details": failure.Details(),
				"code":    failure.Code(),
			})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   execution.FailureMessage,
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.pinger == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("runtime health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
