// Package rest provides the control API of a running load test.
package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"yqhp/load-harness/pkg/controlsurface"
)

// Server represents the control API server.
type Server struct {
	app     *fiber.App
	surface *controlsurface.ControlSurface
	config  *Config
	log     *zap.Logger
}

// Config holds the configuration for the control API server.
type Config struct {
	// Address is the address to listen on (e.g., ":6565").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      ":6565",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		EnableCORS:   true,
	}
}

// NewServer creates a new control API server for cs.
func NewServer(cs *controlsurface.ControlSurface, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cs == nil {
		cs = &controlsurface.ControlSurface{}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "load-harness control API",
		DisableStartupMessage: true,
	})

	server := &Server{
		app:     app,
		surface: cs,
		config:  config,
		log:     log,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// 请求日志以 debug 级别写入 zap
	if accessLog, err := zap.NewStdLogAt(s.log.Named("api"), zap.DebugLevel); err == nil {
		s.app.Use(logger.New(logger.Config{
			Format:     "${status} | ${latency} | ${method} ${path}",
			TimeFormat: time.RFC3339,
			Output:     accessLog.Writer(),
		}))
	}

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	v1 := s.app.Group("/v1")
	v1.Get("/status", s.getStatus)
	v1.Get("/metrics", s.getMetrics)
	v1.Post("/stop", s.stopRun)

	s.app.Get("/metrics", s.prometheusMetrics)
}

// Start starts the control API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext serves until ctx is done, then shuts down gracefully.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control api listen on %s: %w", s.config.Address, err)
		}
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
