package rest

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"yqhp/load-harness/pkg/controlsurface"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getStatus handles GET /v1/status
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.surface.Status())
}

// getMetrics handles GET /v1/metrics
func (s *Server) getMetrics(c *fiber.Ctx) error {
	return c.JSON(s.surface.Metrics())
}

// stopRun handles POST /v1/stop. The run drains in the background; the
// response carries the status at the time of the request.
func (s *Server) stopRun(c *fiber.Ctx) error {
	if err := s.surface.Stop(); err != nil {
		if errors.Is(err, controlsurface.ErrNotRunning) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Error:   "not_running",
				Message: err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "stop_failed",
			Message: err.Error(),
		})
	}

	s.log.Info("收到停止请求", zap.String("remote", c.IP()))
	return c.Status(fiber.StatusAccepted).JSON(StopResponse{
		Success: true,
		Message: "stopping",
		Status:  s.surface.Status(),
	})
}

// prometheusMetrics handles GET /metrics
func (s *Server) prometheusMetrics(c *fiber.Ctx) error {
	h := s.surface.MetricsHandler
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "prometheus output is not enabled",
		})
	}
	return adaptor.HTTPHandler(h)(c)
}
