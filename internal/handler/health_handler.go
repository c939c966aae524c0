package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	pool  Pinger
	cache Pinger
}

// NewHealthHandler creates a new HealthHandler probing the database
// pool and the cache plane.
func NewHealthHandler(pool, cache Pinger) *HealthHandler {
	return &HealthHandler{pool: pool, cache: cache}
}

// Check performs a health check by pinging the database and Redis.
// Returns 200 OK when both are reachable. A database failure returns
// 503; a cache failure is reported but degraded, not unhealthy,
// because correctness survives cache loss.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.pool.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}
	if err := h.cache.Ping(c.Context()); err != nil {
		log.Warn().Err(err).Msg("health check: cache unreachable")
		return c.JSON(fiber.Map{
			"status": "degraded",
			"cache":  "unreachable",
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
