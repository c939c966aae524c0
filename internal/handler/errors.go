package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/cucchi10/CouponManager/internal/service"
)

// respondError maps a service error onto the HTTP taxonomy:
// Validation 400, NotFound 404, Conflict 409, Business 422 and
// everything else 500. Internal failures are logged with the request
// id so they can be correlated; the caller only sees a generic body.
func respondError(c *fiber.Ctx, err error) error {
	switch service.ErrKind(err) {
	case service.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case service.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case service.KindConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case service.KindBusiness:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Error().Err(err).
			Str("request_id", requestID(c)).
			Str("path", c.Path()).
			Msg("internal error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// subject extracts the already-authenticated caller identity. The
// authentication layer in front of this service sets the header.
func subject(c *fiber.Ctx) (string, error) {
	userID := c.Get("X-User-ID")
	if userID == "" || len(userID) > 255 {
		return "", service.ErrInvalidRequest
	}
	return userID, nil
}
