package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cucchi10/CouponManager/internal/model"
)

// CouponServiceInterface defines the interface for coupon business logic.
type CouponServiceInterface interface {
	AssignRandom(ctx context.Context, bookID uuid.UUID, userID string) (*model.AssignmentResponse, error)
	AssignSpecific(ctx context.Context, code, userID string) (*model.AssignmentResponse, error)
	Lock(ctx context.Context, code, userID string, duration time.Duration) (*model.LockResponse, error)
	Unlock(ctx context.Context, code, userID string) error
	Redeem(ctx context.Context, code, userID string, metadata map[string]any) (*model.RedeemResponse, error)
	GetStatus(ctx context.Context, code, userID string) (*model.CouponStatusResponse, error)
	GetUserCoupons(ctx context.Context, userID string, page, limit int) (*model.UserCouponsResponse, error)
}

// CouponHandler handles HTTP requests for individual coupon operations.
type CouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given service and validator.
func NewCouponHandler(svc CouponServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{service: svc, validator: v}
}

// AssignRandom handles POST /coupons/assign/random.
func (h *CouponHandler) AssignRandom(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}

	var req model.AssignRandomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coupon_book_id"})
	}

	resp, err := h.service.AssignRandom(c.Context(), bookID, userID)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("book_id", bookID.String()).Str("user_id", userID).
		Str("code", resp.Code).Msg("coupon assigned")
	return c.JSON(resp)
}

// AssignSpecific handles POST /coupons/assign/:code.
func (h *CouponHandler) AssignSpecific(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}
	code := c.Params("code")

	resp, err := h.service.AssignSpecific(c.Context(), code, userID)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("code", code).Str("user_id", userID).Msg("coupon assigned")
	return c.JSON(resp)
}

// Lock handles POST /coupons/:code/lock.
func (h *CouponHandler) Lock(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}
	code := c.Params("code")

	var req model.LockRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := h.validator.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	resp, err := h.service.Lock(c.Context(), code, userID, time.Duration(req.Duration)*time.Second)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("code", code).Str("user_id", userID).
		Time("expires_at", resp.LockExpiresAt).Msg("coupon locked")
	return c.JSON(resp)
}

// Unlock handles POST /coupons/:code/unlock.
func (h *CouponHandler) Unlock(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}
	code := c.Params("code")

	if err := h.service.Unlock(c.Context(), code, userID); err != nil {
		return respondError(c, err)
	}

	log.Info().Str("code", code).Str("user_id", userID).Msg("coupon unlocked")
	return c.JSON(fiber.Map{"code": code, "status": model.StatusAssigned})
}

// Redeem handles POST /coupons/:code/redeem.
func (h *CouponHandler) Redeem(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}
	code := c.Params("code")

	var req model.RedeemRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	resp, err := h.service.Redeem(c.Context(), code, userID, req.Metadata)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("code", code).Str("user_id", userID).
		Int("redemption_count", resp.RedemptionCount).
		Bool("fully_redeemed", resp.FullyRedeemed).
		Msg("coupon redeemed")
	return c.JSON(resp)
}

// GetStatus handles GET /coupons/:code/status.
func (h *CouponHandler) GetStatus(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := h.service.GetStatus(c.Context(), c.Params("code"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// GetUserCoupons handles GET /coupons/my-coupons.
func (h *CouponHandler) GetUserCoupons(c *fiber.Ctx) error {
	userID, err := subject(c)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := h.service.GetUserCoupons(c.Context(), userID, c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}
