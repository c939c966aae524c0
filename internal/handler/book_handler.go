package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cucchi10/CouponManager/internal/model"
)

// BookServiceInterface defines the interface for coupon book business logic.
type BookServiceInterface interface {
	Create(ctx context.Context, req *model.CreateBookRequest) (*model.CouponBook, error)
	Get(ctx context.Context, id uuid.UUID) (*model.BookResponse, error)
	List(ctx context.Context, page, limit int) (*model.BookListResponse, error)
	ListCoupons(ctx context.Context, bookID uuid.UUID, page, limit int) (*model.CouponListResponse, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*model.CouponBook, error)
	UploadCodes(ctx context.Context, bookID uuid.UUID, codes []string) (*model.CodeBatchResult, error)
	GenerateCodes(ctx context.Context, bookID uuid.UUID, count int) (*model.CodeBatchResult, error)
}

// BookHandler handles HTTP requests for coupon book operations.
type BookHandler struct {
	service   BookServiceInterface
	validator *validator.Validate
}

// NewBookHandler creates a new BookHandler with the given service and validator.
func NewBookHandler(svc BookServiceInterface, v *validator.Validate) *BookHandler {
	return &BookHandler{service: svc, validator: v}
}

func parseBookID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// CreateBook handles POST /coupon-books.
func (h *BookHandler) CreateBook(c *fiber.Ctx) error {
	var req model.CreateBookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	book, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("book_id", book.ID.String()).Str("name", book.Name).Msg("coupon book created")
	return c.Status(fiber.StatusCreated).JSON(book)
}

// GetBook handles GET /coupon-books/:id.
func (h *BookHandler) GetBook(c *fiber.Ctx) error {
	id, ok := parseBookID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid book id"})
	}

	book, err := h.service.Get(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(book)
}

// ListBooks handles GET /coupon-books.
func (h *BookHandler) ListBooks(c *fiber.Ctx) error {
	resp, err := h.service.List(c.Context(), c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// ListCoupons handles GET /coupon-books/:id/coupons.
func (h *BookHandler) ListCoupons(c *fiber.Ctx) error {
	id, ok := parseBookID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid book id"})
	}

	resp, err := h.service.ListCoupons(c.Context(), id, c.QueryInt("page", 1), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// DeactivateBook handles DELETE /coupon-books/:id.
func (h *BookHandler) DeactivateBook(c *fiber.Ctx) error {
	id, ok := parseBookID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid book id"})
	}

	book, err := h.service.Deactivate(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("book_id", id.String()).Msg("coupon book deactivated")
	return c.JSON(book)
}

// UploadCodes handles POST /coupon-books/:id/codes.
func (h *BookHandler) UploadCodes(c *fiber.Ctx) error {
	id, ok := parseBookID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid book id"})
	}

	var req model.UploadCodesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.service.UploadCodes(c.Context(), id, req.Codes)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("book_id", id.String()).
		Int("uploaded", result.Uploaded).
		Int("duplicates", result.Duplicates).
		Int("invalid", result.Invalid).
		Msg("codes uploaded")
	return c.Status(fiber.StatusCreated).JSON(result)
}

// GenerateCodes handles POST /coupon-books/:id/codes/generate.
func (h *BookHandler) GenerateCodes(c *fiber.Ctx) error {
	id, ok := parseBookID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid book id"})
	}

	var req model.GenerateCodesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.service.GenerateCodes(c.Context(), id, req.Count)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("book_id", id.String()).
		Int("generated", result.Uploaded).
		Int("new_total", result.NewTotal).
		Msg("codes generated")
	return c.Status(fiber.StatusCreated).JSON(result)
}
