package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cucchi10/CouponManager/internal/codegen"
	"github.com/cucchi10/CouponManager/internal/model"
	"github.com/cucchi10/CouponManager/pkg/database"
)

// insertBatchSize is the number of rows per bulk insert statement. All
// batches of one request commit in a single transaction so total_codes
// can never drift from the rows actually inserted.
const insertBatchSize = 5000

// maxCodesPerUpload caps the body-provided code list.
const maxCodesPerUpload = 10000

// listLimitCap bounds the page size of every listing endpoint.
const listLimitCap = 100

// defaultListLimit applies when the caller omits the limit.
const defaultListLimit = 20

// codeShape is the uploaded-code grammar: uppercase alphanumerics plus
// dash and underscore, 6 to 32 characters.
var codeShape = regexp.MustCompile(`^[A-Z0-9_-]{6,32}$`)

// BookRepositoryInterface defines the interface for book data access.
type BookRepositoryInterface interface {
	Insert(ctx context.Context, book *model.CouponBook) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.CouponBook, error)
	List(ctx context.Context, offset, limit int) ([]model.CouponBook, error)
	Count(ctx context.Context) (int, error)
	Deactivate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error
	AddTotalCodes(ctx context.Context, tx database.TxQuerier, id uuid.UUID, n int) error
	Stats(ctx context.Context, id uuid.UUID) (*model.BookStats, error)
}

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	InsertBatch(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, codes []string) (int, error)
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	PickAvailableForUpdate(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error)
	GetByCodeForUpdateNoWait(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	UpdateStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, status model.CouponStatus) error
	UpdateStatusCAS(ctx context.Context, tx database.TxQuerier, id uuid.UUID, status model.CouponStatus, version int) error
	ListByBook(ctx context.Context, bookID uuid.UUID, offset, limit int) ([]model.CouponListItem, error)
	CountByBook(ctx context.Context, bookID uuid.UUID) (int, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BookService provides business logic for coupon book operations.
type BookService struct {
	pool       TxBeginner
	bookRepo   BookRepositoryInterface
	couponRepo CouponRepositoryInterface
}

// NewBookService creates a new BookService with the given pool and repositories.
func NewBookService(pool *pgxpool.Pool, bookRepo BookRepositoryInterface, couponRepo CouponRepositoryInterface) *BookService {
	return &BookService{pool: pool, bookRepo: bookRepo, couponRepo: couponRepo}
}

// NewBookServiceWithTxBeginner creates a BookService with a custom TxBeginner.
// Primarily used for testing.
func NewBookServiceWithTxBeginner(pool TxBeginner, bookRepo BookRepositoryInterface, couponRepo CouponRepositoryInterface) *BookService {
	return &BookService{pool: pool, bookRepo: bookRepo, couponRepo: couponRepo}
}

// pageWindow converts a 1-based page and a limit into an offset/limit
// pair, applying the default and the cap.
func pageWindow(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > listLimitCap {
		limit = listLimitCap
	}
	return (page - 1) * limit, limit
}

// Create creates a new coupon book from the request.
// Returns ErrInvalidRequest on shape violations, ErrInvalidPattern when
// the code pattern does not parse, and ErrBookExists on a duplicate
// (name, description) pair.
func (s *BookService) Create(ctx context.Context, req *model.CreateBookRequest) (*model.CouponBook, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	if !req.ValidFrom.Before(req.ValidUntil) {
		return nil, fmt.Errorf("%w: valid_from must precede valid_until", ErrInvalidRequest)
	}
	if req.MaxRedemptionsPerUser != nil && *req.MaxRedemptionsPerUser < 1 {
		return nil, fmt.Errorf("%w: max_redemptions_per_user must be positive", ErrInvalidRequest)
	}
	if req.MaxAssignmentsPerUser != nil && *req.MaxAssignmentsPerUser < 1 {
		return nil, fmt.Errorf("%w: max_assignments_per_user must be positive", ErrInvalidRequest)
	}
	if req.MaxCodes != nil && *req.MaxCodes < 1 {
		return nil, fmt.Errorf("%w: max_codes must be positive", ErrInvalidRequest)
	}
	if req.CodePattern != nil {
		if req.MaxCodes == nil {
			return nil, fmt.Errorf("%w: code_pattern requires max_codes", ErrInvalidRequest)
		}
		if _, err := codegen.Parse(*req.CodePattern); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	}

	now := time.Now().UTC()
	book := &model.CouponBook{
		ID:                    uuid.New(),
		Name:                  req.Name,
		Description:           req.Description,
		Active:                true,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		MaxAssignmentsPerUser: req.MaxAssignmentsPerUser,
		CodePattern:           req.CodePattern,
		MaxCodes:              req.MaxCodes,
		Metadata:              req.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if book.Metadata == nil {
		book.Metadata = map[string]any{}
	}

	if err := s.bookRepo.Insert(ctx, book); err != nil {
		if errors.Is(err, ErrBookExists) {
			return nil, ErrBookExists
		}
		return nil, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// Get retrieves a book with its per-status coupon statistics.
// Returns ErrBookNotFound if the book doesn't exist.
func (s *BookService) Get(ctx context.Context, id uuid.UUID) (*model.BookResponse, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}

	stats, err := s.bookRepo.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book stats: %w", err)
	}
	return &model.BookResponse{CouponBook: *book, Stats: stats}, nil
}

// List returns one page of books with pagination metadata.
func (s *BookService) List(ctx context.Context, page, limit int) (*model.BookListResponse, error) {
	offset, limit := pageWindow(page, limit)

	books, err := s.bookRepo.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	total, err := s.bookRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}

	return &model.BookListResponse{
		Items:      books,
		Pagination: model.Pagination{Page: offset/limit + 1, Limit: limit, Total: total},
	}, nil
}

// ListCoupons returns one page of a book's (code, status) pairs ordered
// by creation time descending.
// Returns ErrBookNotFound if the book doesn't exist.
func (s *BookService) ListCoupons(ctx context.Context, bookID uuid.UUID, page, limit int) (*model.CouponListResponse, error) {
	book, err := s.bookRepo.GetByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}

	offset, limit := pageWindow(page, limit)
	items, err := s.couponRepo.ListByBook(ctx, bookID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	total, err := s.couponRepo.CountByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("count coupons: %w", err)
	}

	return &model.CouponListResponse{
		Items:      items,
		Pagination: model.Pagination{Page: offset/limit + 1, Limit: limit, Total: total},
	}, nil
}

// Deactivate transitions a book from active to inactive, once.
// Returns ErrBookNotFound for unknown ids and ErrAlreadyInactive when
// the book was deactivated before.
func (s *BookService) Deactivate(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	book, err := s.bookRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book for update: %w", err)
	}
	if !book.Active {
		return nil, ErrAlreadyInactive
	}

	if err := s.bookRepo.Deactivate(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("deactivate book: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	book.Active = false
	return book, nil
}

// UploadCodes inserts caller-provided codes into a pattern-less book.
// Codes are normalized to uppercase; codes that violate the grammar are
// counted as invalid and never reach the database. All batches commit
// in one transaction together with the total_codes bump.
func (s *BookService) UploadCodes(ctx context.Context, bookID uuid.UUID, codes []string) (*model.CodeBatchResult, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no codes supplied", ErrInvalidRequest)
	}
	if len(codes) > maxCodesPerUpload {
		return nil, fmt.Errorf("%w: at most %d codes per call", ErrInvalidRequest, maxCodesPerUpload)
	}

	valid := make([]string, 0, len(codes))
	invalid := 0
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if !codeShape.MatchString(code) {
			invalid++
			continue
		}
		valid = append(valid, code)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := s.bookRepo.GetForUpdate(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book for update: %w", err)
	}
	if !book.Active {
		return nil, ErrBookUnavailable
	}
	if book.CodePattern != nil {
		return nil, fmt.Errorf("%w: book generates its own codes", ErrPatternMismatch)
	}

	inserted, err := s.insertInBatches(ctx, tx, bookID, valid)
	if err != nil {
		return nil, err
	}
	if err := s.bookRepo.AddTotalCodes(ctx, tx, bookID, inserted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.CodeBatchResult{
		Uploaded:   inserted,
		Duplicates: len(valid) - inserted,
		Invalid:    invalid,
		NewTotal:   book.TotalCodes + inserted,
		MaxCodes:   book.MaxCodes,
	}, nil
}

// GenerateCodes materializes server-generated codes for a pattern book.
// The requested count is clamped to the book's remaining capacity; the
// 80%-of-capacity guard on the pattern itself still applies to the
// clamped count. Returns ErrBookFull once total_codes reached max_codes.
func (s *BookService) GenerateCodes(ctx context.Context, bookID uuid.UUID, count int) (*model.CodeBatchResult, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidRequest)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := s.bookRepo.GetForUpdate(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book for update: %w", err)
	}
	if !book.Active {
		return nil, ErrBookUnavailable
	}
	if book.CodePattern == nil || book.MaxCodes == nil {
		return nil, fmt.Errorf("%w: book has no code pattern", ErrPatternMismatch)
	}

	remaining := *book.MaxCodes - book.TotalCodes
	if remaining <= 0 {
		return nil, ErrBookFull
	}
	if count > remaining {
		count = remaining
	}

	pattern, err := codegen.Parse(*book.CodePattern)
	if err != nil {
		return nil, fmt.Errorf("parse stored pattern: %w", err)
	}
	if err := pattern.ValidateCount(count); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCountTooLarge, err)
	}

	generated, err := pattern.Generate(count)
	if err != nil {
		if errors.Is(err, codegen.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", ErrPatternExhausted, err)
		}
		return nil, fmt.Errorf("generate codes: %w", err)
	}

	inserted, err := s.insertInBatches(ctx, tx, bookID, generated)
	if err != nil {
		return nil, err
	}
	if err := s.bookRepo.AddTotalCodes(ctx, tx, bookID, inserted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.CodeBatchResult{
		Uploaded:   inserted,
		Duplicates: len(generated) - inserted,
		Invalid:    0,
		NewTotal:   book.TotalCodes + inserted,
		MaxCodes:   book.MaxCodes,
	}, nil
}

// insertInBatches streams codes into fixed-size bulk insert statements
// inside the caller's transaction and sums the inserted counts.
func (s *BookService) insertInBatches(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, codes []string) (int, error) {
	inserted := 0
	for start := 0; start < len(codes); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(codes) {
			end = len(codes)
		}
		n, err := s.couponRepo.InsertBatch(ctx, tx, bookID, codes[start:end])
		if err != nil {
			return 0, fmt.Errorf("insert code batch: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}
