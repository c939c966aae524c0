package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cucchi10/CouponManager/internal/model"
	"github.com/cucchi10/CouponManager/internal/service"
	"github.com/cucchi10/CouponManager/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const bookColumns = `id, name, description, active, valid_from, valid_until,
	max_redemptions_per_user, max_assignments_per_user, code_pattern, max_codes,
	total_codes, metadata, created_at, updated_at`

// BookRepository provides data access for coupon books using pgx.
type BookRepository struct {
	pool PoolInterface
}

// NewBookRepository creates a new BookRepository with the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// NewBookRepositoryWithPool creates a new BookRepository with a custom pool
// interface. This is primarily used for testing.
func NewBookRepositoryWithPool(pool PoolInterface) *BookRepository {
	return &BookRepository{pool: pool}
}

func scanBook(row pgx.Row) (*model.CouponBook, error) {
	var book model.CouponBook
	err := row.Scan(
		&book.ID,
		&book.Name,
		&book.Description,
		&book.Active,
		&book.ValidFrom,
		&book.ValidUntil,
		&book.MaxRedemptionsPerUser,
		&book.MaxAssignmentsPerUser,
		&book.CodePattern,
		&book.MaxCodes,
		&book.TotalCodes,
		&book.Metadata,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// Insert inserts a new coupon book.
// Returns service.ErrBookExists if the (name, description) pair is taken.
func (r *BookRepository) Insert(ctx context.Context, book *model.CouponBook) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupon_books
			(id, name, description, active, valid_from, valid_until,
			 max_redemptions_per_user, max_assignments_per_user, code_pattern,
			 max_codes, total_codes, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, 0, $10, $11, $11)`,
		book.ID, book.Name, book.Description, book.ValidFrom, book.ValidUntil,
		book.MaxRedemptionsPerUser, book.MaxAssignmentsPerUser, book.CodePattern,
		book.MaxCodes, book.Metadata, book.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return service.ErrBookExists
		}
		return fmt.Errorf("insert coupon book: %w", err)
	}
	return nil
}

// GetByID retrieves a book by its id.
// Returns nil, nil if the book is not found (service layer handles this).
func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CouponBook, error) {
	query := `SELECT ` + bookColumns + ` FROM coupon_books WHERE id = $1`

	book, err := scanBook(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get coupon book %s: %w", id, err)
	}
	return book, nil
}

// GetForUpdate retrieves a book with a row lock (SELECT FOR UPDATE).
// Concurrent bulk inserts on the same book serialize on this lock so the
// total_codes counter stays consistent with the rows actually inserted.
// Returns service.ErrBookNotFound if the book doesn't exist.
func (r *BookRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.CouponBook, error) {
	query := `SELECT ` + bookColumns + ` FROM coupon_books WHERE id = $1 FOR UPDATE`

	book, err := scanBook(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrBookNotFound
		}
		return nil, fmt.Errorf("get coupon book for update %s: %w", id, err)
	}
	return book, nil
}

// List returns one page of books ordered by creation time, newest first.
func (r *BookRepository) List(ctx context.Context, offset, limit int) ([]model.CouponBook, error) {
	query := `SELECT ` + bookColumns + ` FROM coupon_books
		ORDER BY created_at DESC OFFSET $1 LIMIT $2`

	rows, err := r.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list coupon books: %w", err)
	}
	defer rows.Close()

	books := []model.CouponBook{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon book: %w", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon book rows: %w", err)
	}
	return books, nil
}

// Count returns the total number of books.
func (r *BookRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM coupon_books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count coupon books: %w", err)
	}
	return n, nil
}

// Deactivate flips active to false. The caller verifies the book is
// currently active under the row lock; active never goes back to true.
func (r *BookRepository) Deactivate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupon_books SET active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate coupon book %s: %w", id, err)
	}
	return nil
}

// AddTotalCodes bumps the total_codes counter by n within the bulk
// insert transaction.
func (r *BookRepository) AddTotalCodes(ctx context.Context, tx database.TxQuerier, id uuid.UUID, n int) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupon_books SET total_codes = total_codes + $2, updated_at = now() WHERE id = $1`,
		id, n)
	if err != nil {
		return fmt.Errorf("add total codes for book %s: %w", id, err)
	}
	return nil
}

// Stats returns the per-status coupon counts for a book.
func (r *BookRepository) Stats(ctx context.Context, id uuid.UUID) (*model.BookStats, error) {
	query := `SELECT
			count(*) FILTER (WHERE status = 'AVAILABLE'),
			count(*) FILTER (WHERE status = 'ASSIGNED'),
			count(*) FILTER (WHERE status = 'LOCKED'),
			count(*) FILTER (WHERE status = 'REDEEMED')
		FROM coupons WHERE coupon_book_id = $1`

	var stats model.BookStats
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&stats.Available, &stats.Assigned, &stats.Locked, &stats.Redeemed)
	if err != nil {
		return nil, fmt.Errorf("book stats %s: %w", id, err)
	}
	return &stats, nil
}
