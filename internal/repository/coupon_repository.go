package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cucchi10/CouponManager/internal/model"
	"github.com/cucchi10/CouponManager/internal/service"
	"github.com/cucchi10/CouponManager/pkg/database"
)

const couponColumns = `id, coupon_book_id, code, status, version, created_at, updated_at`

// CouponRepository provides data access for individual coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom
// pool interface. This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(&c.ID, &c.BookID, &c.Code, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertBatch inserts one batch of codes for a book in a single
// statement, ignoring codes that collide with the global unique index.
// Returns the number of rows actually inserted. Callers slice their
// input to the statement batch size before calling.
func (r *CouponRepository) InsertBatch(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(codes))
	for i := range codes {
		ids[i] = uuid.New()
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO coupons (id, coupon_book_id, code)
		 SELECT u.id, $2, u.code
		 FROM unnest($1::uuid[], $3::text[]) AS u(id, code)
		 ON CONFLICT (code) DO NOTHING`,
		ids, bookID, codes)
	if err != nil {
		return 0, fmt.Errorf("bulk insert coupons for book %s: %w", bookID, err)
	}
	return int(tag.RowsAffected()), nil
}

// GetByCode retrieves a coupon by its globally unique code.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	coupon, err := scanCoupon(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get coupon by code %s: %w", code, err)
	}
	return coupon, nil
}

// PickAvailableForUpdate picks one random AVAILABLE coupon of the book
// and locks its row, skipping rows already locked by concurrent
// assigners so disjoint picks proceed without queueing.
// Returns nil, nil when no unlocked AVAILABLE coupon remains.
func (r *CouponRepository) PickAvailableForUpdate(ctx context.Context, tx database.TxQuerier, bookID uuid.UUID) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons
		WHERE coupon_book_id = $1 AND status = 'AVAILABLE'
		ORDER BY random() LIMIT 1
		FOR UPDATE SKIP LOCKED`

	coupon, err := scanCoupon(tx.QueryRow(ctx, query, bookID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pick available coupon for book %s: %w", bookID, err)
	}
	return coupon, nil
}

// GetByCodeForUpdateNoWait locks the coupon row, failing immediately
// when another transaction holds it.
// Returns service.ErrCouponNotFound if the code doesn't exist and
// service.ErrCouponContended when the lock is taken.
func (r *CouponRepository) GetByCodeForUpdateNoWait(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE NOWAIT`

	coupon, err := scanCoupon(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		if database.IsLockNotAvailable(err) {
			return nil, service.ErrCouponContended
		}
		return nil, fmt.Errorf("get coupon for update %s: %w", code, err)
	}
	return coupon, nil
}

// UpdateStatus transitions a locked coupon row and bumps its version.
// Must be called within a transaction after locking the row.
func (r *CouponRepository) UpdateStatus(ctx context.Context, tx database.TxQuerier, id uuid.UUID, status model.CouponStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update coupon status %s: %w", id, err)
	}
	return nil
}

// UpdateStatusCAS transitions the coupon only if its version still
// matches the value read earlier, bumping the version on success. A
// zero-row update means another writer got there first; that loser
// path returns service.ErrCouponContended.
func (r *CouponRepository) UpdateStatusCAS(ctx context.Context, tx database.TxQuerier, id uuid.UUID, status model.CouponStatus, version int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupons SET status = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $3`,
		id, status, version)
	if err != nil {
		return fmt.Errorf("cas update coupon %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCouponContended
	}
	return nil
}

// ListByBook returns one page of (code, status) pairs for a book,
// newest first.
func (r *CouponRepository) ListByBook(ctx context.Context, bookID uuid.UUID, offset, limit int) ([]model.CouponListItem, error) {
	query := `SELECT code, status FROM coupons
		WHERE coupon_book_id = $1
		ORDER BY created_at DESC OFFSET $2 LIMIT $3`

	rows, err := r.pool.Query(ctx, query, bookID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list coupons for book %s: %w", bookID, err)
	}
	defer rows.Close()

	items := []model.CouponListItem{}
	for rows.Next() {
		var item model.CouponListItem
		if err := rows.Scan(&item.Code, &item.Status); err != nil {
			return nil, fmt.Errorf("scan coupon list item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon rows: %w", err)
	}
	return items, nil
}

// CountByBook returns the number of coupons a book holds.
func (r *CouponRepository) CountByBook(ctx context.Context, bookID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM coupons WHERE coupon_book_id = $1`, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count coupons for book %s: %w", bookID, err)
	}
	return n, nil
}
