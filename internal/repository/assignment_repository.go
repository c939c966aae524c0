package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cucchi10/CouponManager/internal/model"
	"github.com/cucchi10/CouponManager/internal/service"
	"github.com/cucchi10/CouponManager/pkg/database"
)

const assignmentColumns = `id, coupon_id, user_id, assigned_at, locked_at,
	lock_expires_at, redeemed_at, redemption_count, metadata`

// AssignmentRepository provides data access for coupon-user bindings.
type AssignmentRepository struct {
	pool PoolInterface
}

// NewAssignmentRepository creates a new AssignmentRepository with the given pool.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// NewAssignmentRepositoryWithPool creates a new AssignmentRepository with a
// custom pool interface. This is primarily used for testing.
func NewAssignmentRepositoryWithPool(pool PoolInterface) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

func scanAssignment(row pgx.Row) (*model.CouponAssignment, error) {
	var a model.CouponAssignment
	err := row.Scan(
		&a.ID,
		&a.CouponID,
		&a.UserID,
		&a.AssignedAt,
		&a.LockedAt,
		&a.LockExpiresAt,
		&a.RedeemedAt,
		&a.RedemptionCount,
		&a.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert inserts a new assignment record within a transaction.
// Returns service.ErrAlreadyAssigned if the (coupon, user) pair exists.
func (r *AssignmentRepository) Insert(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO coupon_assignments (id, coupon_id, user_id, assigned_at, redemption_count, metadata)
		 VALUES ($1, $2, $3, $4, 0, $5)`,
		a.ID, a.CouponID, a.UserID, a.AssignedAt, a.Metadata)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return service.ErrAlreadyAssigned
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// CountByUserAndBook counts every assignment the user holds in a book.
// Rows are never deleted and status is deliberately not filtered, so
// the count caps historical as well as current bindings.
func (r *AssignmentRepository) CountByUserAndBook(ctx context.Context, userID string, bookID uuid.UUID) (int, error) {
	query := `SELECT count(*) FROM coupon_assignments a
		JOIN coupons c ON c.id = a.coupon_id
		WHERE a.user_id = $1 AND c.coupon_book_id = $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, bookID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assignments for user %s in book %s: %w", userID, bookID, err)
	}
	return n, nil
}

// GetForUpdateNoWait locks the user's assignment row for a coupon,
// failing immediately on contention.
// Returns nil, nil when the user holds no assignment for the coupon.
func (r *AssignmentRepository) GetForUpdateNoWait(ctx context.Context, tx database.TxQuerier, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM coupon_assignments
		WHERE coupon_id = $1 AND user_id = $2 FOR UPDATE NOWAIT`

	a, err := scanAssignment(tx.QueryRow(ctx, query, couponID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if database.IsLockNotAvailable(err) {
			return nil, service.ErrCouponContended
		}
		return nil, fmt.Errorf("get assignment for update: %w", err)
	}
	return a, nil
}

// GetByCouponAndUser retrieves the user's assignment row without locking.
// Returns nil, nil if the user holds no assignment for the coupon.
func (r *AssignmentRepository) GetByCouponAndUser(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM coupon_assignments
		WHERE coupon_id = $1 AND user_id = $2`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, couponID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// SetLock stamps the checkout reservation window on the assignment row.
func (r *AssignmentRepository) SetLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, expiresAt time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupon_assignments SET locked_at = $2, lock_expires_at = $3 WHERE id = $1`,
		id, lockedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("set assignment lock %s: %w", id, err)
	}
	return nil
}

// ClearLock nulls both lock fields.
func (r *AssignmentRepository) ClearLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupon_assignments SET locked_at = NULL, lock_expires_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear assignment lock %s: %w", id, err)
	}
	return nil
}

// RecordRedemption writes the new redemption count, stamps redeemed_at,
// clears the lock fields and merges the caller's metadata into the bag.
func (r *AssignmentRepository) RecordRedemption(ctx context.Context, tx database.TxQuerier, id uuid.UUID, count int, redeemedAt time.Time, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`UPDATE coupon_assignments
		 SET redemption_count = $2, redeemed_at = $3,
		     locked_at = NULL, lock_expires_at = NULL,
		     metadata = metadata || $4::jsonb
		 WHERE id = $1`,
		id, count, redeemedAt, metadata)
	if err != nil {
		return fmt.Errorf("record redemption %s: %w", id, err)
	}
	return nil
}

// ListByUser returns one page of the user's coupons joined with their
// book, most recently assigned first.
func (r *AssignmentRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.UserCoupon, error) {
	query := `SELECT c.code, c.status, b.name, a.assigned_at, a.redeemed_at, a.redemption_count
		FROM coupon_assignments a
		JOIN coupons c ON c.id = a.coupon_id
		JOIN coupon_books b ON b.id = c.coupon_book_id
		WHERE a.user_id = $1
		ORDER BY a.assigned_at DESC OFFSET $2 LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list coupons for user %s: %w", userID, err)
	}
	defer rows.Close()

	items := []model.UserCoupon{}
	for rows.Next() {
		var item model.UserCoupon
		err := rows.Scan(&item.Code, &item.Status, &item.BookName,
			&item.AssignedAt, &item.RedeemedAt, &item.RedemptionCount)
		if err != nil {
			return nil, fmt.Errorf("scan user coupon: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user coupon rows: %w", err)
	}
	return items, nil
}

// CountByUser returns the number of assignments the user holds.
func (r *AssignmentRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM coupon_assignments WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assignments for user %s: %w", userID, err)
	}
	return n, nil
}
