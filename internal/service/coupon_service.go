package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cucchi10/CouponManager/internal/model"
	"github.com/cucchi10/CouponManager/pkg/database"
)

// Cache plane feature names. Resources are the bare code for checkout
// locks and code:user for redemption, so distinct users redeeming
// distinct coupons never contend in the cache.
const (
	featureCouponLock   = "coupon-lock"
	featureCouponRedeem = "coupon-redeem"
)

// AssignmentRepositoryInterface defines the interface for assignment data access.
type AssignmentRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, a *model.CouponAssignment) error
	CountByUserAndBook(ctx context.Context, userID string, bookID uuid.UUID) (int, error)
	GetForUpdateNoWait(ctx context.Context, tx database.TxQuerier, couponID uuid.UUID, userID string) (*model.CouponAssignment, error)
	GetByCouponAndUser(ctx context.Context, couponID uuid.UUID, userID string) (*model.CouponAssignment, error)
	SetLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID, lockedAt, expiresAt time.Time) error
	ClearLock(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error
	RecordRedemption(ctx context.Context, tx database.TxQuerier, id uuid.UUID, count int, redeemedAt time.Time, metadata map[string]any) error
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.UserCoupon, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// CachePlane defines the dedup-flag and lock operations the coupon
// service needs from the cache.
type CachePlane interface {
	SetDedup(ctx context.Context, feature, resource string, ttl time.Duration) bool
	ClearDedup(ctx context.Context, feature, resource string)
	AcquireLock(ctx context.Context, feature, resource string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, feature, resource string)
}

// LockBounds carries the checkout-lock duration bounds and the TTLs of
// the redemption concurrency layers.
type LockBounds struct {
	Min     time.Duration
	Max     time.Duration
	Default time.Duration
	Redeem  time.Duration
	Dedup   time.Duration
}

// DefaultLockBounds matches the documented protocol values.
func DefaultLockBounds() LockBounds {
	return LockBounds{
		Min:     30 * time.Second,
		Max:     600 * time.Second,
		Default: 300 * time.Second,
		Redeem:  10 * time.Second,
		Dedup:   60 * time.Second,
	}
}

// CouponService provides assignment, reservation and redemption of
// individual coupons. The cache plane short-circuits obvious races;
// the database row locks and the version compare-and-set are the
// authority.
type CouponService struct {
	pool       TxBeginner
	cache      CachePlane
	bookRepo   BookRepositoryInterface
	couponRepo CouponRepositoryInterface
	assignRepo AssignmentRepositoryInterface
	bounds     LockBounds
}

// NewCouponService creates a new CouponService.
func NewCouponService(pool *pgxpool.Pool, cache CachePlane, bookRepo BookRepositoryInterface, couponRepo CouponRepositoryInterface, assignRepo AssignmentRepositoryInterface, bounds LockBounds) *CouponService {
	return &CouponService{
		pool:       pool,
		cache:      cache,
		bookRepo:   bookRepo,
		couponRepo: couponRepo,
		assignRepo: assignRepo,
		bounds:     bounds,
	}
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom
// TxBeginner. Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool TxBeginner, cache CachePlane, bookRepo BookRepositoryInterface, couponRepo CouponRepositoryInterface, assignRepo AssignmentRepositoryInterface, bounds LockBounds) *CouponService {
	return &CouponService{
		pool:       pool,
		cache:      cache,
		bookRepo:   bookRepo,
		couponRepo: couponRepo,
		assignRepo: assignRepo,
		bounds:     bounds,
	}
}

// validateBookForUser checks that the book accepts new bindings for the
// user: active, inside its validity window, and under the per-user
// assignment cap. The cap counts rows, not statuses; historical
// bindings count too.
func (s *CouponService) validateBookForUser(ctx context.Context, book *model.CouponBook, userID string) error {
	if book == nil || !book.Active || !book.ValidNow(time.Now().UTC()) {
		return ErrBookUnavailable
	}
	if book.MaxAssignmentsPerUser != nil {
		n, err := s.assignRepo.CountByUserAndBook(ctx, userID, book.ID)
		if err != nil {
			return fmt.Errorf("count user assignments: %w", err)
		}
		if n >= *book.MaxAssignmentsPerUser {
			return ErrAssignmentLimit
		}
	}
	return nil
}

// AssignRandom atomically binds one random AVAILABLE coupon of the book
// to the user. Concurrent assigners skip each other's locked rows, so
// N callers proceed on disjoint coupons without queueing.
func (s *CouponService) AssignRandom(ctx context.Context, bookID uuid.UUID, userID string) (*model.AssignmentResponse, error) {
	book, err := s.bookRepo.GetByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if err := s.validateBookForUser(ctx, book, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	coupon, err := s.couponRepo.PickAvailableForUpdate(ctx, tx, bookID)
	if err != nil {
		return nil, fmt.Errorf("pick available coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrNoAvailableCoupons
	}

	if err := s.couponRepo.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return nil, err
	}

	assignment := &model.CouponAssignment{
		ID:         uuid.New(),
		CouponID:   coupon.ID,
		UserID:     userID,
		AssignedAt: time.Now().UTC(),
		Metadata:   map[string]any{},
	}
	if err := s.assignRepo.Insert(ctx, tx, assignment); err != nil {
		if errors.Is(err, ErrAlreadyAssigned) {
			return nil, ErrAlreadyAssigned
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.AssignmentResponse{
		Code:       coupon.Code,
		BookID:     coupon.BookID,
		UserID:     userID,
		AssignedAt: assignment.AssignedAt,
	}, nil
}

// AssignSpecific binds the named coupon to the user. The row lock is
// no-wait: contention surfaces immediately as a conflict instead of
// queueing behind the other writer.
func (s *CouponService) AssignSpecific(ctx context.Context, code, userID string) (*model.AssignmentResponse, error) {
	existing, err := s.couponRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if existing == nil {
		return nil, ErrCouponNotFound
	}

	book, err := s.bookRepo.GetByID(ctx, existing.BookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if err := s.validateBookForUser(ctx, book, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, err := s.couponRepo.GetByCodeForUpdateNoWait(ctx, tx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrCouponContended) {
			return nil, err
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}
	if coupon.Status != model.StatusAvailable {
		return nil, fmt.Errorf("%w: status %s", ErrNotAssignable, coupon.Status)
	}

	if err := s.couponRepo.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return nil, err
	}

	assignment := &model.CouponAssignment{
		ID:         uuid.New(),
		CouponID:   coupon.ID,
		UserID:     userID,
		AssignedAt: time.Now().UTC(),
		Metadata:   map[string]any{},
	}
	if err := s.assignRepo.Insert(ctx, tx, assignment); err != nil {
		if errors.Is(err, ErrAlreadyAssigned) {
			return nil, ErrAlreadyAssigned
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.AssignmentResponse{
		Code:       coupon.Code,
		BookID:     coupon.BookID,
		UserID:     userID,
		AssignedAt: assignment.AssignedAt,
	}, nil
}

// Lock places a short-lived checkout reservation on the user's coupon.
// The cache lock suppresses concurrent lockers cheaply; the database
// lock_expires_at is the authoritative expiry and survives cache loss.
func (s *CouponService) Lock(ctx context.Context, code, userID string, duration time.Duration) (*model.LockResponse, error) {
	if duration == 0 {
		duration = s.bounds.Default
	}
	if duration < s.bounds.Min || duration > s.bounds.Max {
		return nil, fmt.Errorf("%w: lock duration out of bounds", ErrInvalidRequest)
	}

	if !s.cache.AcquireLock(ctx, featureCouponLock, code, duration) {
		return nil, ErrCurrentlyLocked
	}
	defer s.cache.ReleaseLock(ctx, featureCouponLock, code)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, assignment, book, err := s.lockPairNoWait(ctx, tx, code, userID)
	if err != nil {
		return nil, err
	}
	if coupon.Status != model.StatusAssigned && coupon.Status != model.StatusLocked {
		return nil, fmt.Errorf("%w: status %s", ErrNotAssignable, coupon.Status)
	}
	now := time.Now().UTC()
	if now.After(book.ValidUntil) {
		return nil, ErrCouponExpired
	}

	expiresAt := now.Add(duration)
	if err := s.couponRepo.UpdateStatus(ctx, tx, coupon.ID, model.StatusLocked); err != nil {
		return nil, err
	}
	if err := s.assignRepo.SetLock(ctx, tx, assignment.ID, now, expiresAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.LockResponse{Code: code, LockedAt: now, LockExpiresAt: expiresAt}, nil
}

// Unlock releases the checkout reservation, returning the coupon to
// ASSIGNED and clearing both lock fields.
func (s *CouponService) Unlock(ctx context.Context, code, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, assignment, _, err := s.lockPairNoWait(ctx, tx, code, userID)
	if err != nil {
		return err
	}
	if coupon.Status != model.StatusLocked {
		return ErrNotLocked
	}

	if err := s.couponRepo.UpdateStatus(ctx, tx, coupon.ID, model.StatusAssigned); err != nil {
		return err
	}
	if err := s.assignRepo.ClearLock(ctx, tx, assignment.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Redeem consumes one redemption of the user's coupon. Four layers
// cooperate: the dedup flag kills accidental double-submits, the cache
// lock kills simultaneous distinct requests, the no-wait row lock
// serializes surviving transactions, and the version compare-and-set
// rejects the rare loser that read the row at the same version anyway.
func (s *CouponService) Redeem(ctx context.Context, code, userID string, metadata map[string]any) (*model.RedeemResponse, error) {
	resource := code + ":" + userID

	if !s.cache.SetDedup(ctx, featureCouponRedeem, resource, s.bounds.Dedup) {
		return nil, ErrRedeemInProgress
	}
	defer s.cache.ClearDedup(ctx, featureCouponRedeem, resource)

	if !s.cache.AcquireLock(ctx, featureCouponRedeem, resource, s.bounds.Redeem) {
		return nil, ErrCurrentlyLocked
	}
	defer s.cache.ReleaseLock(ctx, featureCouponRedeem, resource)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, assignment, book, err := s.lockPairNoWait(ctx, tx, code, userID)
	if err != nil {
		return nil, err
	}
	if coupon.Status != model.StatusAssigned && coupon.Status != model.StatusLocked {
		return nil, fmt.Errorf("%w: status %s", ErrNotAssignable, coupon.Status)
	}
	now := time.Now().UTC()
	if now.After(book.ValidUntil) {
		return nil, ErrCouponExpired
	}

	max := book.MaxRedemptionsPerUser
	newCount := assignment.RedemptionCount + 1
	if max != nil && newCount > *max {
		return nil, ErrRedemptionLimit
	}

	newStatus := model.StatusAssigned
	if max != nil && newCount == *max {
		newStatus = model.StatusRedeemed
	}

	if err := s.couponRepo.UpdateStatusCAS(ctx, tx, coupon.ID, newStatus, coupon.Version); err != nil {
		if errors.Is(err, ErrCouponContended) {
			return nil, ErrCouponContended
		}
		return nil, fmt.Errorf("cas coupon update: %w", err)
	}
	if err := s.assignRepo.RecordRedemption(ctx, tx, assignment.ID, newCount, now, metadata); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	resp := &model.RedeemResponse{
		Code:            code,
		RedeemedAt:      now,
		RedemptionCount: newCount,
		FullyRedeemed:   newStatus == model.StatusRedeemed,
	}
	if max != nil {
		remaining := *max - newCount
		resp.Remaining = &remaining
	}
	return resp, nil
}

// lockPairNoWait locks the coupon row and the user's assignment row
// with no-wait semantics and loads the owning book. Only the binding
// owner can reach the pair; a missing assignment reads as not found.
func (s *CouponService) lockPairNoWait(ctx context.Context, tx database.TxQuerier, code, userID string) (*model.Coupon, *model.CouponAssignment, *model.CouponBook, error) {
	coupon, err := s.couponRepo.GetByCodeForUpdateNoWait(ctx, tx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrCouponContended) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, fmt.Errorf("lock coupon: %w", err)
	}

	assignment, err := s.assignRepo.GetForUpdateNoWait(ctx, tx, coupon.ID, userID)
	if err != nil {
		if errors.Is(err, ErrCouponContended) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, fmt.Errorf("lock assignment: %w", err)
	}
	if assignment == nil {
		return nil, nil, nil, ErrCouponNotFound
	}

	book, err := s.bookRepo.GetByID(ctx, coupon.BookID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, nil, nil, fmt.Errorf("book %s missing for coupon %s", coupon.BookID, coupon.ID)
	}
	return coupon, assignment, book, nil
}

// GetStatus reports the coupon's current state as seen by the calling
// user. EXPIRED is derived from the book's validity window at read
// time; nothing sweeps coupon rows when a book expires.
func (s *CouponService) GetStatus(ctx context.Context, code, userID string) (*model.CouponStatusResponse, error) {
	coupon, err := s.couponRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	book, err := s.bookRepo.GetByID(ctx, coupon.BookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %s missing for coupon %s", coupon.BookID, coupon.ID)
	}

	assignment, err := s.assignRepo.GetByCouponAndUser(ctx, coupon.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	now := time.Now().UTC()
	status := coupon.Status
	if now.After(book.ValidUntil) {
		status = model.StatusExpired
	}

	resp := &model.CouponStatusResponse{
		Code:           coupon.Code,
		Status:         status,
		Owned:          assignment != nil,
		MaxRedemptions: book.MaxRedemptionsPerUser,
		ValidUntil:     book.ValidUntil,
	}
	if assignment != nil {
		resp.Locked = assignment.LockActive(now)
		resp.LockExpiresAt = assignment.LockExpiresAt
		resp.RedemptionCount = assignment.RedemptionCount
	}
	return resp, nil
}

// GetUserCoupons pages through the user's assignments, most recent first.
func (s *CouponService) GetUserCoupons(ctx context.Context, userID string, page, limit int) (*model.UserCouponsResponse, error) {
	offset, limit := pageWindow(page, limit)

	items, err := s.assignRepo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list user coupons: %w", err)
	}
	total, err := s.assignRepo.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count user coupons: %w", err)
	}

	return &model.UserCouponsResponse{
		Items:      items,
		Pagination: model.Pagination{Page: offset/limit + 1, Limit: limit, Total: total},
	}, nil
}
