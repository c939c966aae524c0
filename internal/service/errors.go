package service

import "errors"

var (
	// ErrInvalidRequest is returned when request data is invalid or incomplete.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidCode is returned when a coupon code violates the code grammar.
	ErrInvalidCode = errors.New("invalid coupon code")

	// ErrInvalidPattern is returned when a book's code pattern does not parse.
	ErrInvalidPattern = errors.New("invalid code pattern")

	// ErrCountTooLarge is returned when a generation request exceeds the
	// pattern's safe capacity.
	ErrCountTooLarge = errors.New("count exceeds pattern capacity")

	// ErrBookNotFound is returned when a coupon book cannot be found.
	ErrBookNotFound = errors.New("coupon book not found")

	// ErrCouponNotFound is returned when a coupon cannot be found, or when
	// the caller holds no assignment for it.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrBookExists is returned when creating a book whose (name,
	// description) pair already exists.
	ErrBookExists = errors.New("coupon book already exists")

	// ErrAlreadyInactive is returned when deactivating a book twice.
	ErrAlreadyInactive = errors.New("coupon book already inactive")

	// ErrAlreadyAssigned is returned when a (coupon, user) binding
	// already exists.
	ErrAlreadyAssigned = errors.New("coupon already assigned to user")

	// ErrCouponContended is returned when a row lock or the version
	// compare-and-set is lost to a concurrent request.
	ErrCouponContended = errors.New("coupon contended, retry")

	// ErrCurrentlyLocked is returned when the distributed coupon lock is
	// held by another request.
	ErrCurrentlyLocked = errors.New("coupon currently locked")

	// ErrRedeemInProgress is returned when a redemption for the same
	// coupon and user is already in flight.
	ErrRedeemInProgress = errors.New("redemption already in progress")

	// ErrBookUnavailable is returned when a book is inactive or outside
	// its validity window.
	ErrBookUnavailable = errors.New("coupon book not available")

	// ErrNoAvailableCoupons is returned when a book has no AVAILABLE
	// coupon left to assign.
	ErrNoAvailableCoupons = errors.New("no available coupons")

	// ErrAssignmentLimit is returned when a user reached the book's
	// per-user assignment cap.
	ErrAssignmentLimit = errors.New("assignment limit reached")

	// ErrRedemptionLimit is returned when a redemption would exceed the
	// book's per-user redemption cap.
	ErrRedemptionLimit = errors.New("redemption limit reached")

	// ErrNotAssignable is returned when a coupon's status forbids the
	// requested transition.
	ErrNotAssignable = errors.New("coupon not in an eligible state")

	// ErrNotLocked is returned when unlocking a coupon that is not LOCKED.
	ErrNotLocked = errors.New("coupon not locked")

	// ErrCouponExpired is returned when the owning book's validity
	// window has passed.
	ErrCouponExpired = errors.New("coupon expired")

	// ErrBookFull is returned when a book already holds maxCodes coupons.
	ErrBookFull = errors.New("coupon book already at capacity")

	// ErrPatternMismatch is returned when UploadCodes targets a pattern
	// book or GenerateCodes targets a pattern-less book.
	ErrPatternMismatch = errors.New("operation does not match book code source")

	// ErrPatternExhausted is returned when the generator cannot draw the
	// requested number of unique codes.
	ErrPatternExhausted = errors.New("pattern exhausted")
)

// Kind buckets every service error into the transport-facing taxonomy.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindBusiness
)

// ErrKind classifies err. Anything not matching a sentinel is Internal.
func ErrKind(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidPattern),
		errors.Is(err, ErrCountTooLarge):
		return KindValidation
	case errors.Is(err, ErrBookNotFound),
		errors.Is(err, ErrCouponNotFound):
		return KindNotFound
	case errors.Is(err, ErrBookExists),
		errors.Is(err, ErrAlreadyInactive),
		errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrCouponContended),
		errors.Is(err, ErrCurrentlyLocked),
		errors.Is(err, ErrRedeemInProgress):
		return KindConflict
	case errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrNoAvailableCoupons),
		errors.Is(err, ErrAssignmentLimit),
		errors.Is(err, ErrRedemptionLimit),
		errors.Is(err, ErrNotAssignable),
		errors.Is(err, ErrNotLocked),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrBookFull),
		errors.Is(err, ErrPatternMismatch),
		errors.Is(err, ErrPatternExhausted):
		return KindBusiness
	default:
		return KindInternal
	}
}
