package exchange

import "errors"

// Failure kinds surfaced by the engine. Every precondition violation maps
// to exactly one of these sentinels; callers match with errors.Is. No
// engine call mutates any state before returning one of them.
var (
	// System / temporal
	ErrPaused       = errors.New("exchange: exchange is paused")
	ErrOrderExpired = errors.New("exchange: timeout")
	ErrPairFrozen   = errors.New("exchange: tokens are frozen")

	// Pair eligibility
	ErrPairNotWhitelisted = errors.New("exchange: pair is not whitelisted")

	// Make validation
	ErrSelfOrder             = errors.New("exchange: cannot make an order for oneself")
	ErrEmptySellAmount       = errors.New("exchange: sell amount cannot be empty")
	ErrEmptyBuyAmount        = errors.New("exchange: buy amount cannot be empty")
	ErrInsufficientBalance   = errors.New("exchange: seller does not have enough balance")
	ErrInsufficientAllowance = errors.New("exchange: sell amount is greater than allowance")
	ErrMakerNotWhitelisted   = errors.New("exchange: seller is not on token whitelist")
	ErrTakerNotWhitelisted   = errors.New("exchange: specific taker is not on sell token whitelist")

	// Consistency
	ErrDuplicateOrderID = errors.New("exchange: order id already exists")
	ErrOrderNotFound    = errors.New("exchange: order id does not exist")

	// Take validation
	ErrZeroQuantity             = errors.New("exchange: quantity cannot be zero")
	ErrOverfill                 = errors.New("exchange: quantity exceeds remaining order amount")
	ErrNotSpecificTaker         = errors.New("exchange: not specific taker")
	ErrInsufficientBuyAllowance = errors.New("exchange: buy allowance is not sufficient")

	// Authorization. ErrNotEligibleOrPaused deliberately does not reveal
	// whether the caller was unauthorized or the exchange paused.
	ErrNotAuthorizedTrader = errors.New("exchange: caller is not an authorized trader")
	ErrNotOperator         = errors.New("exchange: caller is not an operator")
	ErrNotEligibleOrPaused = errors.New("exchange: not eligible to cancel this order or the exchange is paused")

	// Batch cardinality
	ErrTooFewOrders        = errors.New("exchange: fewer than two orders")
	ErrTooManyOrders       = errors.New("exchange: too many orders")
	ErrArrayLengthMismatch = errors.New("exchange: orders and buyers not equal")
)
