package apperrors

import "errors"

// Order and account errors surfaced to strategies
var (
	ErrZeroQuantity         = errors.New("order quantity is zero")
	ErrBelowLotSize         = errors.New("order quantity below lot size")
	ErrInvalidOrderType     = errors.New("invalid order type")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTerminalState        = errors.New("order is in a terminal state")
	ErrInvalidDirection     = errors.New("invalid position direction")
	ErrCloseExceedsPosition = errors.New("close quantity exceeds position quantity")
	ErrShortNotAllowed      = errors.New("short selling not allowed in long_only mode")
)

// Session lifecycle errors
var (
	ErrNotInitializing   = errors.New("only allowed during strategy initialization")
	ErrInitialStateSet   = errors.New("initial state already set")
	ErrAlignWhileTrading = errors.New("account alignment not allowed during trading phase")
	ErrInvalidTimePoint  = errors.New("invalid schedule time point")
	ErrNoStrategy        = errors.New("no strategy registered")
)

// State persistence errors
var (
	ErrStateNotFound     = errors.New("state not found")
	ErrStateCorrupted    = errors.New("state checksum mismatch")
	ErrTerminalStateBlob = errors.New("state blob is terminal and cannot be resumed or forked")
)
