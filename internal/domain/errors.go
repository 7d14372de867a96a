package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Market lifecycle
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("invalid lifecycle state")
	ErrMarketClosed      = errors.New("market is not accepting bets")
	ErrInvalidOutcome    = errors.New("invalid outcome index")
	ErrAmountOutOfRange  = errors.New("bet amount out of range")
	ErrMarketNotClosed   = errors.New("market is not closed")
	ErrMarketNotResolved = errors.New("market is not resolved")
	ErrAlreadyClaimed    = errors.New("winnings already claimed")
	ErrNotAWinner        = errors.New("bet is not on the winning outcome")

	// Governance
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInsufficientDelay  = errors.New("upgrade delay below minimum")
	ErrProposalNotFound   = errors.New("upgrade proposal not found")
	ErrAlreadyExecuted    = errors.New("upgrade proposal already executed")
	ErrTimelockNotElapsed = errors.New("timelock has not elapsed")

	// Treasury
	ErrInvalidAmount = errors.New("invalid amount")

	// Settlement
	ErrInsufficientData         = errors.New("insufficient qualifying replies")
	ErrClassificationFailure    = errors.New("classification service failure")
	ErrManualResolutionRequired = errors.New("manual resolution required")
)
