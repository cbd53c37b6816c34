package service

import "errors"

var (
	// ErrInvalidAmount means a negative or unrepresentable amount was passed.
	ErrInvalidAmount       = errors.New("amount must be a non-negative value with at most 2 decimal places and 10 integer digits")
	ErrInvalidMethod       = errors.New(`method must be "0" (deposit) or "1" (withdraw)`)
	ErrScheduledTimeInPast = errors.New("scheduled_time must be larger than now")
	ErrInvalidUser         = errors.New("username is required")
	ErrReadOnlyField       = errors.New("read-only field")

	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrUserExists   = errors.New("username already taken")
	ErrWalletExists = errors.New("user already owns a wallet")

	// ErrAlreadyExecuted guards against a re-fired job running a transaction twice.
	ErrAlreadyExecuted = errors.New("transaction has already been executed")

	// ErrNotYetDue guards against running a withdrawal before its scheduled time.
	ErrNotYetDue = errors.New("withdrawal time has not yet arrived")

	ErrNotPending  = errors.New("transaction is not pending")
	ErrWrongMethod = errors.New("transaction method does not match the requested execution")
)
