package domain

import "errors"

var (
	ErrNoActiveStake     = errors.New("no active stake")
	ErrDecodeMismatch    = errors.New("log does not match outcome event")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrPhaseMismatch     = errors.New("action not allowed in current phase")
	ErrClaimInFlight     = errors.New("claim already in flight")
	ErrNotPrivileged     = errors.New("identity is not privileged")
	ErrUnknownTier       = errors.New("unknown tier")
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrWithdrawInFlight  = errors.New("withdrawal already in flight")
)
