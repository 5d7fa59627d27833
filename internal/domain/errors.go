package domain

import "errors"

var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotFound          = errors.New("not found")
	ErrBetClosed         = errors.New("bet closed")
	ErrPastCutoff        = errors.New("past cutoff")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrTooEarly          = errors.New("too early")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrNotSettled        = errors.New("bet not settled")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	// ErrTransferUnknown means the transfer may have left the process. The
	// claim stays pending until a retry with the same id settles it.
	ErrTransferUnknown = errors.New("transfer outcome unknown")
)

// IsRetryable reports whether err is a transient condition the caller may
// retry later without changing the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) || errors.Is(err, ErrLockHeld)
}
