package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNoStakingProgram    = errors.New("no staking program for token and duration")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionNotFound    = errors.New("staking position not found")
	ErrPositionNotActive   = errors.New("staking position is no longer active")
	ErrDuplicateRate       = errors.New("duplicate active rate")
)

// Kind classifies an error for callers that must react to the category of
// failure rather than the exact cause.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUnauthorized    Kind = "unauthorized"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// KindOf maps err to its Kind. Unknown errors are internal; nil yields "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNoStakingProgram),
		errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrPositionNotActive):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
