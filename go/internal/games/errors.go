package games

import "errors"

// Error taxonomy surfaced by App. Service maps each to a stable RPC code;
// the wrapped detail is only logged.
var (
	ErrNotFound          = errors.New("game not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidPhase      = errors.New("game is not in the required phase")
	ErrSeatTaken         = errors.New("position already taken")
	ErrUnauthorized      = errors.New("player may not act for this position")
	ErrStaleState        = errors.New("stale state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransaction       = errors.New("transaction failed")
	ErrIntegrity         = errors.New("data integrity violation")

	// ErrIDCollision is returned by repositories when a generated id is
	// already in use. App retries creation on it.
	ErrIDCollision = errors.New("id collision")
)
