package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConnection indicates the backend is unreachable or the request failed in transit.
	// Shown to the user as a generic connection problem for user-initiated actions.
	ErrConnection = errors.New("connection problem, please try again")

	// ErrAuthFailed indicates the access token or credentials were rejected
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrNotAuthenticated indicates an action needs a signed-in identity
	ErrNotAuthenticated = errors.New("sign in required")

	// ErrDuplicate indicates a uniqueness conflict on insert
	ErrDuplicate = errors.New("duplicate record")

	// ErrToggleInFlight indicates a toggle for the same target is still pending
	ErrToggleInFlight = errors.New("toggle already in flight")

	// ErrRateLimited indicates the action was refused by a rate limit
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrForbidden indicates the identity lacks permission for the action
	ErrForbidden = errors.New("permission denied")

	// ErrTooLarge indicates a blob exceeds the cache capacity
	ErrTooLarge = errors.New("blob exceeds cache capacity")

	// ErrInvalidInput indicates malformed arguments
	ErrInvalidInput = errors.New("invalid input")
)
