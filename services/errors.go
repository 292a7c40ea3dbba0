package services

import "errors"

// Error taxonomy for entitlement operations. Handlers map these onto HTTP
// statuses; callers decide retry behavior from the kind alone.
var (
	// ErrInvalidRequest means the caller sent a malformed grant (bad channel,
	// non-positive duration, missing ids). Not retriable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConflict means a concurrent writer touched the user record between
	// our read and write. The whole operation is safe to retry.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable wraps transient store failures. Retry with backoff
	// is safe because every grant is keyed on a dedup key.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned for unknown referral codes or missing records.
	ErrNotFound = errors.New("not found")
)
