package storage

import "errors"

// Sentinel errors surfaced to the HTTP layer for status mapping.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrKeyInvalid is returned when an API key is unknown, inactive, or revoked.
	ErrKeyInvalid = errors.New("storage: api key invalid")

	// ErrKeyExpired is returned when an API key is past its expiry.
	ErrKeyExpired = errors.New("storage: api key expired")

	// ErrQuotaExceeded is returned when a metered key has no quota left
	// in the current window.
	ErrQuotaExceeded = errors.New("storage: monthly quota exceeded")

	// ErrDuplicateEmail is returned when registration collides with an
	// existing active key for the same email.
	ErrDuplicateEmail = errors.New("storage: email already registered")

	// ErrKeyNotRevoked is returned when deleting a key that has not been
	// revoked first.
	ErrKeyNotRevoked = errors.New("storage: api key must be revoked before deletion")

	// ErrDuplicateKeyHash is returned when an inserted key hash collides
	// with a live credential. The caller regenerates and retries.
	ErrDuplicateKeyHash = errors.New("storage: key hash already exists")
)
