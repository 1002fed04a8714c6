package certdb

import "errors"

var (
	// ErrNotFound is returned by state and delete lookups of a fingerprint
	// the store does not hold.
	ErrNotFound = errors.New("certificate not found")
	// ErrCertNotAvailable is returned when the certificate bytes for a
	// fingerprint cannot be produced (get, export).
	ErrCertNotAvailable = errors.New("certificate not available")
	// ErrInvalidFingerprint is returned for keys that are not lowercase hex SHA-256.
	ErrInvalidFingerprint = errors.New("invalid certificate fingerprint")
	// ErrFingerprintMismatch is returned when a record's fingerprint does not
	// match the SHA-256 of its DER bytes.
	ErrFingerprintMismatch = errors.New("fingerprint does not match certificate")
	// ErrReadOnly is returned by mutating operations on a read-only store.
	ErrReadOnly = errors.New("storage opened read-only")
	// ErrNotInitialized is returned when opening a directory without a storage config.
	ErrNotInitialized = errors.New("storage not initialized")
	// ErrAlreadyInitialized is returned by Setup on an existing storage.
	ErrAlreadyInitialized = errors.New("storage already initialized")
	// ErrLocked is returned when another process holds the storage open for writing.
	ErrLocked = errors.New("storage locked by another process")
)
