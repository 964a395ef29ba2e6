package stor

import "errors"

var (
	// ErrNotFound is returned when the named entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClaimConflict is returned when a fenced update's claimant no longer
	// holds the claim. Workers treat this as "work has been reassigned".
	ErrClaimConflict = errors.New("claim conflict")

	// ErrChecksumImmutable is returned when an update would alter a checksum
	// that has already been recorded.
	ErrChecksumImmutable = errors.New("checksum is immutable once set")

	// ErrInvalidUpdate is returned when an update body carries unknown fields
	// or badly typed values.
	ErrInvalidUpdate = errors.New("invalid update")
)
