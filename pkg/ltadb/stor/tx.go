package stor

import (
	"errors"

	"gorm.io/gorm"
)

const txRetryCount = 3

// WithTxRetry runs fn in a transaction, retrying on failure. Claim updates
// on a busy queue can lose a race and deadlock-retry cheaply.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	for i := 0; i < txRetryCount; i++ {
		err = db.Transaction(fn)
		if err == nil {
			break
		}
		if isPermanent(err) {
			break
		}
	}

	return err
}

// isPermanent reports errors retrying cannot fix: our own sentinel errors
// and gorm's record-not-found.
func isPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrClaimConflict),
		errors.Is(err, ErrChecksumImmutable),
		errors.Is(err, ErrInvalidUpdate),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
