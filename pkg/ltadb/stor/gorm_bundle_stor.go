package stor

import (
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wipac/lta/pkg/lock"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

type GormBundleStor struct {
	db        *gorm.DB
	popLocker *lock.KeyLocker
}

func NewGormBundleStor(db *gorm.DB) *GormBundleStor {
	return &GormBundleStor{db: db, popLocker: lock.NewKeyLocker()}
}

// CreateBundles inserts the bundles from a single picker or locator run in
// one transaction. Server-owned fields are stamped here; caller supplies the
// routing, contents, and initial status.
func (s *GormBundleStor) CreateBundles(bundles []ltamodel.Bundle) ([]string, error) {
	now := time.Now().UTC()
	uuids := make([]string, 0, len(bundles))

	for i := range bundles {
		bundleUUID, err := uuid.GenerateUUID()
		if err != nil {
			return nil, err
		}
		bundles[i].ID = 0
		bundles[i].UUID = bundleUUID
		bundles[i].Claimed = false
		bundles[i].Claimant = ""
		bundles[i].ClaimTimestamp = nil
		bundles[i].CreateTimestamp = now
		bundles[i].UpdateTimestamp = now
		if bundles[i].WorkPriorityTimestamp.IsZero() {
			bundles[i].WorkPriorityTimestamp = now
		}
		uuids = append(uuids, bundleUUID)
	}

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(&bundles).Error
	})
	if err != nil {
		return nil, err
	}

	return uuids, nil
}

func (s *GormBundleStor) GetBundleByUUID(bundleUUID string) (*ltamodel.Bundle, error) {
	var bundle ltamodel.Bundle

	err := s.db.Where("uuid = ?", bundleUUID).First(&bundle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrNotFound, bundleUUID)
	}
	if err != nil {
		return nil, err
	}

	return &bundle, nil
}

func (s *GormBundleStor) ListBundles(filter BundleFilter) ([]ltamodel.Bundle, error) {
	q := s.db.Model(&ltamodel.Bundle{}).Order("uuid")

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Request != "" {
		q = q.Where("request = ?", filter.Request)
	}
	if filter.Location != "" {
		q = q.Where("source LIKE ?", filter.Location+"%")
	}
	if filter.Verified != nil {
		q = q.Where("verified = ?", *filter.Verified)
	}
	if filter.After != "" {
		q = q.Where("uuid > ?", filter.After)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var bundles []ltamodel.Bundle
	if err := q.Find(&bundles).Error; err != nil {
		return nil, err
	}

	return bundles, nil
}

// UpdateBundle applies a partial update. When the update carries a claimant
// it is fenced: the row must still be claimed by that claimant or the update
// is rejected with ErrClaimConflict. Reaped workers hit the conflict and
// drop the work.
func (s *GormBundleStor) UpdateBundle(bundleUUID string, update EntityUpdate) (*ltamodel.Bundle, error) {
	var updated ltamodel.Bundle

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		var current ltamodel.Bundle
		if err := tx.Where("uuid = ?", bundleUUID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrap(ErrNotFound, bundleUUID)
			}
			return err
		}

		cols, err := bundleColumnUpdates(&current, update, time.Now().UTC())
		if err != nil {
			return err
		}

		q := tx.Model(&ltamodel.Bundle{}).Where("uuid = ?", bundleUUID)
		if update.Claimant != "" {
			q = q.Where("claimed = ? AND claimant = ?", true, update.Claimant)
		}

		result := q.Updates(cols)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.Wrapf(ErrClaimConflict, "bundle %s is not claimed by %s", bundleUUID, update.Claimant)
		}

		return tx.Where("uuid = ?", bundleUUID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// UpdateBundles applies an unfenced update to each named bundle, returning
// the uuids that were present. Admin bulk_update tooling uses this.
func (s *GormBundleStor) UpdateBundles(bundleUUIDs []string, update EntityUpdate) ([]string, error) {
	var updated []string

	for _, bundleUUID := range bundleUUIDs {
		_, err := s.UpdateBundle(bundleUUID, update)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, err
		}
		updated = append(updated, bundleUUID)
	}

	return updated, nil
}

func (s *GormBundleStor) DeleteBundle(bundleUUID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("uuid = ?", bundleUUID).Delete(&ltamodel.Bundle{}).Error
	})
}

func (s *GormBundleStor) DeleteBundles(bundleUUIDs []string) ([]string, error) {
	var deleted []string

	for _, bundleUUID := range bundleUUIDs {
		err := WithTxRetry(s.db, func(tx *gorm.DB) error {
			result := tx.Where("uuid = ?", bundleUUID).Delete(&ltamodel.Bundle{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				deleted = append(deleted, bundleUUID)
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

const popScanRetries = 3

// PopBundle atomically claims the oldest unclaimed bundle in the given
// status, or returns nil when none match. The scan orders by
// work_priority_timestamp then insertion order; the claim itself is a
// compare-and-set whose predicate re-checks claimed=false, so a lost race
// just rescans. Never read-then-write without the re-check: two workers
// holding the same bundle corrupts the pipeline.
func (s *GormBundleStor) PopBundle(status, source, dest, claimant string) (*ltamodel.Bundle, error) {
	var popped *ltamodel.Bundle

	err := s.popLocker.WithLock("bundles/"+status, func() error {
		for attempt := 0; attempt < popScanRetries; attempt++ {
			var candidate ltamodel.Bundle

			q := s.db.Where("status = ? AND claimed = ?", status, false)
			if source != "" {
				q = q.Where("source = ?", source)
			}
			if dest != "" {
				q = q.Where("dest = ?", dest)
			}
			if s.db.Dialector.Name() == "mysql" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}

			err := q.Order("work_priority_timestamp, id").First(&candidate).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			result := s.db.Model(&ltamodel.Bundle{}).
				Where("id = ? AND claimed = ?", candidate.ID, false).
				Updates(map[string]any{
					"claimed":          true,
					"claimant":         claimant,
					"claim_timestamp":  now,
					"update_timestamp": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// lost the race to another coordinator instance; rescan
				continue
			}

			candidate.Claimed = true
			candidate.Claimant = claimant
			candidate.ClaimTimestamp = &now
			candidate.UpdateTimestamp = now
			popped = &candidate
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return popped, nil
}

func (s *GormBundleStor) CountBundlesByStatus(dest string) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	q := s.db.Model(&ltamodel.Bundle{}).Select("status, count(*) as count").Group("status")
	if dest != "" {
		q = q.Where("dest = ?", dest)
	}

	var rows []statusCount
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

// ReleaseStaleBundleClaims clears claims older than maxClaimAge and returns
// the released uuids. The release is gated on the claim_timestamp it saw,
// so racing a just-finished worker PATCH is harmless.
func (s *GormBundleStor) ReleaseStaleBundleClaims(maxClaimAge time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxClaimAge)

	var stale []ltamodel.Bundle
	err := s.db.Where("claimed = ? AND claim_timestamp < ?", true, cutoff).Find(&stale).Error
	if err != nil {
		return nil, err
	}

	var released []string
	for i := range stale {
		bundle := &stale[i]
		result := s.db.Model(&ltamodel.Bundle{}).
			Where("id = ? AND claimed = ? AND claim_timestamp = ?", bundle.ID, true, bundle.ClaimTimestamp).
			Updates(map[string]any{
				"claimed":          false,
				"claimant":         "",
				"claim_timestamp":  nil,
				"update_timestamp": time.Now().UTC(),
			})
		if result.Error != nil {
			return released, result.Error
		}
		if result.RowsAffected > 0 {
			released = append(released, bundle.UUID)
		}
	}

	return released, nil
}
