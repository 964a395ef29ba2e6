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

type GormTransferRequestStor struct {
	db        *gorm.DB
	popLocker *lock.KeyLocker
}

func NewGormTransferRequestStor(db *gorm.DB) *GormTransferRequestStor {
	return &GormTransferRequestStor{db: db, popLocker: lock.NewKeyLocker()}
}

// CreateTransferRequest stamps the server-owned fields and inserts the
// request. New requests start unclaimed so a picker or locator can pop them.
func (s *GormTransferRequestStor) CreateTransferRequest(tr *ltamodel.TransferRequest) (*ltamodel.TransferRequest, error) {
	trUUID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tr.ID = 0
	tr.UUID = trUUID
	tr.Status = ltamodel.RequestStatusUnclaimed
	tr.Claimed = false
	tr.Claimant = ""
	tr.ClaimTimestamp = nil
	tr.CreateTimestamp = now
	tr.UpdateTimestamp = now
	tr.WorkPriorityTimestamp = now

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(tr).Error
	})
	if err != nil {
		return nil, err
	}

	return tr, nil
}

func (s *GormTransferRequestStor) GetTransferRequestByUUID(trUUID string) (*ltamodel.TransferRequest, error) {
	var tr ltamodel.TransferRequest

	err := s.db.Where("uuid = ?", trUUID).First(&tr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrNotFound, trUUID)
	}
	if err != nil {
		return nil, err
	}

	return &tr, nil
}

func (s *GormTransferRequestStor) ListTransferRequests(filter RequestFilter) ([]ltamodel.TransferRequest, error) {
	q := s.db.Model(&ltamodel.TransferRequest{}).Order("create_timestamp, id")

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Dest != "" {
		q = q.Where("dest = ?", filter.Dest)
	}

	var requests []ltamodel.TransferRequest
	if err := q.Find(&requests).Error; err != nil {
		return nil, err
	}

	return requests, nil
}

// UpdateTransferRequest mirrors UpdateBundle: fenced when the update carries
// a claimant, unfenced for admin updates.
func (s *GormTransferRequestStor) UpdateTransferRequest(trUUID string, update EntityUpdate) (*ltamodel.TransferRequest, error) {
	var updated ltamodel.TransferRequest

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		var current ltamodel.TransferRequest
		if err := tx.Where("uuid = ?", trUUID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrap(ErrNotFound, trUUID)
			}
			return err
		}

		cols, err := requestColumnUpdates(update, time.Now().UTC())
		if err != nil {
			return err
		}

		q := tx.Model(&ltamodel.TransferRequest{}).Where("uuid = ?", trUUID)
		if update.Claimant != "" {
			q = q.Where("claimed = ? AND claimant = ?", true, update.Claimant)
		}

		result := q.Updates(cols)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.Wrapf(ErrClaimConflict, "transfer request %s is not claimed by %s", trUUID, update.Claimant)
		}

		return tx.Where("uuid = ?", trUUID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func (s *GormTransferRequestStor) DeleteTransferRequest(trUUID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("uuid = ?", trUUID).Delete(&ltamodel.TransferRequest{}).Error
	})
}

// PopTransferRequest claims the oldest unclaimed request, stamping it
// processing so a reaped claim is not silently re-expanded; an admin puts it
// back to unclaimed if the expansion never finished.
func (s *GormTransferRequestStor) PopTransferRequest(source, dest, claimant string) (*ltamodel.TransferRequest, error) {
	var popped *ltamodel.TransferRequest

	err := s.popLocker.WithLock("transfer_requests", func() error {
		for attempt := 0; attempt < popScanRetries; attempt++ {
			var candidate ltamodel.TransferRequest

			q := s.db.Where("status = ? AND claimed = ?", ltamodel.RequestStatusUnclaimed, false)
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
			result := s.db.Model(&ltamodel.TransferRequest{}).
				Where("id = ? AND claimed = ?", candidate.ID, false).
				Updates(map[string]any{
					"status":           ltamodel.RequestStatusProcessing,
					"claimed":          true,
					"claimant":         claimant,
					"claim_timestamp":  now,
					"update_timestamp": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}

			candidate.Status = ltamodel.RequestStatusProcessing
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

func (s *GormTransferRequestStor) ReleaseStaleRequestClaims(maxClaimAge time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxClaimAge)

	var stale []ltamodel.TransferRequest
	err := s.db.Where("claimed = ? AND claim_timestamp < ?", true, cutoff).Find(&stale).Error
	if err != nil {
		return nil, err
	}

	var released []string
	for i := range stale {
		tr := &stale[i]
		result := s.db.Model(&ltamodel.TransferRequest{}).
			Where("id = ? AND claimed = ? AND claim_timestamp = ?", tr.ID, true, tr.ClaimTimestamp).
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
			released = append(released, tr.UUID)
		}
	}

	return released, nil
}
