package stor

import (
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// deleteChunkSize bounds the IN clause when bulk-deleting metadata; bundles
// can carry tens of thousands of files.
const deleteChunkSize = 1000

type GormMetadataStor struct {
	db *gorm.DB
}

func NewGormMetadataStor(db *gorm.DB) *GormMetadataStor {
	return &GormMetadataStor{db: db}
}

// CreateMetadataRecords associates each catalog file with the bundle in one
// transaction.
func (s *GormMetadataStor) CreateMetadataRecords(bundleUUID string, fileCatalogUUIDs []string) ([]string, error) {
	now := time.Now().UTC()
	records := make([]ltamodel.MetadataRecord, 0, len(fileCatalogUUIDs))
	uuids := make([]string, 0, len(fileCatalogUUIDs))

	for _, fileCatalogUUID := range fileCatalogUUIDs {
		recordUUID, err := uuid.GenerateUUID()
		if err != nil {
			return nil, err
		}
		records = append(records, ltamodel.MetadataRecord{
			UUID:            recordUUID,
			BundleUUID:      bundleUUID,
			FileCatalogUUID: fileCatalogUUID,
			CreateTimestamp: now,
		})
		uuids = append(uuids, recordUUID)
	}

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.CreateInBatches(&records, deleteChunkSize).Error
	})
	if err != nil {
		return nil, err
	}

	return uuids, nil
}

func (s *GormMetadataStor) GetMetadataRecord(recordUUID string) (*ltamodel.MetadataRecord, error) {
	var record ltamodel.MetadataRecord

	err := s.db.Where("uuid = ?", recordUUID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrNotFound, recordUUID)
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// ListMetadataForBundle pages a bundle's records in insertion order; the
// bundler streams pages of 1000 while writing the manifest.
func (s *GormMetadataStor) ListMetadataForBundle(bundleUUID string, limit, skip int) ([]ltamodel.MetadataRecord, error) {
	if limit <= 0 {
		limit = deleteChunkSize
	}

	var records []ltamodel.MetadataRecord
	err := s.db.Where("bundle_uuid = ?", bundleUUID).
		Order("id").
		Limit(limit).
		Offset(skip).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *GormMetadataStor) DeleteMetadataRecord(recordUUID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("uuid = ?", recordUUID).Delete(&ltamodel.MetadataRecord{}).Error
	})
}

// DeleteMetadataRecords deletes the named records in chunks and reports how
// many rows went away.
func (s *GormMetadataStor) DeleteMetadataRecords(recordUUIDs []string) (int64, error) {
	var deleted int64

	for start := 0; start < len(recordUUIDs); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(recordUUIDs) {
			end = len(recordUUIDs)
		}
		chunk := recordUUIDs[start:end]

		err := WithTxRetry(s.db, func(tx *gorm.DB) error {
			result := tx.Where("uuid IN ?", chunk).Delete(&ltamodel.MetadataRecord{})
			if result.Error != nil {
				return result.Error
			}
			deleted += result.RowsAffected
			return nil
		})
		if err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (s *GormMetadataStor) DeleteMetadataForBundle(bundleUUID string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("bundle_uuid = ?", bundleUUID).Delete(&ltamodel.MetadataRecord{}).Error
	})
}
