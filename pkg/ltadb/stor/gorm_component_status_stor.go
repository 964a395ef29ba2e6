package stor

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

type GormComponentStatusStor struct {
	db *gorm.DB
}

func NewGormComponentStatusStor(db *gorm.DB) *GormComponentStatusStor {
	return &GormComponentStatusStor{db: db}
}

// UpsertComponentStatus records the latest heartbeat for one worker
// instance. The receive time is stamped here, not taken from the payload, so
// clock skew on workers cannot make a dead component look alive.
func (s *GormComponentStatusStor) UpsertComponentStatus(componentType, componentName string, payload map[string]any) error {
	status := ltamodel.ComponentStatus{
		ComponentType:     componentType,
		ComponentName:     componentName,
		ReceivedTimestamp: time.Now().UTC(),
		Payload:           payload,
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "component_type"}, {Name: "component_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"received_timestamp", "payload"}),
		}).Create(&status).Error
	})
}

func (s *GormComponentStatusStor) GetComponentStatuses(componentType string) ([]ltamodel.ComponentStatus, error) {
	var statuses []ltamodel.ComponentStatus

	err := s.db.Where("component_type = ?", componentType).
		Order("component_name").
		Find(&statuses).Error
	if err != nil {
		return nil, err
	}

	return statuses, nil
}

func (s *GormComponentStatusStor) GetAllComponentStatuses() ([]ltamodel.ComponentStatus, error) {
	var statuses []ltamodel.ComponentStatus

	err := s.db.Order("component_type, component_name").Find(&statuses).Error
	if err != nil {
		return nil, err
	}

	return statuses, nil
}

func (s *GormComponentStatusStor) CountComponentsOfType(componentType string) (int64, error) {
	var count int64

	err := s.db.Model(&ltamodel.ComponentStatus{}).
		Where("component_type = ?", componentType).
		Count(&count).Error

	return count, err
}

// CullComponentStatusesOlderThan drops heartbeat rows that have gone silent
// for longer than age. Retired workers otherwise pollute dashboards forever.
func (s *GormComponentStatusStor) CullComponentStatusesOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	var culled int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Where("received_timestamp < ?", cutoff).Delete(&ltamodel.ComponentStatus{})
		if result.Error != nil {
			return result.Error
		}
		culled = result.RowsAffected
		return nil
	})

	return culled, err
}
