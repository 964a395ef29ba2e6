package ltamodel

import "time"

// ComponentStatus is one worker instance's latest heartbeat. Heartbeats feed
// dashboards only; claim staleness is judged from claim_timestamp, never from
// these records.
type ComponentStatus struct {
	ID                int64          `json:"-" gorm:"primaryKey"`
	ComponentType     string         `json:"component_type" gorm:"uniqueIndex:idx_component_type_name;size:64"`
	ComponentName     string         `json:"component_name" gorm:"uniqueIndex:idx_component_type_name;size:128"`
	ReceivedTimestamp time.Time      `json:"received_timestamp"`
	Payload           map[string]any `json:"payload" gorm:"serializer:json"`
}

func (ComponentStatus) TableName() string {
	return "component_statuses"
}
