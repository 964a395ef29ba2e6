package ltamodel

import "time"

// MetadataRecord associates one File Catalog file with a bundle. A bundle has
// one record per bundled file; they are bulk-created when the bundle is and
// bulk-deleted when the bundle reaches its terminal status.
type MetadataRecord struct {
	ID              int64     `json:"-" gorm:"primaryKey"`
	UUID            string    `json:"uuid" gorm:"uniqueIndex;size:64"`
	BundleUUID      string    `json:"bundle_uuid" gorm:"index;size:64"`
	FileCatalogUUID string    `json:"file_catalog_uuid" gorm:"size:64"`
	CreateTimestamp time.Time `json:"create_timestamp"`
}

func (MetadataRecord) TableName() string {
	return "metadata"
}
