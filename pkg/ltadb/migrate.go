package ltadb

import (
	"gorm.io/gorm"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// RunMigrations creates or updates the schema. The index set matters for
// correctness and performance: POP scans bundles(status, claimed,
// work_priority_timestamp); sibling lookups scan bundles(request); metadata
// pages scan metadata(bundle_uuid); heartbeat upserts hit the unique
// (component_type, component_name) pair. Those are declared as tags on the
// models and created here.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&ltamodel.TransferRequest{},
		&ltamodel.Bundle{},
		&ltamodel.MetadataRecord{},
		&ltamodel.ComponentStatus{},
	)
}
