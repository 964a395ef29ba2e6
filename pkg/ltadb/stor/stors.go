package stor

import (
	"time"

	"gorm.io/gorm"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// RequestFilter narrows ListTransferRequests.
type RequestFilter struct {
	Status string
	Source string
	Dest   string
}

// BundleFilter narrows ListBundles. Location is a prefix match against
// source; After/Limit page by uuid order.
type BundleFilter struct {
	Status   string
	Request  string
	Location string
	Verified *bool
	After    string
	Limit    int
}

type TransferRequestStor interface {
	CreateTransferRequest(tr *ltamodel.TransferRequest) (*ltamodel.TransferRequest, error)
	GetTransferRequestByUUID(trUUID string) (*ltamodel.TransferRequest, error)
	ListTransferRequests(filter RequestFilter) ([]ltamodel.TransferRequest, error)
	UpdateTransferRequest(trUUID string, update EntityUpdate) (*ltamodel.TransferRequest, error)
	DeleteTransferRequest(trUUID string) error
	PopTransferRequest(source, dest, claimant string) (*ltamodel.TransferRequest, error)
	ReleaseStaleRequestClaims(maxClaimAge time.Duration) ([]string, error)
}

type BundleStor interface {
	CreateBundles(bundles []ltamodel.Bundle) ([]string, error)
	GetBundleByUUID(bundleUUID string) (*ltamodel.Bundle, error)
	ListBundles(filter BundleFilter) ([]ltamodel.Bundle, error)
	UpdateBundle(bundleUUID string, update EntityUpdate) (*ltamodel.Bundle, error)
	UpdateBundles(bundleUUIDs []string, update EntityUpdate) ([]string, error)
	DeleteBundle(bundleUUID string) error
	DeleteBundles(bundleUUIDs []string) ([]string, error)
	PopBundle(status, source, dest, claimant string) (*ltamodel.Bundle, error)
	CountBundlesByStatus(dest string) (map[string]int64, error)
	ReleaseStaleBundleClaims(maxClaimAge time.Duration) ([]string, error)
}

type MetadataStor interface {
	CreateMetadataRecords(bundleUUID string, fileCatalogUUIDs []string) ([]string, error)
	GetMetadataRecord(recordUUID string) (*ltamodel.MetadataRecord, error)
	ListMetadataForBundle(bundleUUID string, limit, skip int) ([]ltamodel.MetadataRecord, error)
	DeleteMetadataRecord(recordUUID string) error
	DeleteMetadataRecords(recordUUIDs []string) (int64, error)
	DeleteMetadataForBundle(bundleUUID string) error
}

type ComponentStatusStor interface {
	UpsertComponentStatus(componentType, componentName string, payload map[string]any) error
	GetComponentStatuses(componentType string) ([]ltamodel.ComponentStatus, error)
	GetAllComponentStatuses() ([]ltamodel.ComponentStatus, error)
	CountComponentsOfType(componentType string) (int64, error)
	CullComponentStatusesOlderThan(age time.Duration) (int64, error)
}

type Stors struct {
	TransferRequestStor TransferRequestStor
	BundleStor          BundleStor
	MetadataStor        MetadataStor
	ComponentStatusStor ComponentStatusStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		TransferRequestStor: NewGormTransferRequestStor(db),
		BundleStor:          NewGormBundleStor(db),
		MetadataStor:        NewGormMetadataStor(db),
		ComponentStatusStor: NewGormComponentStatusStor(db),
	}
}
