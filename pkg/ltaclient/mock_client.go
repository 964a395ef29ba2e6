package ltaclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// Patch records one PATCH a stage issued, for assertions.
type Patch struct {
	UUID   string
	Update map[string]any
}

// MockClient is an in-memory coordinator for stage and harness tests. Pops
// are scripted with QueueBundle/QueueRequest; every mutation is recorded.
type MockClient struct {
	mu sync.Mutex

	err error

	bundles  map[string]*ltamodel.Bundle
	requests map[string]*ltamodel.TransferRequest
	metadata map[string][]ltamodel.MetadataRecord

	bundlePopQueue  []string
	requestPopQueue []string

	BundlePatches  []Patch
	RequestPatches []Patch
	CreatedBundles []ltamodel.Bundle
	Heartbeats     []Patch

	nextUUID int
}

func NewMockClient() *MockClient {
	return &MockClient{
		bundles:  make(map[string]*ltamodel.Bundle),
		requests: make(map[string]*ltamodel.TransferRequest),
		metadata: make(map[string][]ltamodel.MetadataRecord),
	}
}

// SetError makes every call fail, for transient-failure tests.
func (c *MockClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// AddBundle seeds a bundle without queuing it for POP.
func (c *MockClient) AddBundle(bundle *ltamodel.Bundle) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[bundle.UUID] = bundle
	return c
}

// QueueBundle seeds a bundle and queues it for the next PopBundle.
func (c *MockClient) QueueBundle(bundle *ltamodel.Bundle) *MockClient {
	c.AddBundle(bundle)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundlePopQueue = append(c.bundlePopQueue, bundle.UUID)
	return c
}

// QueueRequest seeds a transfer request and queues it for the next
// PopTransferRequest.
func (c *MockClient) QueueRequest(tr *ltamodel.TransferRequest) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[tr.UUID] = tr
	c.requestPopQueue = append(c.requestPopQueue, tr.UUID)
	return c
}

// SeedMetadata attaches catalog file uuids to a bundle.
func (c *MockClient) SeedMetadata(bundleUUID string, fileCatalogUUIDs []string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fileCatalogUUID := range fileCatalogUUIDs {
		c.metadata[bundleUUID] = append(c.metadata[bundleUUID], ltamodel.MetadataRecord{
			UUID:            fmt.Sprintf("md-%s-%s", bundleUUID, fileCatalogUUID),
			BundleUUID:      bundleUUID,
			FileCatalogUUID: fileCatalogUUID,
		})
	}
	return c
}

// Bundle returns the stored bundle for assertions.
func (c *MockClient) Bundle(bundleUUID string) *ltamodel.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundles[bundleUUID]
}

// Request returns the stored transfer request for assertions.
func (c *MockClient) Request(trUUID string) *ltamodel.TransferRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[trUUID]
}

// MetadataFor returns a bundle's metadata records for assertions.
func (c *MockClient) MetadataFor(bundleUUID string) []ltamodel.MetadataRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata[bundleUUID]
}

func (c *MockClient) CreateTransferRequest(_ context.Context, source, dest, path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}

	c.nextUUID++
	trUUID := fmt.Sprintf("request-%d", c.nextUUID)
	c.requests[trUUID] = &ltamodel.TransferRequest{
		UUID: trUUID, Source: source, Dest: dest, Path: path,
		Status: ltamodel.RequestStatusUnclaimed,
	}

	return trUUID, nil
}

func (c *MockClient) GetTransferRequest(_ context.Context, trUUID string) (*ltamodel.TransferRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	tr, ok := c.requests[trUUID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, trUUID)
	}

	return tr, nil
}

func (c *MockClient) PopTransferRequest(_ context.Context, _, _, claimant string) (*ltamodel.TransferRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if len(c.requestPopQueue) == 0 {
		return nil, nil
	}

	trUUID := c.requestPopQueue[0]
	c.requestPopQueue = c.requestPopQueue[1:]

	tr := c.requests[trUUID]
	tr.Status = ltamodel.RequestStatusProcessing
	tr.Claimed = true
	tr.Claimant = claimant

	return tr, nil
}

func (c *MockClient) PatchTransferRequest(_ context.Context, trUUID string, update map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	tr, ok := c.requests[trUUID]
	if !ok {
		return errors.Wrap(ErrNotFound, trUUID)
	}

	c.RequestPatches = append(c.RequestPatches, Patch{UUID: trUUID, Update: update})
	applyRequestUpdate(tr, update)

	return nil
}

func (c *MockClient) PopBundle(_ context.Context, _, _, _, claimant string) (*ltamodel.Bundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if len(c.bundlePopQueue) == 0 {
		return nil, nil
	}

	bundleUUID := c.bundlePopQueue[0]
	c.bundlePopQueue = c.bundlePopQueue[1:]

	bundle := c.bundles[bundleUUID]
	bundle.Claimed = true
	bundle.Claimant = claimant

	return bundle, nil
}

func (c *MockClient) GetBundle(_ context.Context, bundleUUID string) (*ltamodel.Bundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	bundle, ok := c.bundles[bundleUUID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, bundleUUID)
	}

	return bundle, nil
}

func (c *MockClient) PatchBundle(_ context.Context, bundleUUID string, update map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	bundle, ok := c.bundles[bundleUUID]
	if !ok {
		return errors.Wrap(ErrNotFound, bundleUUID)
	}

	c.BundlePatches = append(c.BundlePatches, Patch{UUID: bundleUUID, Update: update})
	applyBundleUpdate(bundle, update)

	return nil
}

func (c *MockClient) ListBundleUUIDs(_ context.Context, query map[string]string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	var uuids []string
	for bundleUUID, bundle := range c.bundles {
		if request, ok := query["request"]; ok && bundle.Request != request {
			continue
		}
		if status, ok := query["status"]; ok && bundle.Status != status {
			continue
		}
		uuids = append(uuids, bundleUUID)
	}
	sort.Strings(uuids)

	return uuids, nil
}

func (c *MockClient) BulkCreateBundles(_ context.Context, bundles []ltamodel.Bundle) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	var uuids []string
	for i := range bundles {
		c.nextUUID++
		bundleUUID := fmt.Sprintf("bundle-%d", c.nextUUID)
		bundles[i].UUID = bundleUUID
		stored := bundles[i]
		c.bundles[bundleUUID] = &stored
		c.CreatedBundles = append(c.CreatedBundles, stored)
		uuids = append(uuids, bundleUUID)
	}

	return uuids, nil
}

func (c *MockClient) ListMetadata(_ context.Context, bundleUUID string, limit, skip int) ([]ltamodel.MetadataRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	records := c.metadata[bundleUUID]
	if skip >= len(records) {
		return nil, nil
	}
	records = records[skip:]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (c *MockClient) BulkCreateMetadata(_ context.Context, bundleUUID string, fileCatalogUUIDs []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	uuids := make([]string, 0, len(fileCatalogUUIDs))
	for _, fileCatalogUUID := range fileCatalogUUIDs {
		record := ltamodel.MetadataRecord{
			UUID:            fmt.Sprintf("md-%s-%s", bundleUUID, fileCatalogUUID),
			BundleUUID:      bundleUUID,
			FileCatalogUUID: fileCatalogUUID,
		}
		c.metadata[bundleUUID] = append(c.metadata[bundleUUID], record)
		uuids = append(uuids, record.UUID)
	}

	return uuids, nil
}

func (c *MockClient) BulkDeleteMetadata(_ context.Context, recordUUIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	doomed := make(map[string]bool, len(recordUUIDs))
	for _, recordUUID := range recordUUIDs {
		doomed[recordUUID] = true
	}

	for bundleUUID, records := range c.metadata {
		var kept []ltamodel.MetadataRecord
		for _, record := range records {
			if !doomed[record.UUID] {
				kept = append(kept, record)
			}
		}
		c.metadata[bundleUUID] = kept
	}

	return nil
}

func (c *MockClient) DeleteMetadataForBundle(_ context.Context, bundleUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	delete(c.metadata, bundleUUID)
	return nil
}

func (c *MockClient) Heartbeat(_ context.Context, componentType, componentName string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	c.Heartbeats = append(c.Heartbeats, Patch{UUID: componentType + "/" + componentName, Update: payload})
	return nil
}

// applyBundleUpdate mirrors the coordinator's PATCH semantics closely enough
// for stage assertions.
func applyBundleUpdate(bundle *ltamodel.Bundle, update map[string]any) {
	for key, value := range update {
		switch key {
		case "status":
			bundle.Status, _ = value.(string)
		case "reason":
			bundle.Reason, _ = value.(string)
		case "original_status":
			bundle.OriginalStatus, _ = value.(string)
		case "claimed":
			claimed, _ := value.(bool)
			bundle.Claimed = claimed
			if !claimed {
				bundle.Claimant = ""
				bundle.ClaimTimestamp = nil
			}
		case "verified":
			bundle.Verified, _ = value.(bool)
		case "bundle_path":
			bundle.BundlePath, _ = value.(string)
		case "transfer_reference":
			bundle.TransferReference, _ = value.(string)
		case "size":
			switch n := value.(type) {
			case int64:
				bundle.Size = n
			case int:
				bundle.Size = int64(n)
			case float64:
				bundle.Size = int64(n)
			}
		case "file_count":
			switch n := value.(type) {
			case int64:
				bundle.FileCount = int(n)
			case int:
				bundle.FileCount = n
			case float64:
				bundle.FileCount = int(n)
			}
		case "checksum":
			if m, ok := value.(map[string]any); ok {
				if sha, ok := m["sha512"].(string); ok {
					bundle.Checksum.SHA512 = sha
				}
				if adler, ok := m["adler32"].(string); ok {
					bundle.Checksum.Adler32 = adler
				}
			}
		}
	}
}

func applyRequestUpdate(tr *ltamodel.TransferRequest, update map[string]any) {
	for key, value := range update {
		switch key {
		case "status":
			tr.Status, _ = value.(string)
		case "reason":
			tr.Reason, _ = value.(string)
		case "original_status":
			tr.OriginalStatus, _ = value.(string)
		case "claimed":
			claimed, _ := value.(bool)
			tr.Claimed = claimed
			if !claimed {
				tr.Claimant = ""
				tr.ClaimTimestamp = nil
			}
		}
	}
}
