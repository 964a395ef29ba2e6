package stages

import (
	"context"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

const finisherDeleteChunk = 1000

// Finisher closes out a transfer request once the last of its bundles
// reaches deleted: the request goes terminal, every sibling bundle is
// marked finished, and the bundles' metadata rows are dropped. Popping a
// bundle whose siblings are still in flight sends it to the back of the
// queue to check again later.
type Finisher struct {
	lta ltaclient.API
}

func NewFinisher(lta ltaclient.API) *Finisher {
	return &Finisher{lta: lta}
}

func (f *Finisher) Name() string {
	return "transfer-request-finisher"
}

func (f *Finisher) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	siblings, err := f.lta.ListBundleUUIDs(ctx, map[string]string{"request": bundle.Request})
	if err != nil {
		return nil, errors.Wrap(err, "listing sibling bundles")
	}

	for _, siblingUUID := range siblings {
		if siblingUUID == bundle.UUID {
			continue
		}
		sibling, err := f.lta.GetBundle(ctx, siblingUUID)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching sibling bundle %s", siblingUUID)
		}
		if sibling.Status != ltamodel.BundleStatusDeleted && sibling.Status != ltamodel.BundleStatusFinished {
			log.Infof("transfer-request-finisher: request %s still has bundle %s in %s; requeueing",
				bundle.Request, siblingUUID, sibling.Status)
			return &worker.Result{Skip: true, ToBack: true}, nil
		}
	}

	if err := f.lta.PatchTransferRequest(ctx, bundle.Request, map[string]any{
		"status":  ltamodel.RequestStatusFinished,
		"claimed": false,
	}); err != nil && !errors.Is(err, ltaclient.ErrNotFound) {
		return nil, errors.Wrapf(err, "finishing transfer request %s", bundle.Request)
	}

	for _, siblingUUID := range siblings {
		if err := f.dropMetadata(ctx, siblingUUID); err != nil {
			return nil, err
		}
		if siblingUUID == bundle.UUID {
			// the popped bundle is finished by the release PATCH
			continue
		}
		if err := f.lta.PatchBundle(ctx, siblingUUID, map[string]any{
			"status": ltamodel.BundleStatusFinished,
		}); err != nil {
			return nil, errors.Wrapf(err, "finishing sibling bundle %s", siblingUUID)
		}
	}

	log.Infof("transfer-request-finisher: request %s finished with %d bundles", bundle.Request, len(siblings))
	return nil, nil
}

// dropMetadata removes a finished bundle's per-file rows in chunks so a
// terabyte bundle's worth of records does not ride in one request.
func (f *Finisher) dropMetadata(ctx context.Context, bundleUUID string) error {
	for {
		page, err := f.lta.ListMetadata(ctx, bundleUUID, finisherDeleteChunk, 0)
		if err != nil {
			return errors.Wrapf(err, "listing metadata for bundle %s", bundleUUID)
		}
		if len(page) == 0 {
			return nil
		}

		recordUUIDs := make([]string, 0, len(page))
		for _, md := range page {
			recordUUIDs = append(recordUUIDs, md.UUID)
		}

		if err := f.lta.BulkDeleteMetadata(ctx, recordUUIDs); err != nil {
			return errors.Wrapf(err, "deleting metadata for bundle %s", bundleUUID)
		}
	}
}
