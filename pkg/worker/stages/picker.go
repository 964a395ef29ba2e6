// Package stages holds the per-stage actions the worker harness runs. Each
// action does one step of the archival pipeline on a single claimed bundle
// or transfer request; the harness owns claiming, quarantine, and the
// release PATCH.
package stages

import (
	"context"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type PickerConfig struct {
	FileCatalogPageSize int   `env:"FILE_CATALOG_PAGE_SIZE" envDefault:"1000"`
	MaxBundleSize       int64 `env:"PICKER_MAX_BUNDLE_SIZE" envDefault:"1099511627776"`
	MaxBundleCount      int   `env:"PICKER_MAX_BUNDLE_COUNT" envDefault:"25000"`
}

// Picker turns a new transfer request into specified bundles: it asks the
// File Catalog which files live under the requested path at the source site
// and packs them into bundle-sized batches.
type Picker struct {
	cfg     PickerConfig
	lta     ltaclient.API
	catalog filecatalog.API
}

func NewPicker(cfg PickerConfig, lta ltaclient.API, catalog filecatalog.API) *Picker {
	return &Picker{cfg: cfg, lta: lta, catalog: catalog}
}

func (p *Picker) Name() string {
	return "picker"
}

func (p *Picker) Do(ctx context.Context, tr *ltamodel.TransferRequest) (*worker.Result, error) {
	files, err := p.findAllFiles(ctx, tr)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, worker.Quarantine("file catalog returned zero files for the request")
	}

	batches := packBatches(files, p.cfg.MaxBundleSize, p.cfg.MaxBundleCount)
	log.Infof("picker: request %s covers %d files in %d bundles", tr.UUID, len(files), len(batches))

	for _, batch := range batches {
		if err := p.createBundle(ctx, tr, batch); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (p *Picker) findAllFiles(ctx context.Context, tr *ltamodel.TransferRequest) ([]filecatalog.FileSummary, error) {
	var all []filecatalog.FileSummary

	for start := 0; ; start += p.cfg.FileCatalogPageSize {
		page, err := p.catalog.FindFiles(ctx, filecatalog.FilesQuery{
			Site:       tr.Source,
			PathPrefix: tr.Path,
			Limit:      p.cfg.FileCatalogPageSize,
			Start:      start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "querying file catalog")
		}

		all = append(all, page...)
		if len(page) < p.cfg.FileCatalogPageSize {
			return all, nil
		}
	}
}

func (p *Picker) createBundle(ctx context.Context, tr *ltamodel.TransferRequest, batch []filecatalog.FileSummary) error {
	var size int64
	fileUUIDs := make([]string, 0, len(batch))
	for _, f := range batch {
		size += f.FileSize
		fileUUIDs = append(fileUUIDs, f.UUID)
	}

	bundleUUIDs, err := p.lta.BulkCreateBundles(ctx, []ltamodel.Bundle{{
		Request:   tr.UUID,
		Source:    tr.Source,
		Dest:      tr.Dest,
		Path:      tr.Path,
		Status:    ltamodel.BundleStatusSpecified,
		FileCount: len(batch),
		Size:      size,
	}})
	if err != nil {
		return errors.Wrap(err, "creating bundle")
	}

	if _, err := p.lta.BulkCreateMetadata(ctx, bundleUUIDs[0], fileUUIDs); err != nil {
		return errors.Wrapf(err, "attaching metadata to bundle %s", bundleUUIDs[0])
	}

	log.Infof("picker: bundle %s specified with %d files (%d bytes)", bundleUUIDs[0], len(batch), size)
	return nil
}

// packBatches fills bundles in catalog order, closing a batch when the next
// file would push it past the size cap or the file count cap. A single file
// larger than the cap gets a batch of its own.
func packBatches(files []filecatalog.FileSummary, maxSize int64, maxCount int) [][]filecatalog.FileSummary {
	var batches [][]filecatalog.FileSummary
	var current []filecatalog.FileSummary
	var currentSize int64

	for _, f := range files {
		full := len(current) > 0 &&
			(currentSize+f.FileSize > maxSize || len(current) >= maxCount)
		if full {
			batches = append(batches, current)
			current = nil
			currentSize = 0
		}
		current = append(current, f)
		currentSize += f.FileSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}
