package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/checksum"
	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type DesyVerifierConfig struct {
	DesyGsiftpURL    string `env:"DESY_GSIFTP,required"`
	TapeBasePath     string `env:"TAPE_BASE_PATH,required"`
	WorkboxPath      string `env:"WORKBOX_PATH,required"`
	MetadataPageSize int    `env:"METADATA_PAGE_SIZE" envDefault:"1000"`
}

// DesyVerifier confirms a bundle archived at DESY by pulling the artifact
// back over gridftp to a scratch path and re-checksumming it, then registers
// the bundled files' DESY locations in the File Catalog.
type DesyVerifier struct {
	cfg     DesyVerifierConfig
	lta     ltaclient.API
	catalog filecatalog.API
	gridftp GridFTP
}

func NewDesyVerifier(cfg DesyVerifierConfig, lta ltaclient.API, catalog filecatalog.API, gridftp GridFTP) *DesyVerifier {
	return &DesyVerifier{cfg: cfg, lta: lta, catalog: catalog, gridftp: gridftp}
}

func (v *DesyVerifier) Name() string {
	return "desy-verifier"
}

func (v *DesyVerifier) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	tapePath := filepath.Join(v.cfg.TapeBasePath, bundle.Path, basename)
	srcURL := strings.TrimSuffix(v.cfg.DesyGsiftpURL, "/") + tapePath
	scratchPath := filepath.Join(v.cfg.WorkboxPath, basename)

	log.Infof("desy-verifier: pulling %s back to %s", srcURL, scratchPath)
	if err := v.gridftp.Get(ctx, srcURL, scratchPath); err != nil {
		return nil, errors.Wrap(err, "gridftp readback failed")
	}
	defer os.Remove(scratchPath)

	sum, err := checksum.SHA512ForFile(scratchPath)
	if err != nil {
		return nil, err
	}
	if sum != bundle.Checksum.SHA512 {
		return nil, worker.Quarantinef("readback checksum %s does not match bundle checksum %s", sum, bundle.Checksum.SHA512)
	}

	if err := v.registerFiles(ctx, bundle, tapePath); err != nil {
		return nil, err
	}

	return nil, nil
}

func (v *DesyVerifier) registerFiles(ctx context.Context, bundle *ltamodel.Bundle, tapePath string) error {
	for skip := 0; ; skip += v.cfg.MetadataPageSize {
		page, err := v.lta.ListMetadata(ctx, bundle.UUID, v.cfg.MetadataPageSize, skip)
		if err != nil {
			return errors.Wrap(err, "listing bundle metadata")
		}

		for _, md := range page {
			record, err := v.catalog.GetRecord(ctx, md.FileCatalogUUID)
			if err != nil {
				return errors.Wrapf(err, "fetching catalog record %s", md.FileCatalogUUID)
			}

			location := filecatalog.Location{
				Site:    "DESY",
				Path:    tapePath + ":" + record.LogicalName,
				Archive: true,
			}
			if err := v.catalog.AddLocation(ctx, record.UUID, location); err != nil {
				return errors.Wrapf(err, "registering archive location for %s", record.LogicalName)
			}
		}

		if len(page) < v.cfg.MetadataPageSize {
			break
		}
	}

	record := &filecatalog.Record{
		UUID:        bundle.UUID,
		LogicalName: tapePath,
		FileSize:    bundle.Size,
		Checksum: filecatalog.Checksum{
			SHA512:  bundle.Checksum.SHA512,
			Adler32: bundle.Checksum.Adler32,
		},
		Locations: []filecatalog.Location{
			{Site: "DESY", Path: tapePath},
		},
		LTA: &filecatalog.ArchivalInfo{
			DateArchived: time.Now().UTC().Format(time.RFC3339),
		},
	}

	return errors.Wrapf(v.catalog.RegisterRecord(ctx, record),
		"registering bundle %s in the catalog", bundle.UUID)
}
