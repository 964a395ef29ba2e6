package stages

import (
	"context"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type NerscVerifierConfig struct {
	TapeBasePath     string `env:"TAPE_BASE_PATH,required"`
	MetadataPageSize int    `env:"METADATA_PAGE_SIZE" envDefault:"1000"`
}

// NerscVerifier confirms a taped bundle: the checksum HPSS stored at write
// time must match the bundle record, and a read-back hashverify must pass.
// On success every bundled file gets a NERSC archive location in the File
// Catalog, and the bundle archive itself is registered as a catalog record.
type NerscVerifier struct {
	cfg     NerscVerifierConfig
	lta     ltaclient.API
	catalog filecatalog.API
	tape    Tape
}

func NewNerscVerifier(cfg NerscVerifierConfig, lta ltaclient.API, catalog filecatalog.API, tape Tape) *NerscVerifier {
	return &NerscVerifier{cfg: cfg, lta: lta, catalog: catalog, tape: tape}
}

func (v *NerscVerifier) Name() string {
	return "nersc-verifier"
}

func (v *NerscVerifier) Preflight(ctx context.Context) error {
	return v.tape.Available(ctx)
}

func (v *NerscVerifier) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	tapePath := filepath.Join(v.cfg.TapeBasePath, bundle.Path, basename)

	storedSum, err := v.tape.HashList(ctx, tapePath)
	if err != nil {
		return nil, err
	}
	if storedSum != bundle.Checksum.SHA512 {
		return nil, worker.Quarantinef("tape checksum %s does not match bundle checksum %s", storedSum, bundle.Checksum.SHA512)
	}

	log.Infof("nersc-verifier: reading %s back for verification", tapePath)
	if err := v.tape.HashVerify(ctx, tapePath); err != nil {
		return nil, err
	}

	if err := v.registerFiles(ctx, bundle, tapePath); err != nil {
		return nil, err
	}
	if err := v.registerBundle(ctx, bundle, tapePath); err != nil {
		return nil, err
	}

	return nil, nil
}

// registerFiles adds a NERSC archive location to every bundled file's
// catalog record. The location path carries both the tape path and the
// file's logical name so a single file can be pulled without the whole
// bundle.
func (v *NerscVerifier) registerFiles(ctx context.Context, bundle *ltamodel.Bundle, tapePath string) error {
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
				Site:    "NERSC",
				Path:    tapePath + ":" + record.LogicalName,
				Archive: true,
			}
			if err := v.catalog.AddLocation(ctx, record.UUID, location); err != nil {
				return errors.Wrapf(err, "registering archive location for %s", record.LogicalName)
			}
		}

		if len(page) < v.cfg.MetadataPageSize {
			return nil
		}
	}
}

// registerBundle records the archive artifact itself in the catalog, with
// the archival date stamped.
func (v *NerscVerifier) registerBundle(ctx context.Context, bundle *ltamodel.Bundle, tapePath string) error {
	record := &filecatalog.Record{
		UUID:        bundle.UUID,
		LogicalName: tapePath,
		FileSize:    bundle.Size,
		Checksum: filecatalog.Checksum{
			SHA512:  bundle.Checksum.SHA512,
			Adler32: bundle.Checksum.Adler32,
		},
		Locations: []filecatalog.Location{
			{Site: "NERSC", Path: tapePath, HPSS: true},
		},
		LTA: &filecatalog.ArchivalInfo{
			DateArchived: time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := v.catalog.RegisterRecord(ctx, record); err != nil {
		return errors.Wrapf(err, "registering bundle %s in the catalog", bundle.UUID)
	}

	return nil
}
