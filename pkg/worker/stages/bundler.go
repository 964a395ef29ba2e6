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
	"github.com/wipac/lta/pkg/zipfile"
)

type BundlerConfig struct {
	WorkboxPath      string `env:"BUNDLER_WORKBOX_PATH,required"`
	OutboxPath       string `env:"BUNDLER_OUTBOX_PATH,required"`
	MetadataPageSize int    `env:"METADATA_PAGE_SIZE" envDefault:"1000"`
}

// Bundler builds the archive artifact for a specified bundle: an ndjson
// manifest of the bundled catalog records plus an uncompressed zip holding
// the manifest and the files at their warehouse paths.
type Bundler struct {
	cfg     BundlerConfig
	lta     ltaclient.API
	catalog filecatalog.API
}

func NewBundler(cfg BundlerConfig, lta ltaclient.API, catalog filecatalog.API) *Bundler {
	return &Bundler{cfg: cfg, lta: lta, catalog: catalog}
}

func (b *Bundler) Name() string {
	return "bundler"
}

func (b *Bundler) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	archivePath := filepath.Join(b.cfg.WorkboxPath, zipfile.ArchiveName(bundle.UUID))
	manifestPath := filepath.Join(b.cfg.WorkboxPath, zipfile.ManifestName(bundle.UUID))

	// a reaped claim can leave partial artifacts behind
	for _, stale := range []string{archivePath, manifestPath} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "removing stale artifact %s", stale)
		}
	}

	logicalNames, err := b.writeManifest(ctx, bundle, manifestPath)
	if err != nil {
		return nil, err
	}
	if len(logicalNames) != bundle.FileCount {
		return nil, worker.Quarantinef("bundle has %d metadata records but expected %d files",
			len(logicalNames), bundle.FileCount)
	}

	if err := b.writeArchive(bundle, archivePath, manifestPath, logicalNames); err != nil {
		return nil, err
	}

	sums, err := checksum.ForFile(archivePath)
	if err != nil {
		return nil, err
	}
	finfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "sizing archive")
	}

	finalArchive := filepath.Join(b.cfg.OutboxPath, zipfile.ArchiveName(bundle.UUID))
	finalManifest := filepath.Join(b.cfg.OutboxPath, zipfile.ManifestName(bundle.UUID))
	if err := moveFile(manifestPath, finalManifest); err != nil {
		return nil, err
	}
	if err := moveFile(archivePath, finalArchive); err != nil {
		return nil, err
	}

	log.Infof("bundler: bundle %s written to %s (%d bytes, %d files)",
		bundle.UUID, finalArchive, finfo.Size(), len(logicalNames))

	return &worker.Result{Updates: map[string]any{
		"bundle_path": finalArchive,
		"size":        finfo.Size(),
		"checksum":    map[string]any{"sha512": sums.SHA512, "adler32": sums.Adler32},
		"verified":    false,
	}}, nil
}

// writeManifest streams the bundle's catalog records to the ndjson sidecar
// and returns the logical names in manifest order.
func (b *Bundler) writeManifest(ctx context.Context, bundle *ltamodel.Bundle, manifestPath string) ([]string, error) {
	mw, err := zipfile.CreateManifest(manifestPath, zipfile.ManifestHeader{
		UUID:            bundle.UUID,
		Component:       "bundler",
		Version:         zipfile.ManifestVersion,
		CreateTimestamp: time.Now().UTC().Format(time.RFC3339),
		FileCount:       bundle.FileCount,
	})
	if err != nil {
		return nil, err
	}

	var logicalNames []string
	for skip := 0; ; skip += b.cfg.MetadataPageSize {
		page, err := b.lta.ListMetadata(ctx, bundle.UUID, b.cfg.MetadataPageSize, skip)
		if err != nil {
			mw.Close()
			return nil, errors.Wrap(err, "listing bundle metadata")
		}

		for _, md := range page {
			record, err := b.catalog.GetRecord(ctx, md.FileCatalogUUID)
			if err != nil {
				mw.Close()
				return nil, errors.Wrapf(err, "fetching catalog record %s", md.FileCatalogUUID)
			}
			if err := mw.WriteRecord(record); err != nil {
				mw.Close()
				return nil, err
			}
			logicalNames = append(logicalNames, record.LogicalName)
		}

		if len(page) < b.cfg.MetadataPageSize {
			break
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	return logicalNames, nil
}

func (b *Bundler) writeArchive(bundle *ltamodel.Bundle, archivePath, manifestPath string, logicalNames []string) error {
	zw := zipfile.NewWriter(archivePath)
	if err := zw.Open(); err != nil {
		return err
	}

	// manifest rides along as the first entry
	if err := zw.AddToArchive(manifestPath, zipfile.ManifestName(bundle.UUID)); err != nil {
		zw.Close()
		return err
	}

	for _, logicalName := range logicalNames {
		entryPath := strings.TrimPrefix(logicalName, "/")
		if err := zw.AddToArchive(logicalName, entryPath); err != nil {
			zw.Close()
			return err
		}
	}

	return zw.Close()
}
