package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/checksum"
	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
	"github.com/wipac/lta/pkg/zipfile"
)

type UnpackerConfig struct {
	WorkboxPath string `env:"UNPACKER_WORKBOX_PATH,required"`
	OutboxPath  string `env:"UNPACKER_OUTBOX_PATH,required"`

	// PathMapJSON optionally remaps warehouse path prefixes, as a JSON
	// object of old prefix to new prefix. Retrieval to a different
	// warehouse layout sets this.
	PathMapJSON string `env:"PATH_MAP_JSON"`
}

// Unpacker expands a retrieved bundle back into the data warehouse: extract
// the archive, then per file check size, move it to its logical path, check
// sha512, and register the restored location in the File Catalog.
type Unpacker struct {
	cfg     UnpackerConfig
	catalog filecatalog.API
	pathMap map[string]string
}

func NewUnpacker(cfg UnpackerConfig, catalog filecatalog.API) (*Unpacker, error) {
	u := &Unpacker{cfg: cfg, catalog: catalog}

	if cfg.PathMapJSON != "" {
		if err := json.Unmarshal([]byte(cfg.PathMapJSON), &u.pathMap); err != nil {
			return nil, errors.Wrap(err, "parsing PATH_MAP_JSON")
		}
	}

	return u, nil
}

func (u *Unpacker) Name() string {
	return "unpacker"
}

func (u *Unpacker) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	bundleUUID := strings.TrimSuffix(basename, ".zip")
	archivePath := filepath.Join(u.cfg.WorkboxPath, zipfile.ArchiveName(bundleUUID))

	reader, err := zipfile.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}

	manifest, err := reader.Manifest(bundleUUID)
	if err != nil {
		reader.Close()
		return nil, err
	}
	if len(manifest.Files) != manifest.Header.FileCount {
		reader.Close()
		return nil, worker.Quarantinef("manifest lists %d files but header expects %d",
			len(manifest.Files), manifest.Header.FileCount)
	}

	log.Infof("unpacker: extracting %s (%d files) to %s", archivePath, len(manifest.Files), u.cfg.OutboxPath)
	if err := reader.ExtractAll(u.cfg.OutboxPath); err != nil {
		reader.Close()
		return nil, err
	}
	reader.Close()

	for i := range manifest.Files {
		if err := u.restoreFile(ctx, &manifest.Files[i]); err != nil {
			return nil, err
		}
	}

	u.cleanArtifacts(bundleUUID, archivePath)
	return nil, nil
}

// restoreFile moves one extracted file to its warehouse path and verifies
// it against the manifest record.
func (u *Unpacker) restoreFile(ctx context.Context, record *filecatalog.Record) error {
	destPath := u.mapPath(record.LogicalName)
	extracted := filepath.Join(u.cfg.OutboxPath, strings.TrimPrefix(record.LogicalName, "/"))

	finfo, err := os.Stat(extracted)
	if err != nil {
		return errors.Wrapf(err, "extracted file missing for %s", record.LogicalName)
	}
	if finfo.Size() != record.FileSize {
		return worker.Quarantinef("file %s has %d bytes on disk but the manifest says %d",
			filepath.Base(destPath), finfo.Size(), record.FileSize)
	}

	if err := moveFile(extracted, destPath); err != nil {
		return err
	}

	sum, err := checksum.SHA512ForFile(destPath)
	if err != nil {
		return err
	}
	if sum != record.Checksum.SHA512 {
		return worker.Quarantinef("file %s checksum %s does not match manifest checksum %s",
			filepath.Base(destPath), sum, record.Checksum.SHA512)
	}

	if err := u.catalog.AddLocation(ctx, record.UUID, filecatalog.Location{
		Site: "WIPAC",
		Path: destPath,
	}); err != nil {
		return errors.Wrapf(err, "registering restored location for %s", destPath)
	}

	log.Infof("unpacker: restored %s", destPath)
	return nil
}

func (u *Unpacker) mapPath(logicalName string) string {
	for oldPrefix, newPrefix := range u.pathMap {
		if strings.HasPrefix(logicalName, oldPrefix) {
			return newPrefix + strings.TrimPrefix(logicalName, oldPrefix)
		}
	}
	return logicalName
}

func (u *Unpacker) cleanArtifacts(bundleUUID, archivePath string) {
	doomed := []string{
		archivePath,
		filepath.Join(u.cfg.OutboxPath, zipfile.ManifestName(bundleUUID)),
	}
	for _, path := range doomed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("unpacker: could not remove %s: %s", path, err)
		}
	}
}
