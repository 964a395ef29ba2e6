package stages

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type LocatorConfig struct {
	FileCatalogPageSize int `env:"FILE_CATALOG_PAGE_SIZE" envDefault:"1000"`
}

// Locator serves retrieval requests: it finds which archived bundles at the
// source site cover the requested warehouse path and creates located bundle
// records carrying the tape paths, ready for the retriever.
type Locator struct {
	cfg     LocatorConfig
	lta     ltaclient.API
	catalog filecatalog.API
}

func NewLocator(cfg LocatorConfig, lta ltaclient.API, catalog filecatalog.API) *Locator {
	return &Locator{cfg: cfg, lta: lta, catalog: catalog}
}

func (l *Locator) Name() string {
	return "locator"
}

func (l *Locator) Do(ctx context.Context, tr *ltamodel.TransferRequest) (*worker.Result, error) {
	tapePaths, fileCounts, err := l.findArchivedBundles(ctx, tr)
	if err != nil {
		return nil, err
	}
	if len(tapePaths) == 0 {
		return nil, worker.Quarantine("file catalog found no archived replicas for the request")
	}

	log.Infof("locator: request %s is covered by %d archived bundles", tr.UUID, len(tapePaths))

	// stable order so a retried request recreates the same bundles
	bundleUUIDs := make([]string, 0, len(tapePaths))
	for bundleUUID := range tapePaths {
		bundleUUIDs = append(bundleUUIDs, bundleUUID)
	}
	sort.Strings(bundleUUIDs)

	for _, bundleUUID := range bundleUUIDs {
		created, err := l.lta.BulkCreateBundles(ctx, []ltamodel.Bundle{{
			Request:    tr.UUID,
			Source:     tr.Source,
			Dest:       tr.Dest,
			Path:       tr.Path,
			Status:     ltamodel.BundleStatusLocated,
			BundlePath: tapePaths[bundleUUID],
			FileCount:  fileCounts[bundleUUID],
		}})
		if err != nil {
			return nil, errors.Wrap(err, "creating located bundle")
		}
		log.Infof("locator: bundle %s located at %s (%d files)",
			created[0], tapePaths[bundleUUID], fileCounts[bundleUUID])
	}

	return nil, nil
}

// findArchivedBundles maps archive bundle uuid to its tape path, counting
// the requested files each bundle holds.
func (l *Locator) findArchivedBundles(ctx context.Context, tr *ltamodel.TransferRequest) (map[string]string, map[string]int, error) {
	tapePaths := make(map[string]string)
	fileCounts := make(map[string]int)

	for start := 0; ; start += l.cfg.FileCatalogPageSize {
		page, err := l.catalog.FindFiles(ctx, filecatalog.FilesQuery{
			Site:             tr.Source,
			PathPrefix:       tr.Path,
			ArchivedAtSite:   true,
			IncludeLocations: true,
			Limit:            l.cfg.FileCatalogPageSize,
			Start:            start,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "querying file catalog")
		}

		for _, f := range page {
			for _, loc := range f.Locations {
				if loc.Site != tr.Source || !loc.Archive {
					continue
				}
				tapePath, bundleUUID, ok := splitArchivePath(loc.Path)
				if !ok {
					continue
				}
				tapePaths[bundleUUID] = tapePath
				fileCounts[bundleUUID]++
			}
		}

		if len(page) < l.cfg.FileCatalogPageSize {
			return tapePaths, fileCounts, nil
		}
	}
}

// splitArchivePath takes an archive location path of the form
// "{tape path}/{bundle uuid}.zip:{logical name}" and returns the tape path
// and the bundle uuid.
func splitArchivePath(locationPath string) (tapePath, bundleUUID string, ok bool) {
	tapePath, _, found := strings.Cut(locationPath, ":")
	if !found {
		tapePath = locationPath
	}

	base := path.Base(tapePath)
	if !strings.HasSuffix(base, ".zip") {
		return "", "", false
	}

	return tapePath, strings.TrimSuffix(base, ".zip"), true
}
