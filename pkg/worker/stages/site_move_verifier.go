package stages

import (
	"context"
	"path/filepath"

	"github.com/apex/log"

	"github.com/wipac/lta/pkg/checksum"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type SiteMoveVerifierConfig struct {
	DestRootPath      string `env:"DEST_ROOT_PATH,required"`
	UseFullBundlePath bool   `env:"USE_FULL_BUNDLE_PATH" envDefault:"false"`
}

// SiteMoveVerifier re-checksums a transferred bundle at the destination
// site. A mismatch against the checksum recorded at creation quarantines
// the bundle; a match marks it verified and rewrites bundle_path to the
// destination copy.
type SiteMoveVerifier struct {
	cfg SiteMoveVerifierConfig
}

func NewSiteMoveVerifier(cfg SiteMoveVerifierConfig) *SiteMoveVerifier {
	return &SiteMoveVerifier{cfg: cfg}
}

func (v *SiteMoveVerifier) Name() string {
	return "site-move-verifier"
}

func (v *SiteMoveVerifier) Do(_ context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	destPath := filepath.Join(v.cfg.DestRootPath, basename)
	if v.cfg.UseFullBundlePath {
		destPath = filepath.Join(v.cfg.DestRootPath, bundle.Path, basename)
	}

	log.Infof("site-move-verifier: checksumming %s", destPath)

	sum, err := checksum.SHA512ForFile(destPath)
	if err != nil {
		return nil, err
	}
	if sum != bundle.Checksum.SHA512 {
		return nil, worker.Quarantinef("checksum mismatch between creation and destination: %s", sum)
	}

	return &worker.Result{Updates: map[string]any{
		"bundle_path": destPath,
		"verified":    true,
	}}, nil
}
