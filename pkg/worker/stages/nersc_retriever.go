package stages

import (
	"context"
	"path/filepath"

	"github.com/apex/log"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type NerscRetrieverConfig struct {
	RseBasePath string `env:"RSE_BASE_PATH,required"`
}

// NerscRetriever reads located bundles back from HPSS tape into the NERSC
// staging area for the return trip. The located bundle's bundle_path is the
// tape path the locator found in the catalog.
type NerscRetriever struct {
	cfg  NerscRetrieverConfig
	tape Tape
}

func NewNerscRetriever(cfg NerscRetrieverConfig, tape Tape) *NerscRetriever {
	return &NerscRetriever{cfg: cfg, tape: tape}
}

func (r *NerscRetriever) Name() string {
	return "nersc-retriever"
}

func (r *NerscRetriever) Preflight(ctx context.Context) error {
	return r.tape.Available(ctx)
}

func (r *NerscRetriever) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	tapePath := bundle.BundlePath
	rsePath := filepath.Join(r.cfg.RseBasePath, filepath.Base(tapePath))

	log.Infof("nersc-retriever: reading %s from tape to %s", tapePath, rsePath)
	if err := r.tape.Get(ctx, rsePath, tapePath); err != nil {
		return nil, err
	}

	return &worker.Result{Updates: map[string]any{
		"bundle_path": rsePath,
	}}, nil
}
