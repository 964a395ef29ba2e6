package stages

import (
	"context"
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

// Deleter removes a bundle's staging copy once a later stage no longer
// needs it. Deployed twice with different status pairs: completed to
// source-deleted at the source site, source-deleted to deleted at the
// destination. A file that is already gone counts as deleted.
type Deleter struct{}

func NewDeleter() *Deleter {
	return &Deleter{}
}

func (d *Deleter) Name() string {
	return "deleter"
}

func (d *Deleter) Do(_ context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	err := os.Remove(bundle.BundlePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing %s", bundle.BundlePath)
	}
	if os.IsNotExist(err) {
		log.Infof("deleter: %s already gone", bundle.BundlePath)
	} else {
		log.Infof("deleter: removed %s", bundle.BundlePath)
	}

	return nil, nil
}
