package stages

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type ReplicatorConfig struct {
	DestURL string `env:"GRIDFTP_DEST_URL,required"`
}

// GridFTP is the transfer surface the replicator and desy verifier need.
// gridftp.Client implements it.
type GridFTP interface {
	Put(ctx context.Context, localPath, destURL string) error
	Get(ctx context.Context, srcURL, localPath string) error
}

// SizeProber checks how many bytes actually landed at the destination. A
// gridftp transfer can exit non-zero after the copy completed, so a failed
// transfer whose destination size matches the bundle is treated as done.
type SizeProber func(ctx context.Context, destURL string) (int64, error)

// Replicator pushes staged bundles to the destination site over gridftp.
type Replicator struct {
	cfg     ReplicatorConfig
	gridftp GridFTP
	probe   SizeProber
}

func NewReplicator(cfg ReplicatorConfig, gridftp GridFTP, probe SizeProber) *Replicator {
	return &Replicator{cfg: cfg, gridftp: gridftp, probe: probe}
}

func (r *Replicator) Name() string {
	return "replicator"
}

func (r *Replicator) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	destURL := strings.TrimSuffix(r.cfg.DestURL, "/") + "/" + basename

	log.Infof("replicator: sending %s to %s", bundle.BundlePath, destURL)

	if err := r.gridftp.Put(ctx, bundle.BundlePath, destURL); err != nil {
		if !r.transferLanded(ctx, destURL, bundle.Size) {
			return nil, errors.Wrap(err, "gridftp transfer failed")
		}
		log.Warnf("replicator: transfer of %s reported failure but the destination is complete", basename)
	}

	return &worker.Result{Updates: map[string]any{
		"transfer_reference": "globus-url-copy",
	}}, nil
}

func (r *Replicator) transferLanded(ctx context.Context, destURL string, wantSize int64) bool {
	if r.probe == nil || wantSize == 0 {
		return false
	}

	gotSize, err := r.probe(ctx, destURL)
	if err != nil {
		return false
	}

	return gotSize == wantSize
}
