package stages

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type RateLimiterConfig struct {
	OutputPath  string `env:"RATE_LIMITER_OUTPUT_PATH,required"`
	OutputQuota int64  `env:"RATE_LIMITER_OUTPUT_QUOTA,required"`
}

// RateLimiter moves created bundles into the staging directory, but only
// while the staging directory stays under its byte quota. Bundles that do
// not fit go to the back of the queue unclaimed; bundles whose artifact has
// vanished are released untouched for an operator to sort out.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	lastUsed int64
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg}
}

func (r *RateLimiter) Name() string {
	return "rate-limiter"
}

// StatusExtras surfaces the staging quota in heartbeats.
func (r *RateLimiter) StatusExtras() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"output_quota": r.cfg.OutputQuota,
		"output_used":  r.lastUsed,
	}
}

func (r *RateLimiter) Do(_ context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	finfo, err := os.Stat(bundle.BundlePath)
	if os.IsNotExist(err) {
		log.Warnf("rate-limiter: bundle %s artifact missing at %s; releasing claim", bundle.UUID, bundle.BundlePath)
		return &worker.Result{Skip: true}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", bundle.BundlePath)
	}

	used, err := dirSize(r.cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastUsed = used
	r.mu.Unlock()

	if used+finfo.Size() > r.cfg.OutputQuota {
		log.Infof("rate-limiter: staging at %d of %d bytes; bundle %s (%d bytes) goes to the back of the queue",
			used, r.cfg.OutputQuota, bundle.UUID, finfo.Size())
		return &worker.Result{Skip: true, ToBack: true}, nil
	}

	dest := filepath.Join(r.cfg.OutputPath, filepath.Base(bundle.BundlePath))
	if err := moveFile(bundle.BundlePath, dest); err != nil {
		return nil, err
	}

	log.Infof("rate-limiter: bundle %s staged at %s", bundle.UUID, dest)
	return &worker.Result{Updates: map[string]any{"bundle_path": dest}}, nil
}
