// Package reaper releases claims whose holders have gone away. A claim older
// than the configured maximum age is presumed orphaned: the worker died, or
// lost its network, or was rescheduled. Clearing the claim puts the work
// back in the POP queue; claimant fencing keeps the original worker's late
// writes out.
package reaper

import (
	"context"
	"time"

	"github.com/apex/log"

	"github.com/wipac/lta/pkg/ltadb/stor"
)

const (
	DefaultInterval    = 300 * time.Second
	DefaultMaxClaimAge = 12 * time.Hour

	// heartbeat rows silent for this long are culled from dashboards
	DefaultHeartbeatCullAge = 7 * 24 * time.Hour
)

type Reaper struct {
	bundleStor          stor.BundleStor
	transferRequestStor stor.TransferRequestStor
	statusStor          stor.ComponentStatusStor
	interval            time.Duration
	maxClaimAge         time.Duration
	heartbeatCullAge    time.Duration
}

func NewReaper(stors *stor.Stors, interval, maxClaimAge time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxClaimAge <= 0 {
		maxClaimAge = DefaultMaxClaimAge
	}

	return &Reaper{
		bundleStor:          stors.BundleStor,
		transferRequestStor: stors.TransferRequestStor,
		statusStor:          stors.ComponentStatusStor,
		interval:            interval,
		maxClaimAge:         maxClaimAge,
		heartbeatCullAge:    DefaultHeartbeatCullAge,
	}
}

// Run reaps on the configured interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	log.Infof("reaper: running every %s, max claim age %s", r.interval, r.maxClaimAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("reaper: stopping")
			return
		case <-ticker.C:
			r.ReapOnce()
		}
	}
}

// ReapOnce runs a single reaping pass. Safe to race with workers: releases
// are gated on the observed claim_timestamp, and a release that loses its
// race simply means the claim was already resolved.
func (r *Reaper) ReapOnce() {
	released, err := r.bundleStor.ReleaseStaleBundleClaims(r.maxClaimAge)
	if err != nil {
		log.Errorf("reaper: releasing stale bundle claims: %s", err)
	}
	for _, bundleUUID := range released {
		log.Warnf("reaper: released stale claim on bundle %s", bundleUUID)
	}

	released, err = r.transferRequestStor.ReleaseStaleRequestClaims(r.maxClaimAge)
	if err != nil {
		log.Errorf("reaper: releasing stale transfer request claims: %s", err)
	}
	for _, trUUID := range released {
		log.Warnf("reaper: released stale claim on transfer request %s", trUUID)
	}

	culled, err := r.statusStor.CullComponentStatusesOlderThan(r.heartbeatCullAge)
	if err != nil {
		log.Errorf("reaper: culling stale heartbeats: %s", err)
	}
	if culled > 0 {
		log.Infof("reaper: culled %d stale heartbeat records", culled)
	}
}
