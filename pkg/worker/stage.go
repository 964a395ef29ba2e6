package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// Stage is one archival pipeline step: pop a work item, run the action,
// release the claim with a PATCH. WorkOne reports whether anything was
// claimed so the harness can drain the queue before sleeping.
type Stage interface {
	Component() string
	WorkOne(ctx context.Context) (claimed bool, err error)
	StatusExtras() map[string]any
}

// BundleStage drives a BundleAction against the bundle queue.
type BundleStage struct {
	ComponentType string
	Claimant      string
	Source        string
	Dest          string
	InputStatus   string
	OutputStatus  string
	Client        ltaclient.API
	Action        BundleAction
	Metrics       *Metrics
}

func (s *BundleStage) Component() string {
	return s.ComponentType
}

func (s *BundleStage) StatusExtras() map[string]any {
	if reporter, ok := s.Action.(StatusReporter); ok {
		return reporter.StatusExtras()
	}
	return nil
}

func (s *BundleStage) WorkOne(ctx context.Context) (bool, error) {
	if err := preflight(ctx, s.Action, s.ComponentType); err != nil {
		return false, nil
	}

	bundle, err := s.Client.PopBundle(ctx, s.InputStatus, s.Source, s.Dest, s.Claimant)
	if err != nil {
		return false, errors.Wrap(err, "popping bundle")
	}
	if bundle == nil {
		return false, nil
	}

	log.Infof("%s: claimed bundle %s (%s)", s.ComponentType, bundle.UUID, bundle.Path)

	result, err := s.Action.Do(ctx, bundle)
	if err != nil {
		s.countFailure()
		s.quarantine(ctx, bundle, err)
		return true, nil
	}

	update := releaseUpdate(result, s.OutputStatus, s.Claimant)
	if err := s.Client.PatchBundle(ctx, bundle.UUID, update); err != nil {
		if errors.Is(err, ltaclient.ErrClaimConflict) {
			log.Warnf("%s: work on bundle %s was reassigned; dropping it", s.ComponentType, bundle.UUID)
			return true, nil
		}
		s.countFailure()
		return true, errors.Wrapf(err, "releasing bundle %s", bundle.UUID)
	}

	if s.Metrics != nil {
		s.Metrics.Success(s.ComponentType)
	}

	return true, nil
}

func (s *BundleStage) quarantine(ctx context.Context, bundle *ltamodel.Bundle, actionErr error) {
	reason := fmt.Sprintf("%s: %s", s.ComponentType, actionErr.Error())
	log.Errorf("quarantining bundle %s: %s", bundle.UUID, reason)

	update := map[string]any{
		"status":          ltamodel.BundleStatusQuarantined,
		"reason":          reason,
		"original_status": bundle.Status,
		"claimed":         false,
		"claimant":        s.Claimant,
	}

	if err := s.Client.PatchBundle(ctx, bundle.UUID, update); err != nil {
		if errors.Is(err, ltaclient.ErrClaimConflict) {
			log.Warnf("%s: bundle %s was reassigned before quarantine", s.ComponentType, bundle.UUID)
			return
		}
		log.Errorf("failed to quarantine bundle %s: %s", bundle.UUID, err)
	}
}

func (s *BundleStage) countFailure() {
	if s.Metrics != nil {
		s.Metrics.Failure(s.ComponentType)
	}
}

// RequestStage drives a RequestAction against the transfer request queue.
type RequestStage struct {
	ComponentType string
	Claimant      string
	Source        string
	Dest          string
	Client        ltaclient.API
	Action        RequestAction
	Metrics       *Metrics
}

func (s *RequestStage) Component() string {
	return s.ComponentType
}

func (s *RequestStage) StatusExtras() map[string]any {
	if reporter, ok := s.Action.(StatusReporter); ok {
		return reporter.StatusExtras()
	}
	return nil
}

func (s *RequestStage) WorkOne(ctx context.Context) (bool, error) {
	if err := preflight(ctx, s.Action, s.ComponentType); err != nil {
		return false, nil
	}

	tr, err := s.Client.PopTransferRequest(ctx, s.Source, s.Dest, s.Claimant)
	if err != nil {
		return false, errors.Wrap(err, "popping transfer request")
	}
	if tr == nil {
		return false, nil
	}

	log.Infof("%s: claimed transfer request %s (%s -> %s %s)", s.ComponentType, tr.UUID, tr.Source, tr.Dest, tr.Path)

	result, err := s.Action.Do(ctx, tr)
	if err != nil {
		s.countFailure()
		s.quarantine(ctx, tr, err)
		return true, nil
	}

	update := releaseUpdate(result, ltamodel.RequestStatusProcessing, s.Claimant)
	if err := s.Client.PatchTransferRequest(ctx, tr.UUID, update); err != nil {
		if errors.Is(err, ltaclient.ErrClaimConflict) {
			log.Warnf("%s: work on request %s was reassigned; dropping it", s.ComponentType, tr.UUID)
			return true, nil
		}
		s.countFailure()
		return true, errors.Wrapf(err, "releasing transfer request %s", tr.UUID)
	}

	if s.Metrics != nil {
		s.Metrics.Success(s.ComponentType)
	}

	return true, nil
}

func (s *RequestStage) quarantine(ctx context.Context, tr *ltamodel.TransferRequest, actionErr error) {
	reason := fmt.Sprintf("%s: %s", s.ComponentType, actionErr.Error())
	log.Errorf("quarantining transfer request %s: %s", tr.UUID, reason)

	update := map[string]any{
		"status":          ltamodel.RequestStatusQuarantined,
		"reason":          reason,
		"original_status": tr.Status,
		"claimed":         false,
		"claimant":        s.Claimant,
	}

	if err := s.Client.PatchTransferRequest(ctx, tr.UUID, update); err != nil {
		if errors.Is(err, ltaclient.ErrClaimConflict) {
			log.Warnf("%s: request %s was reassigned before quarantine", s.ComponentType, tr.UUID)
			return
		}
		log.Errorf("failed to quarantine transfer request %s: %s", tr.UUID, err)
	}
}

func (s *RequestStage) countFailure() {
	if s.Metrics != nil {
		s.Metrics.Failure(s.ComponentType)
	}
}

func preflight(ctx context.Context, action any, component string) error {
	pf, ok := action.(Preflighter)
	if !ok {
		return nil
	}

	if err := pf.Preflight(ctx); err != nil {
		log.Infof("%s: skipping work cycle: %s", component, err)
		return err
	}

	return nil
}

// releaseUpdate builds the claim-release PATCH from an action result. A nil
// result advances the status with no extra fields. The claimant rides along
// so the coordinator fences the write against reaped claims.
func releaseUpdate(result *Result, outputStatus, claimant string) map[string]any {
	update := map[string]any{"claimed": false, "claimant": claimant}

	if result != nil {
		for key, value := range result.Updates {
			update[key] = value
		}
	}

	if result != nil && result.Skip {
		if result.ToBack {
			update["work_priority_timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		return update
	}

	update["status"] = outputStatus
	return update
}
