package worker

import (
	"context"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// Result is what an action hands back for the claim-release PATCH.
type Result struct {
	// Updates carries additional fields for the PATCH (bundle_path, size,
	// checksum, ...). The stage supplies status and claimed itself.
	Updates map[string]any

	// Skip releases the claim without advancing the status. The rate
	// limiter uses this when the destination quota is full.
	Skip bool

	// ToBack, with Skip, pushes the item to the back of its queue by
	// resetting its work priority.
	ToBack bool
}

// BundleAction is one stage's work on a claimed bundle. Returning an error
// built with Quarantine parks the bundle with that reason; any other error
// quarantines it with the error text.
type BundleAction interface {
	Name() string
	Do(ctx context.Context, bundle *ltamodel.Bundle) (*Result, error)
}

// RequestAction is the transfer request analog, used by the picker, the
// locator, and the request finisher.
type RequestAction interface {
	Name() string
	Do(ctx context.Context, tr *ltamodel.TransferRequest) (*Result, error)
}

// Preflighter is implemented by actions that must check an external system
// before claiming anything. A non-nil error skips the whole work cycle
// without a pop, so nothing gets claimed while tape is down.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// StatusReporter lets an action add stage-specific fields to the heartbeat
// payload.
type StatusReporter interface {
	StatusExtras() map[string]any
}
