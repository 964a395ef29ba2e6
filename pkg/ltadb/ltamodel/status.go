package ltamodel

// Bundle statuses. A bundle walks one of the pipeline paths below; quarantine
// is reachable from anywhere and exits only back to the preserved original
// status.
const (
	BundleStatusSpecified     = "specified"
	BundleStatusLocated       = "located"
	BundleStatusCreated       = "created"
	BundleStatusStaged        = "staged"
	BundleStatusTransferring  = "transferring"
	BundleStatusTaping        = "taping"
	BundleStatusVerifying     = "verifying"
	BundleStatusUnpacking     = "unpacking"
	BundleStatusCompleted     = "completed"
	BundleStatusSourceDeleted = "source-deleted"
	BundleStatusDeleted       = "deleted"
	BundleStatusFinished      = "finished"
	BundleStatusQuarantined   = "quarantined"
)

// TransferRequest statuses.
const (
	RequestStatusUnclaimed   = "unclaimed"
	RequestStatusProcessing  = "processing"
	RequestStatusFinished    = "finished"
	RequestStatusQuarantined = "quarantined"
)

var bundleTransitions = map[string][]string{
	BundleStatusSpecified:     {BundleStatusCreated},
	BundleStatusCreated:       {BundleStatusStaged},
	BundleStatusLocated:       {BundleStatusStaged},
	BundleStatusStaged:        {BundleStatusTransferring},
	BundleStatusTransferring:  {BundleStatusTaping, BundleStatusUnpacking},
	BundleStatusTaping:        {BundleStatusVerifying},
	BundleStatusVerifying:     {BundleStatusCompleted},
	BundleStatusUnpacking:     {BundleStatusCompleted},
	BundleStatusCompleted:     {BundleStatusSourceDeleted},
	BundleStatusSourceDeleted: {BundleStatusDeleted},
	BundleStatusDeleted:       {BundleStatusFinished},
	BundleStatusFinished:      {},
}

// AllBundleStatuses lists every status a stored bundle may carry.
var AllBundleStatuses = []string{
	BundleStatusSpecified,
	BundleStatusLocated,
	BundleStatusCreated,
	BundleStatusStaged,
	BundleStatusTransferring,
	BundleStatusTaping,
	BundleStatusVerifying,
	BundleStatusUnpacking,
	BundleStatusCompleted,
	BundleStatusSourceDeleted,
	BundleStatusDeleted,
	BundleStatusFinished,
	BundleStatusQuarantined,
}

func KnownBundleStatus(status string) bool {
	for _, s := range AllBundleStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ValidBundleTransition reports whether a bundle may move from one status to
// another: forward along a pipeline edge, sideways into quarantine, or back
// out of quarantine to the preserved original status.
func ValidBundleTransition(from, to string) bool {
	if !KnownBundleStatus(from) || !KnownBundleStatus(to) {
		return false
	}
	if to == BundleStatusQuarantined {
		return from != BundleStatusQuarantined
	}
	if from == BundleStatusQuarantined {
		return to != BundleStatusQuarantined
	}

	for _, next := range bundleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
