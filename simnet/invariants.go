package simnet

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/synchrotron/mergecommit/wire"
)

// CheckAllCommitted aggregates a failure for every node whose round did
// not end in PhaseCommit, the way a multi-party test harness collects one
// goroutine's worth of assertions per participant before failing the
// whole run.
func CheckAllCommitted(results []RoundResult) error {
	var errs *multierror.Error
	for _, r := range results {
		if r.Outcome.Phase != wire.PhaseCommit {
			errs = multierror.Append(errs, fmt.Errorf("%s: round ended in phase %d, not COMMIT", r.Name, r.Outcome.Phase))
		}
	}
	return errs.ErrorOrNil()
}

// CheckFlagsConverged reports a per-node failure for any result whose
// final flags bit at index want is not set (present true) or not clear
// (present false).
func CheckFlagsConverged(results []RoundResult, want wire.NodeIndex, present bool) error {
	var errs *multierror.Error
	for _, r := range results {
		got := r.Outcome.FinalFlags.Test(int(want))
		if got != present {
			errs = multierror.Append(errs, fmt.Errorf("%s: flags bit %d = %v, want %v", r.Name, want, got, present))
		}
	}
	return errs.ErrorOrNil()
}
