// Package stats records per-slot progress snapshots for offline analysis.
// It observes a round driver; it never influences protocol decisions.
package stats

import "github.com/synchrotron/mergecommit/bitmap"

// Snapshot is one slot's observed progress at a single node.
type Snapshot struct {
	Slot          int
	FlagsSet      int
	LeavesSet     int
	FlagsComplete bool
}

// Recorder accumulates Snapshots across a round.
type Recorder struct {
	snapshots []Snapshot
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe appends a snapshot derived from the node's current flags,
// leaves and join mask.
func (r *Recorder) Observe(slot int, flags, leaves, joinMask bitmap.Bitmap) {
	r.snapshots = append(r.snapshots, Snapshot{
		Slot:          slot,
		FlagsSet:      flags.Popcount(),
		LeavesSet:     leaves.Popcount(),
		FlagsComplete: bitmap.ContainsMask(flags, joinMask),
	})
}

// Snapshots returns the recorded history in slot order.
func (r *Recorder) Snapshots() []Snapshot {
	return r.snapshots
}

// CompletionSlot returns the first slot at which FlagsComplete held, or
// -1 if it never did.
func (r *Recorder) CompletionSlot() int {
	for _, s := range r.snapshots {
		if s.FlagsComplete {
			return s.Slot
		}
	}
	return -1
}
