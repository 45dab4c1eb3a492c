// Package flags implements the per-slot OR-merge of participation and
// leave bitmaps, and the join-mask derivation that defines completeness.
package flags

import "github.com/synchrotron/mergecommit/bitmap"

// Engine holds the per-round join-mask state.
type Engine struct {
	JoinMask            bitmap.Bitmap
	HasInitialJoinMasks bool
}

// NewEngine allocates an Engine with a zeroed join mask of the given
// FLAGS_LEN.
func NewEngine(flagsLen int) *Engine {
	return &Engine{JoinMask: bitmap.New(flagsLen)}
}

// Reset clears the engine for a new round.
func (e *Engine) Reset() {
	for i := range e.JoinMask {
		e.JoinMask[i] = 0
	}
	e.HasInitialJoinMasks = false
}

// Merge OR-merges tx's flags/leaves with rx's, deriving the join mask from
// the first received packet if it hasn't been derived yet, and reports
// whether tx changed and whether the local/received flags are each
// complete against the mask.
func (e *Engine) Merge(txFlags, txLeaves, rxFlags, rxLeaves bitmap.Bitmap) (txNeeded, flagsComplete, rxComplete bool) {
	if !e.HasInitialJoinMasks {
		for i := range e.JoinMask {
			e.JoinMask[i] = ^rxLeaves[i] | txFlags[i] | rxFlags[i]
		}
		e.HasInitialJoinMasks = true
	}

	for i := range txFlags {
		if txLeaves[i] != rxLeaves[i] || txFlags[i] != rxFlags[i] {
			txNeeded = true
		}
		txLeaves[i] |= rxLeaves[i]
		txFlags[i] |= rxFlags[i]
	}

	flagsComplete = bitmap.ContainsMask(txFlags, e.JoinMask)
	rxComplete = bitmap.ContainsMask(rxFlags, e.JoinMask)
	return txNeeded, flagsComplete, rxComplete
}

// AdmitPresent ORs "still present" bits (the complement of the leave
// bitmap) into the join mask, as done after a commit admits/purges members.
func (e *Engine) AdmitPresent(txLeaves bitmap.Bitmap) {
	for i := range e.JoinMask {
		e.JoinMask[i] |= ^txLeaves[i]
	}
}
