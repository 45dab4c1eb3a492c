package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synchrotron/mergecommit/bitmap"
)

func TestCompletionSlotReportsFirstComplete(t *testing.T) {
	r := NewRecorder()
	mask := bitmap.New(1)
	mask.Set(0)
	mask.Set(1)

	partial := bitmap.New(1)
	partial.Set(0)
	r.Observe(0, partial, bitmap.New(1), mask)

	full := bitmap.New(1)
	full.Set(0)
	full.Set(1)
	r.Observe(1, full, bitmap.New(1), mask)
	r.Observe(2, full, bitmap.New(1), mask)

	require.Equal(t, 1, r.CompletionSlot())
	require.Len(t, r.Snapshots(), 3)
}

func TestCompletionSlotIsMinusOneWhenNeverComplete(t *testing.T) {
	r := NewRecorder()
	mask := bitmap.New(1)
	mask.Set(0)
	r.Observe(0, bitmap.New(1), bitmap.New(1), mask)
	require.Equal(t, -1, r.CompletionSlot())
}
