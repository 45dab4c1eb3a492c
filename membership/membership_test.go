package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synchrotron/mergecommit/bitmap"
	"github.com/synchrotron/mergecommit/wire"
)

func TestCompareConfig(t *testing.T) {
	require.Equal(t, ConfigEqual, CompareConfig(5, 5))
	require.Equal(t, ConfigRemoteAhead, CompareConfig(5, 6))
	require.Equal(t, ConfigRemoteBehind, CompareConfig(6, 5))
}

func TestTableAddRemoveAndLookup(t *testing.T) {
	tbl := NewTable(4)
	tbl.Load([]wire.NodeID{1, 2, 0, 0})
	require.Equal(t, 2, tbl.Count())

	idx, ok := tbl.AddNode(3)
	require.True(t, ok)
	require.Equal(t, 2, idx) // lowest free slot
	require.Equal(t, 3, tbl.Count())
	require.Equal(t, 2, tbl.IndexForNodeID(3))
	require.Equal(t, -1, tbl.IndexForNodeID(99))

	tbl.Remove(0)
	require.Equal(t, 2, tbl.Count())
	require.Equal(t, -1, tbl.IndexForNodeID(1))

	idx2, ok := tbl.AddNode(4)
	require.True(t, ok)
	require.Equal(t, 0, idx2) // freed slot 0 reused before slot 3
}

func TestTableOverflow(t *testing.T) {
	tbl := NewTable(2)
	tbl.Load([]wire.NodeID{1, 2})
	_, ok := tbl.AddNode(3)
	require.False(t, ok)
}

func TestAdmitJoinersAssignsIndexAndClearsLeaveBit(t *testing.T) {
	tbl := NewTable(3)
	tbl.Load([]wire.NodeID{1, 2, 0})
	leaves := bitmap.New(bitmap.Len(3))
	leaves.Set(2)

	jd := &wire.JoinData{
		Slots:     []wire.NodeID{3, 0, 0},
		Indices:   make([]wire.NodeIndex, 3),
		SlotCount: 1,
	}
	AdmitJoiners(tbl, jd, leaves)

	require.Equal(t, wire.NodeIndex(2), jd.Indices[0])
	require.False(t, leaves.Test(2))
	require.False(t, jd.Overflow)
	require.Equal(t, uint16(3), jd.NodeCount)
}

func TestAdmitJoinersOverflowZeroesSlot(t *testing.T) {
	tbl := NewTable(2)
	tbl.Load([]wire.NodeID{1, 2})
	leaves := bitmap.New(bitmap.Len(2))

	jd := &wire.JoinData{
		Slots:     []wire.NodeID{9},
		Indices:   make([]wire.NodeIndex, 1),
		SlotCount: 1,
	}
	AdmitJoiners(tbl, jd, leaves)
	require.True(t, jd.Overflow)
	require.Equal(t, wire.NodeID(0), jd.Slots[0])
}

func TestPurgeLeaversSparesOwnIndex(t *testing.T) {
	tbl := NewTable(3)
	tbl.Load([]wire.NodeID{1, 2, 3})
	leaves := bitmap.New(bitmap.Len(3))
	leaves.Set(0) // initiator tries to leave itself; must be spared
	leaves.Set(2)

	PurgeLeavers(tbl, leaves, 0)

	require.False(t, leaves.Test(0))
	require.Equal(t, wire.NodeID(1), tbl.Joined()[0]) // still present
	require.Equal(t, wire.NodeID(0), tbl.Joined()[2])
	require.Equal(t, 2, tbl.Count())
}

func TestPublishAndAdoptRejoinSlot(t *testing.T) {
	tbl := NewTable(3)
	tbl.Load([]wire.NodeID{1, 2, 0})

	jd := &wire.JoinData{Slots: []wire.NodeID{2, 0, 0}, Indices: make([]wire.NodeIndex, 3), SlotCount: 1}
	tx := wire.NewPacket(wire.Width{MaxNodeCount: 3, ValueLen: 1})
	PublishRejoinSlot(tbl, jd, tx)
	require.Equal(t, wire.NodeID(2), tx.RejoinSlot)
	require.Equal(t, wire.NodeIndex(1), tx.RejoinIndex)

	other := wire.NewPacket(wire.Width{MaxNodeCount: 3, ValueLen: 1})
	AdoptRejoinSlot(other, tx)
	require.Equal(t, tx.RejoinSlot, other.RejoinSlot)

	idx, ok := TryRejoinSelf(other, 2)
	require.True(t, ok)
	require.Equal(t, wire.NodeIndex(1), idx)

	_, ok = TryRejoinSelf(other, 99)
	require.False(t, ok)
}

func TestPublishJoinRequest(t *testing.T) {
	jd := &wire.JoinData{Slots: make([]wire.NodeID, 2), Indices: make([]wire.NodeIndex, 2)}
	PublishJoinRequest(jd, 7)
	require.Equal(t, wire.NodeID(7), jd.Slots[0])
	require.Equal(t, uint16(1), jd.SlotCount)
}
