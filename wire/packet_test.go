package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testWidth() Width {
	return Width{MaxNodeCount: 10, ValueLen: 4}
}

func TestControlPacking(t *testing.T) {
	for _, tc := range []struct {
		typ   Type
		phase Phase
	}{
		{TypeUnknown, PhaseMerge},
		{TypeCoordination, PhaseMerge},
		{TypeCoordination, PhaseCommit},
		{TypeElectionAndHandover, PhaseCommit},
	} {
		c := packControl(tc.typ, tc.phase)
		gotType, gotPhase := unpackControl(c)
		require.Equal(t, tc.typ, gotType)
		require.Equal(t, tc.phase, gotPhase)
	}
}

func TestEncodeDecodeRoundTripCoordination(t *testing.T) {
	w := testWidth()
	p := NewPacket(w)
	p.Type = TypeCoordination
	p.Phase = PhaseMerge
	p.RejoinSlot = 7
	p.RejoinIndex = 2
	p.Join.Config = 3
	p.Join.NodeCount = 2
	p.Join.SlotCount = 1
	p.Join.Slots[0] = 9
	p.Join.Indices[0] = 1
	p.Join.Commit = true
	copy(p.Value, []byte{1, 2, 3, 4})
	p.Flags.Set(0)
	p.Leaves.Set(1)

	buf := Encode(w, p)
	require.Len(t, buf, w.Len())

	got := NewPacket(w)
	require.NoError(t, Decode(w, buf, got))

	require.Equal(t, p.Type, got.Type)
	require.Equal(t, p.Phase, got.Phase)
	require.Equal(t, p.RejoinSlot, got.RejoinSlot)
	require.Equal(t, p.RejoinIndex, got.RejoinIndex)
	require.Equal(t, p.Join.Config, got.Join.Config)
	require.Equal(t, p.Join.Slots, got.Join.Slots)
	require.Equal(t, p.Join.Indices, got.Join.Indices)
	require.True(t, got.Join.Commit)
	require.False(t, got.Join.Overflow)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Value)
	require.True(t, got.Flags.Test(0))
	require.True(t, got.Leaves.Test(1))
}

func TestEncodeDecodeRoundTripElection(t *testing.T) {
	w := testWidth()
	p := NewPacket(w)
	p.Type = TypeElectionAndHandover
	p.Phase = PhaseMerge
	p.Election.LeaderNodeID = 4
	p.Election.Priority = 9
	p.Election.JoinedNodes[0] = 1
	p.Election.JoinedNodes[1] = 4

	buf := Encode(w, p)
	got := NewPacket(w)
	require.NoError(t, Decode(w, buf, got))

	require.Equal(t, p.Election.LeaderNodeID, got.Election.LeaderNodeID)
	require.Equal(t, p.Election.Priority, got.Election.Priority)
	require.Equal(t, p.Election.JoinedNodes, got.Election.JoinedNodes)
}

func TestDecodeShortBuffer(t *testing.T) {
	w := testWidth()
	err := Decode(w, make([]byte, 3), NewPacket(w))
	require.Error(t, err)
}

func TestUnionLenIsMaxOfVariants(t *testing.T) {
	w := Width{MaxNodeCount: 4, ValueLen: 1}
	// electionLen = 4 + 2*4 = 12, larger than ValueLen.
	require.Equal(t, 12, w.unionLen())

	w2 := Width{MaxNodeCount: 1, ValueLen: 100}
	require.Equal(t, 100, w2.unionLen())
}

func TestCloneIsIndependent(t *testing.T) {
	w := testWidth()
	p := NewPacket(w)
	p.Join.Slots[0] = 5
	p.Flags.Set(0)

	c := p.Clone()
	c.Join.Slots[0] = 99
	c.Flags.Set(1)

	require.Equal(t, NodeID(5), p.Join.Slots[0])
	require.False(t, p.Flags.Test(1))
}

func TestCopyFromOverwritesDestination(t *testing.T) {
	w := testWidth()
	src := NewPacket(w)
	src.Type = TypeCoordination
	src.Phase = PhaseCommit
	src.Join.Config = 5
	src.Flags.Set(2)

	dst := NewPacket(w)
	dst.CopyFrom(src)

	require.Equal(t, src.Type, dst.Type)
	require.Equal(t, src.Phase, dst.Phase)
	require.Equal(t, src.Join.Config, dst.Join.Config)
	require.True(t, dst.Flags.Test(2))
}
