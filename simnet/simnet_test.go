package simnet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synchrotron/mergecommit/membership"
	"github.com/synchrotron/mergecommit/randsrc"
	"github.com/synchrotron/mergecommit/round"
	"github.com/synchrotron/mergecommit/wire"
)

func maxMerge(rx, tx []byte) {
	for i := range tx {
		if i < len(rx) && rx[i] > tx[i] {
			tx[i] = rx[i]
		}
	}
}

func buildNetwork(t *testing.T, ids []wire.NodeID, seed int64) *Network {
	t.Helper()
	width := wire.Width{MaxNodeCount: len(ids), ValueLen: 1}
	net := New(width)

	tbl := membership.NewTable(len(ids))
	tbl.Load(ids)
	cfg := round.NewConfig(len(ids), round.WithValueLen(1), round.WithMaxSlots(200), round.WithMerge(maxMerge))

	for i, id := range ids {
		var d *round.Driver
		if i == 0 {
			d = round.NewDriver(id, cfg, randsrc.NewDefault(seed+int64(i)), tbl)
		} else {
			// A follower that is already an established member carries its
			// index and the authoritative membership list forward from a
			// prior round, the same way the initiator's Table does.
			d = round.NewDriver(id, cfg, randsrc.NewDefault(seed+int64(i)), nil)
			d.Commit.State.HasNodeIndex = true
			d.Commit.State.NodeIndex = wire.NodeIndex(i)
			copy(d.Commit.State.JoinedNodes, ids)
		}
		net.Add(nodeName(id), d)
	}
	return net
}

func nodeName(id wire.NodeID) string {
	switch id {
	case 1:
		return "a"
	case 2:
		return "b"
	case 3:
		return "c"
	default:
		return "node"
	}
}

func TestThreeNodeCoordinationConverges(t *testing.T) {
	net := buildNetwork(t, []wire.NodeID{1, 2, 3}, 1)
	inValues := map[string][]byte{"a": {3}, "b": {7}, "c": {1}}

	results := net.RunRound(inValues, 200)
	require.NoError(t, CheckAllCommitted(results))

	for _, r := range results {
		require.Equal(t, byte(7), r.Outcome.Value[0])
	}
}

func TestTwoNodeCoordinationConverges(t *testing.T) {
	net := buildNetwork(t, []wire.NodeID{1, 2}, 7)
	inValues := map[string][]byte{"a": {4}, "b": {9}}

	results := net.RunRound(inValues, 200)
	require.NoError(t, CheckAllCommitted(results))
	for _, r := range results {
		require.Equal(t, byte(9), r.Outcome.Value[0])
	}
}

// TestElectionHandoverPromotesHighestPriorityCandidate drives a leaving
// initiator's handover through the real round.Driver.Begin/Step path (not
// a hand-built packet): node 1 leaves a 3-member network, node 2 holds the
// higher election priority, and node 2 should end the round as the sole
// new initiator.
func TestElectionHandoverPromotesHighestPriorityCandidate(t *testing.T) {
	net := buildNetwork(t, []wire.NodeID{1, 2, 3}, 3)

	a := net.Find("a")
	a.Driver.WantedJoinState = round.WantLeave
	b := net.Find("b")
	b.Driver.WantedElectionPriority = 5

	inValues := map[string][]byte{"a": {0}, "b": {0}, "c": {0}}
	results := net.RunRound(inValues, 200)
	require.NoError(t, CheckAllCommitted(results))

	c := net.Find("c")
	require.False(t, a.Driver.Commit.State.IsInitiator)
	require.True(t, b.Driver.Commit.State.IsInitiator)
	require.False(t, c.Driver.Commit.State.IsInitiator)
	require.True(t, a.Driver.Commit.Scratch.Left)
}
