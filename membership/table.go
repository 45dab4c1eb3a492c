// Package membership implements the join/leave/rejoin/config-arbitration
// subprotocol, including a concrete node-table collaborator (add, remove,
// lookup by node id) that the merge/commit logic calls into but never
// reaches inside.
package membership

import (
	"sort"

	"github.com/synchrotron/mergecommit/wire"
)

// Table is the initiator-side membership table: the current
// index -> NodeID assignment, an ascending list of free indices (lowest
// reused first), and a sorted index
// for O(log n) NodeID -> index lookup.
//
// Only the initiator needs a live Table; every node tracks JoinedNodes
// directly, but only the initiator performs admission/removal, so only it
// pays for the free-slot list and sorted lookup index.
type Table struct {
	maxNodeCount int
	joined       []wire.NodeID // index -> NodeID, 0 = empty
	count        int           // chaos_node_count
	freeSlots    []int         // ascending; the lowest free index is reused first
	sortedIDs    []wire.NodeID // built by ResetNodesMap, parallel to sortedIdx
	sortedIdx    []int
}

// NewTable allocates an empty Table for the given MAX_NODE_COUNT.
func NewTable(maxNodeCount int) *Table {
	return &Table{maxNodeCount: maxNodeCount}
}

// Load seeds the table from a persistent joined_nodes snapshot (e.g. when
// a node becomes initiator via election handover) and rebuilds its
// derived indices.
func (t *Table) Load(joined []wire.NodeID) {
	if len(t.joined) != t.maxNodeCount {
		t.joined = make([]wire.NodeID, t.maxNodeCount)
	}
	copy(t.joined, joined)
	t.count = 0
	for _, id := range t.joined {
		if id != 0 {
			t.count++
		}
	}
	t.ResetNodesMap()
	t.InitFreeSlots()
}

// Count returns chaos_node_count: the number of occupied indices.
func (t *Table) Count() int { return t.count }

// Joined returns the live index -> NodeID table. Callers must not retain
// the slice across a Load.
func (t *Table) Joined() []wire.NodeID { return t.joined }

// AddNode assigns the next free index to id, implementing add_node.
// Returns (-1, false) on overflow (no free slot).
func (t *Table) AddNode(id wire.NodeID) (int, bool) {
	if len(t.freeSlots) == 0 {
		return -1, false
	}
	idx := t.freeSlots[0]
	t.freeSlots = t.freeSlots[1:]
	t.joined[idx] = id
	t.count++
	t.insertSorted(id, idx)
	return idx, true
}

// Remove clears index idx, implementing the removal half of leave
// processing for each index whose leave bit is set.
func (t *Table) Remove(idx int) {
	if idx < 0 || idx >= len(t.joined) || t.joined[idx] == 0 {
		return
	}
	id := t.joined[idx]
	t.joined[idx] = 0
	t.count--
	t.removeSorted(id)
	t.insertFreeSlot(idx)
}

// IndexForNodeID implements join_get_index_for_node_id via binary search
// over the sorted id index built by ResetNodesMap. Returns -1 if id is
// not currently a member.
func (t *Table) IndexForNodeID(id wire.NodeID) int {
	n := len(t.sortedIDs)
	i := sort.Search(n, func(i int) bool { return t.sortedIDs[i] >= id })
	if i < n && t.sortedIDs[i] == id {
		return t.sortedIdx[i]
	}
	return -1
}

// ResetNodesMap rebuilds the sorted NodeID index from the current joined
// table, implementing join_reset_nodes_map.
func (t *Table) ResetNodesMap() {
	t.sortedIDs = t.sortedIDs[:0]
	t.sortedIdx = t.sortedIdx[:0]
	type pair struct {
		id  wire.NodeID
		idx int
	}
	pairs := make([]pair, 0, t.count)
	for idx, id := range t.joined {
		if id != 0 {
			pairs = append(pairs, pair{id, idx})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	for _, p := range pairs {
		t.sortedIDs = append(t.sortedIDs, p.id)
		t.sortedIdx = append(t.sortedIdx, p.idx)
	}
}

// InitFreeSlots rebuilds the ascending free-index queue, implementing
// join_init_free_slots. Indices are reused low-to-high, matching the
// original implementation's ordered free list rather than a linear rescan.
func (t *Table) InitFreeSlots() {
	t.freeSlots = t.freeSlots[:0]
	for idx, id := range t.joined {
		if id == 0 {
			t.freeSlots = append(t.freeSlots, idx)
		}
	}
}

func (t *Table) insertSorted(id wire.NodeID, idx int) {
	i := sort.Search(len(t.sortedIDs), func(i int) bool { return t.sortedIDs[i] >= id })
	t.sortedIDs = append(t.sortedIDs, 0)
	copy(t.sortedIDs[i+1:], t.sortedIDs[i:])
	t.sortedIDs[i] = id
	t.sortedIdx = append(t.sortedIdx, 0)
	copy(t.sortedIdx[i+1:], t.sortedIdx[i:])
	t.sortedIdx[i] = idx
}

func (t *Table) removeSorted(id wire.NodeID) {
	i := sort.Search(len(t.sortedIDs), func(i int) bool { return t.sortedIDs[i] >= id })
	if i >= len(t.sortedIDs) || t.sortedIDs[i] != id {
		return
	}
	t.sortedIDs = append(t.sortedIDs[:i], t.sortedIDs[i+1:]...)
	t.sortedIdx = append(t.sortedIdx[:i], t.sortedIdx[i+1:]...)
}

func (t *Table) insertFreeSlot(idx int) {
	i := sort.SearchInts(t.freeSlots, idx)
	t.freeSlots = append(t.freeSlots, 0)
	copy(t.freeSlots[i+1:], t.freeSlots[i:])
	t.freeSlots[i] = idx
}
