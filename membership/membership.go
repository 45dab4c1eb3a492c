package membership

import (
	"github.com/synchrotron/mergecommit/bitmap"
	"github.com/synchrotron/mergecommit/wire"
)

// ConfigVerdict is the outcome of comparing a received config sequence
// number against the local one.
type ConfigVerdict int

const (
	// ConfigEqual: process normally.
	ConfigEqual ConfigVerdict = iota
	// ConfigRemoteAhead: rx.config > local.config -> force local rejoin,
	// adopt rx.config, copy rx wholesale into tx.
	ConfigRemoteAhead
	// ConfigRemoteBehind: rx.config < local.config -> ignore semantically,
	// still retransmit so the peer catches up.
	ConfigRemoteBehind
)

// CompareConfig classifies local vs. received config sequence numbers.
func CompareConfig(local, rx uint16) ConfigVerdict {
	switch {
	case rx > local:
		return ConfigRemoteAhead
	case rx < local:
		return ConfigRemoteBehind
	default:
		return ConfigEqual
	}
}

// AdmitJoiners processes join requests on commit: for every occupied join
// slot, assigns an index via table.AddNode, records it in jd.Indices, and
// clears that index's leave bit so the new member isn't immediately purged
// by PurgeLeavers. On overflow, marks jd.Overflow and zeroes the offending
// slot so the requester doesn't mistake index 0 for an assignment.
func AdmitJoiners(table *Table, jd *wire.JoinData, leaves bitmap.Bitmap) {
	for i := 0; i < int(jd.SlotCount) && i < len(jd.Slots); i++ {
		id := jd.Slots[i]
		if id == 0 {
			continue
		}
		idx, ok := table.AddNode(id)
		if !ok {
			jd.Overflow = true
			jd.Slots[i] = 0
			continue
		}
		jd.Indices[i] = wire.NodeIndex(idx)
		leaves.Clear(idx)
	}
	jd.NodeCount = uint16(table.Count())
}

// PurgeLeavers removes every member whose leave bit is set in txLeaves,
// except ownIndex: the initiator clears its own leave bit and never
// removes itself via leave.
func PurgeLeavers(table *Table, txLeaves bitmap.Bitmap, ownIndex wire.NodeIndex) {
	txLeaves.Clear(int(ownIndex))
	joined := table.Joined()
	for idx, id := range joined {
		if id == 0 || wire.NodeIndex(idx) == ownIndex {
			continue
		}
		if txLeaves.Test(idx) {
			table.Remove(idx)
		}
	}
}

// PublishRejoinSlot implements rejoin-by-slot: if any requested join slot
// names a node the table already knows about, the initiator publishes
// (rejoin_slot, rejoin_index) in the pre-commit MERGE phase so that node
// regains its index without a full admission cycle. Only the first such
// match is published per slot, matching the single rejoin channel in the
// wire packet.
func PublishRejoinSlot(table *Table, jd *wire.JoinData, tx *wire.Packet) {
	if tx.RejoinSlot != 0 {
		return // already publishing one this slot
	}
	for i := 0; i < int(jd.SlotCount) && i < len(jd.Slots); i++ {
		id := jd.Slots[i]
		if id == 0 {
			continue
		}
		if idx := table.IndexForNodeID(id); idx >= 0 {
			tx.RejoinSlot = id
			tx.RejoinIndex = wire.NodeIndex(idx)
			return
		}
	}
}

// AdoptRejoinSlot implements the receiving side of rejoin-by-slot: a node
// adopts (rejoin_slot, rejoin_index) when its own is zero. Matching the
// slot against the node's own id is done separately, by TryRejoinSelf.
// Conflicting publishes are first-writer-wins on the wire and
// reconciled by config arbitration the next round.
func AdoptRejoinSlot(tx *wire.Packet, rx *wire.Packet) {
	if tx.RejoinSlot == 0 && rx.RejoinSlot != 0 {
		tx.RejoinSlot = rx.RejoinSlot
		tx.RejoinIndex = rx.RejoinIndex
	}
}

// TryRejoinSelf reports whether selfID matches the packet's rejoin slot,
// handing back the index it should adopt.
func TryRejoinSelf(tx *wire.Packet, selfID wire.NodeID) (wire.NodeIndex, bool) {
	if tx.RejoinSlot != 0 && tx.RejoinSlot == selfID {
		return tx.RejoinIndex, true
	}
	return 0, false
}

// PublishJoinRequest sets up a join request in tx for a non-indexed node
// that wants to join.
func PublishJoinRequest(jd *wire.JoinData, selfID wire.NodeID) {
	jd.Slots[0] = selfID
	jd.SlotCount = 1
}
