// Package election implements the priority+id leader-election/handover
// subprotocol, used when an initiator wants to leave a network with more
// than one member.
package election

import "github.com/synchrotron/mergecommit/wire"

// Seed initializes an indexed node's outgoing election payload on its
// first participation in an election round. A node whose local type is
// still TypeUnknown seeds from scratch rather than copying anything from a
// received packet.
func Seed(e *wire.Election, selfID wire.NodeID, priority uint16) {
	e.LeaderNodeID = selfID
	e.Priority = priority
}

// SeedAuthoritativeMembership seeds the initiator's authoritative
// joined_nodes list into the outgoing election payload on round start.
// Every other node leaves it zero and adopts it from received packets.
func SeedAuthoritativeMembership(e *wire.Election, joined []wire.NodeID) {
	copy(e.JoinedNodes, joined)
}

// Merge applies the election tie-breaker: higher priority wins; on a
// priority tie the higher node id wins, so node id 0 can never win.
// joined_nodes entries merge by taking whichever side has a non-zero
// value. Reports whether tx changed.
func Merge(tx, rx *wire.Election) bool {
	changed := false
	if tx.Priority < rx.Priority || (tx.Priority == rx.Priority && tx.LeaderNodeID < rx.LeaderNodeID) {
		tx.Priority = rx.Priority
		tx.LeaderNodeID = rx.LeaderNodeID
		changed = true
	}
	for i := range tx.JoinedNodes {
		if tx.JoinedNodes[i] == 0 && rx.JoinedNodes[i] != 0 {
			tx.JoinedNodes[i] = rx.JoinedNodes[i]
			changed = true
		}
	}
	return changed
}

// CanCommit implements the candidate commit condition: the candidate must
// be indexed, be the elected leader, have seen flags_complete, and still
// appear as itself in the authoritative joined_nodes list at its own
// index.
func CanCommit(e *wire.Election, selfID wire.NodeID, selfIndex wire.NodeIndex, hasIndex, flagsComplete bool) bool {
	if !hasIndex || !flagsComplete {
		return false
	}
	if e.LeaderNodeID != selfID {
		return false
	}
	i := int(selfIndex)
	return i >= 0 && i < len(e.JoinedNodes) && e.JoinedNodes[i] == selfID
}

// Leader returns the (leader, priority) pair currently carried by e, for
// observability/testing.
func Leader(e *wire.Election) (wire.NodeID, uint16) {
	return e.LeaderNodeID, e.Priority
}
