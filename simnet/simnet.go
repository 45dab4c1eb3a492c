// Package simnet is an in-process lockstep broadcast harness for driving
// several round.Driver instances through the same sequence of slots, the
// way a shared concurrent-transmission medium would carry one slot's
// winning transmission to every listening node starting the next slot.
package simnet

import (
	"github.com/synchrotron/mergecommit/commit"
	"github.com/synchrotron/mergecommit/round"
	"github.com/synchrotron/mergecommit/wire"
)

// Node is one network participant under simulation.
type Node struct {
	Name   string
	Driver *round.Driver
}

// Network lockstep-drives a fixed set of nodes through rounds one slot at
// a time. It never runs goroutines: Chaos's concurrent transmission is
// approximated as exactly one winning transmitter per slot, visible to
// every other node starting the following slot. Nodes that transmit in
// the same slot as one another (rare in the scenarios this harness
// targets) have only the last one's packet carried forward; this is a
// simplification of constructive interference, not a model of it.
type Network struct {
	Width wire.Width
	Nodes []*Node
}

// New builds an empty Network for the given wire width.
func New(width wire.Width) *Network {
	return &Network{Width: width}
}

// Add registers a node under name.
func (n *Network) Add(name string, d *round.Driver) {
	n.Nodes = append(n.Nodes, &Node{Name: name, Driver: d})
}

// Find returns the named node, or nil.
func (n *Network) Find(name string) *Node {
	for _, node := range n.Nodes {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// RoundResult is one node's outcome from a simulated round.
type RoundResult struct {
	Name    string
	Outcome round.Outcome
}

// RunRound drives every registered node through one lockstep round, up
// to maxSlots slots, feeding each node its own entry of inValues as the
// round's initial application value. It returns every node's outcome in
// Nodes order.
func (n *Network) RunRound(inValues map[string][]byte, maxSlots int) []RoundResult {
	active := make([]bool, len(n.Nodes))
	tx := make([]*wire.Packet, len(n.Nodes))
	for i, node := range n.Nodes {
		tx[i] = node.Driver.Begin(inValues[node.Name])
		active[i] = true
	}

	pendingSender := -1
	var pendingPayload []byte

	slotsUsed := 0
	for slot := 0; slot < maxSlots; slot++ {
		slotsUsed = slot + 1
		anyActive := false
		nextSender := -1
		var nextPayload []byte

		for i, node := range n.Nodes {
			if !active[i] {
				continue
			}
			anyActive = true

			var rx *wire.Packet
			success := false
			if pendingSender >= 0 && pendingSender != i {
				candidate := wire.NewPacket(n.Width)
				if err := wire.Decode(n.Width, pendingPayload, candidate); err == nil {
					rx, success = candidate, true
				}
			}

			next := node.Driver.Step(slot, success, rx, tx[i])
			if next == commit.StateTX {
				nextSender = i
				nextPayload = wire.Encode(n.Width, tx[i])
			}
			if next == commit.StateOff {
				active[i] = false
			}
		}

		pendingSender, pendingPayload = nextSender, nextPayload
		if !anyActive {
			break
		}
	}

	results := make([]RoundResult, len(n.Nodes))
	for i, node := range n.Nodes {
		results[i] = RoundResult{Name: node.Name, Outcome: node.Driver.Finish(tx[i], slotsUsed)}
	}
	return results
}
