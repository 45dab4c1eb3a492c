// Package round implements the per-round orchestration that resets scratch
// state, seeds the outgoing packet, drives the flooding layer slot by
// slot through the commit driver, and publishes the round's outcome.
package round

import (
	"github.com/synchrotron/mergecommit/bitmap"
	"github.com/synchrotron/mergecommit/commit"
	"github.com/synchrotron/mergecommit/election"
	"github.com/synchrotron/mergecommit/flooding"
	"github.com/synchrotron/mergecommit/membership"
	"github.com/synchrotron/mergecommit/randsrc"
	"github.com/synchrotron/mergecommit/wire"
)

// JoinState is a node's desired membership action for its next round.
// WantStay is the zero value: a node that never expresses a wish neither
// requests to join nor announces a leave.
type JoinState int

const (
	WantStay JoinState = iota
	WantJoin
	WantLeave
)

// Config bundles the fixed per-node parameters a Driver needs: the wire
// width, the commit state machine's tunables, and the application's merge
// callback.
type Config struct {
	Width wire.Width
	Knobs commit.Knobs
	Merge commit.MergeFunc
}

// ConfigOption mutates a Config under construction.
type ConfigOption func(*Config)

// WithMaxNodeCount sets the bitmap/array width and rederives the knobs
// that scale with it.
func WithMaxNodeCount(n int) ConfigOption {
	return func(c *Config) {
		c.Width.MaxNodeCount = n
		maxSlots := c.Knobs.MaxSlots
		c.Knobs = commit.DefaultKnobs(n)
		c.Knobs.MaxSlots = maxSlots
		c.Knobs.MaxCommitSlot = maxSlots / 3
	}
}

// WithValueLen sets the application value's fixed byte width.
func WithValueLen(n int) ConfigOption {
	return func(c *Config) { c.Width.ValueLen = n }
}

// WithMaxSlots overrides MERGE_COMMIT_ROUND_MAX_SLOTS (default 350).
func WithMaxSlots(n int) ConfigOption {
	return func(c *Config) {
		c.Knobs.MaxSlots = n
		c.Knobs.MaxCommitSlot = n / 3
	}
}

// WithCommitThreshold overrides the quiescent-slots-since-last-delta
// early commit threshold (0 disables it).
func WithCommitThreshold(n int) ConfigOption {
	return func(c *Config) { c.Knobs.CommitThreshold = n }
}

// WithFailuresRate sets the debug knob that injects random round aborts
// on non-initiators.
func WithFailuresRate(r float64) ConfigOption {
	return func(c *Config) { c.Knobs.FailuresRate = r }
}

// WithMerge sets the application-provided value-merge callback.
func WithMerge(fn commit.MergeFunc) ConfigOption {
	return func(c *Config) { c.Merge = fn }
}

// NewConfig builds a Config for maxNodeCount indexed nodes, applying opts
// in order.
func NewConfig(maxNodeCount int, opts ...ConfigOption) Config {
	c := Config{
		Width: wire.Width{MaxNodeCount: maxNodeCount, ValueLen: 0},
		Knobs: commit.DefaultKnobs(maxNodeCount),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Outcome is what round_begin publishes to the caller.
type Outcome struct {
	Value          []byte
	Phase          wire.Phase
	Type           wire.Type
	FinalFlags     bitmap.Bitmap
	CompletionSlot int
	SlotsUsed      int
}

// Driver runs successive rounds for one node. It owns the commit.Driver
// (persistent NodeState + per-round Scratch) and the node's standing
// wishes for the next round (join/leave, election priority, preferred
// type).
type Driver struct {
	Config Config
	Commit *commit.Driver
	Rand   randsrc.Source

	WantedType             wire.Type
	WantedJoinState        JoinState
	WantedElectionPriority uint16

	lastState commit.SlotState
}

// NewDriver builds a round Driver for node id. Pass a non-nil table only
// for the node that starts out as the network's initiator.
func NewDriver(id wire.NodeID, cfg Config, src randsrc.Source, table *membership.Table) *Driver {
	cd := commit.NewDriver(id, cfg.Knobs, src, cfg.Merge)
	if table != nil {
		cd.Table = table
		cd.State.IsInitiator = true
		if idx := table.IndexForNodeID(id); idx >= 0 {
			cd.State.HasNodeIndex = true
			cd.State.NodeIndex = wire.NodeIndex(idx)
		}
		copy(cd.State.JoinedNodes, table.Joined())
	}
	return &Driver{Config: cfg, Commit: cd, Rand: src, WantedType: wire.TypeCoordination}
}

// HasJoined reports whether this node joined during its most recently
// completed round.
func (d *Driver) HasJoined() bool { return d.Commit.Scratch.Joined }

// HasLeft reports whether this node left during its most recently
// completed round.
func (d *Driver) HasLeft() bool { return d.Commit.Scratch.Left }

// DidTx reports whether this node transmitted at all during its most
// recently completed round.
func (d *Driver) DidTx() bool { return d.Commit.Scratch.DidTx }

// GetOffSlot returns the slot at which this node's driver went OFF, or 0
// if it never did.
func (d *Driver) GetOffSlot() int { return d.Commit.Scratch.OffSlot }

// Begin resets per-round scratch state and returns a freshly seeded
// outgoing packet, ready for slot 0. It is the synchronous building block
// RoundBegin and a lockstep multi-node harness both drive.
func (d *Driver) Begin(inValue []byte) *wire.Packet {
	d.Commit.State.ElectionPriority = d.WantedElectionPriority
	d.Commit.Scratch.Reset(d.Rand, d.Commit.Knobs.ChaosRestartMin, d.Commit.Knobs.ChaosRestartMax, d.Commit.State.IsInitiator)
	d.Commit.Flags.Reset()

	tx := wire.NewPacket(d.Config.Width)
	tx.Phase = wire.PhaseMerge
	copy(tx.Value, inValue)

	wantedType := d.WantedType
	if wantedType != wire.TypeCoordination && wantedType != wire.TypeElectionAndHandover {
		wantedType = wire.TypeCoordination
	}

	if d.Commit.State.IsInitiator {
		nodeCount := 0
		if d.Commit.Table != nil {
			nodeCount = d.Commit.Table.Count()
		}
		switch {
		case d.WantedJoinState == WantLeave && nodeCount > 1:
			tx.Type = wire.TypeElectionAndHandover
		case d.WantedJoinState == WantLeave && nodeCount <= 1:
			d.Commit.State.IsInitiator = false
			tx.Type = wire.TypeUnknown
			d.Commit.State.HasNodeIndex = false
			d.Commit.Scratch.Left = true
		default:
			tx.Type = wantedType
		}
	} else {
		tx.Type = wire.TypeUnknown
	}

	d.seedOutgoing(tx)

	// lastState starts at StateInit: slot 0's Step call has no real
	// inbound yet (the network hasn't carried anything), so it only
	// resolves the initial TX/RX mode. If that resolves to TX, the
	// packet goes out at the end of slot 0 and is on the air for slot 1.
	d.lastState = commit.StateInit

	return tx
}

// Step runs one slot: given this slot's inbound outcome, it mutates tx in
// place and returns the state the caller should act on for the next
// slot. The caller is responsible for actually transmitting tx's wire
// encoding when Step returns StateTX.
func (d *Driver) Step(slot int, success bool, rx, tx *wire.Packet) commit.SlotState {
	if rx == nil {
		rx = wire.NewPacket(d.Config.Width)
		success = false
	}
	next := d.Commit.Process(slot, d.lastState, success, rx, tx)
	d.lastState = next
	return next
}

// LastState reports the state Step last returned.
func (d *Driver) LastState() commit.SlotState { return d.lastState }

// Finish publishes the round's outcome. On commit it bumps this node's
// join_config and, where the node holds a Table, rebuilds the table's id
// lookup and free-slot list.
func (d *Driver) Finish(tx *wire.Packet, slotsUsed int) Outcome {
	if tx.Phase == wire.PhaseCommit {
		d.Commit.State.JoinConfig++
		if d.Commit.Table != nil {
			d.Commit.Table.ResetNodesMap()
			d.Commit.Table.InitFreeSlots()
		}
	}

	return Outcome{
		Value:          append([]byte(nil), tx.Value...),
		Phase:          tx.Phase,
		Type:           tx.Type,
		FinalFlags:     tx.Flags.Clone(),
		CompletionSlot: d.Commit.Scratch.CompletionSlot,
		SlotsUsed:      slotsUsed,
	}
}

// RoundBegin runs one full round over link, returning the outcome the
// caller publishes: the committed (or best-effort) value, phase, type,
// final flags, and completion slot (0 if the round never completed).
func (d *Driver) RoundBegin(inValue []byte, link flooding.Link) Outcome {
	tx := d.Begin(inValue)

	// FAILURES_RATE debug knob: inject an occasional dropped round on a
	// non-initiator, simulating a node that never hears the round start.
	if !d.Commit.State.IsInitiator && d.Commit.Knobs.FailuresRate > 0 && d.Rand.Float64() < d.Commit.Knobs.FailuresRate {
		link.Close()
		return Outcome{Value: append([]byte(nil), tx.Value...), Phase: tx.Phase, Type: tx.Type, FinalFlags: tx.Flags.Clone()}
	}

	slotsUsed := flooding.Round(link, d.Commit.Knobs.MaxSlots, func(slot int, inbound flooding.SlotRX, send func([]byte)) bool {
		var rx *wire.Packet
		if inbound.Success {
			rx = wire.NewPacket(d.Config.Width)
			if err := wire.Decode(d.Config.Width, inbound.Payload, rx); err != nil {
				rx = nil
			}
		}

		next := d.Step(slot, rx != nil, rx, tx)
		if next == commit.StateTX {
			send(wire.Encode(d.Config.Width, tx))
		}
		if next == commit.StateOff {
			return true
		}
		return slot >= d.Commit.Knobs.MaxSlots-1
	})

	return d.Finish(tx, slotsUsed)
}

// seedOutgoing fills in the type-specific payload and membership-intent
// bits of a freshly reset outgoing packet.
func (d *Driver) seedOutgoing(tx *wire.Packet) {
	if d.Commit.State.HasNodeIndex {
		tx.Flags.Set(int(d.Commit.State.NodeIndex))
	}

	if d.Commit.State.IsInitiator {
		flagsLen := d.Config.Width.FlagsLen()
		occupied := bitmap.New(flagsLen)
		for idx, id := range d.Commit.State.JoinedNodes {
			if id != 0 {
				occupied.Set(idx)
			}
		}
		copy(d.Commit.Flags.JoinMask, occupied)
		d.Commit.Flags.HasInitialJoinMasks = true
		bitmap.Invert(tx.Leaves, occupied)
		tx.Join.Config = d.Commit.State.JoinConfig
		tx.Join.NodeCount = uint16(len(nonZero(d.Commit.State.JoinedNodes)))
	}

	if tx.Type == wire.TypeElectionAndHandover {
		election.Seed(&tx.Election, d.Commit.State.NodeID, d.Commit.State.ElectionPriority)
		if d.Commit.State.IsInitiator {
			election.SeedAuthoritativeMembership(&tx.Election, d.Commit.State.JoinedNodes)
		}
	}

	if d.WantedJoinState == WantLeave && d.Commit.State.HasNodeIndex {
		tx.Leaves.Set(int(d.Commit.State.NodeIndex))
	}
	if d.WantedJoinState == WantJoin && !d.Commit.State.HasNodeIndex {
		membership.PublishJoinRequest(&tx.Join, d.Commit.State.NodeID)
	}
}

func nonZero(ids []wire.NodeID) []wire.NodeID {
	out := make([]wire.NodeID, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}
