// Package commit implements the per-slot two-phase merge/commit state
// machine: the core per-node driver that a round invokes once for every
// radio slot.
package commit

import (
	"github.com/synchrotron/mergecommit/bitmap"
	"github.com/synchrotron/mergecommit/election"
	"github.com/synchrotron/mergecommit/flags"
	"github.com/synchrotron/mergecommit/membership"
	"github.com/synchrotron/mergecommit/randsrc"
	"github.com/synchrotron/mergecommit/wire"
)

// SlotState is the per-slot driver state.
type SlotState int

const (
	StateInit SlotState = iota
	StateRX
	StateTX
	StateOff
)

func (s SlotState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRX:
		return "RX"
	case StateTX:
		return "TX"
	case StateOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// MergeFunc folds a received value into the local outgoing value. It must
// be commutative, associative, and idempotent on equal inputs, and must
// write the combined result into tx. rx is provided read-only; any
// reshaping of it is for the caller's benefit only, the driver never
// relies on it.
type MergeFunc func(rx, tx []byte)

// NodeState is the identity and membership state that survives across
// rounds.
type NodeState struct {
	NodeID       wire.NodeID
	HasNodeIndex bool
	NodeIndex    wire.NodeIndex
	IsInitiator  bool
	JoinedNodes  []wire.NodeID
	JoinConfig   uint16

	// ElectionPriority is the value an indexed node seeds into its own
	// election payload the first time it participates in an election
	// round. The round driver copies its WantedElectionPriority in here
	// at the start of every round.
	ElectionPriority uint16
}

// Scratch is the per-round working state, reset at the start of every
// round.
type Scratch struct {
	Complete         bool
	CompletionSlot   int
	TxCountComplete  int
	InvalidRxCount   int
	GotValidRx       bool
	DidTx            bool
	RestartThreshold int
	OffSlot          int
	RxProgress       bool
	DeltaAtSlot      int
	WasInitiator     bool
	Joined           bool
	Left             bool
	RejoinNeeded     bool
}

// Reset clears scratch for a new round and rolls a fresh restart
// threshold in [min, max). wasInitiator snapshots IsInitiator as it
// stood at round start, so mid-round promotion to initiator (via an
// election win) can still be told apart from having started the round
// already in charge.
func (s *Scratch) Reset(src randsrc.Source, min, max int, wasInitiator bool) {
	*s = Scratch{RestartThreshold: randsrc.IntRange(src, min, max), WasInitiator: wasInitiator}
}

// Knobs holds the tunable constants that parameterize the commit driver.
type Knobs struct {
	MaxNodeCount    int
	MaxSlots        int
	MaxCommitSlot   int
	CommitThreshold int
	NTxComplete     int
	ChaosRestartMin int
	ChaosRestartMax int
	ReliableFF      bool
	FailuresRate    float64
}

// DefaultKnobs returns the documented defaults for a network of up to
// maxNodeCount nodes; only MaxNodeCount itself depends on it.
func DefaultKnobs(maxNodeCount int) Knobs {
	const maxSlots = 350
	return Knobs{
		MaxNodeCount:    maxNodeCount,
		MaxSlots:        maxSlots,
		MaxCommitSlot:   maxSlots / 3,
		CommitThreshold: 0,
		NTxComplete:     9,
		ChaosRestartMin: 6,
		ChaosRestartMax: 10,
		ReliableFF:      true,
	}
}

// Driver runs the two-phase merge/commit state machine for one node
// across the slots of a single round. Persistent fields (State) survive
// across rounds; Scratch is reset by the round driver at round start.
type Driver struct {
	State   NodeState
	Scratch Scratch
	Knobs   Knobs
	Table   *membership.Table // set on the starting or elected initiator; kept after it steps down
	Flags   *flags.Engine
	Rand    randsrc.Source
	Merge   MergeFunc
}

// NewDriver builds a Driver for a node identified by id. A node becomes
// the initiator by having a round driver attach a Table and set
// State.IsInitiator.
func NewDriver(id wire.NodeID, knobs Knobs, src randsrc.Source, merge MergeFunc) *Driver {
	return &Driver{
		State: NodeState{NodeID: id, JoinedNodes: make([]wire.NodeID, knobs.MaxNodeCount)},
		Knobs: knobs,
		Flags: flags.NewEngine(bitmap.Len(knobs.MaxNodeCount)),
		Rand:  src,
		Merge: merge,
	}
}

// Process runs one slot of the state machine. Given the slot's inbound
// packet and success flag, it mutates tx in place and returns the state
// the caller should act on next.
func (d *Driver) Process(slot int, state SlotState, success bool, rx, tx *wire.Packet) SlotState {
	switch state {
	case StateInit:
		if d.State.IsInitiator {
			d.Scratch.GotValidRx = true
			d.Scratch.DidTx = true
			return StateTX
		}
		return StateRX

	case StateRX:
		return d.processRX(slot, success, rx, tx)

	case StateTX:
		return d.processTX(slot)

	default:
		return StateOff
	}
}

func (d *Driver) processRX(slot int, success bool, rx, tx *wire.Packet) SlotState {
	if success {
		d.Scratch.GotValidRx = true
		txNeeded := d.handleReceivedPacket(slot, rx, tx)
		if txNeeded {
			if d.Scratch.Complete {
				d.Scratch.TxCountComplete++
			}
			d.Scratch.DidTx = true
			return StateTX
		}
		return StateRX
	}

	if d.Scratch.GotValidRx {
		d.Scratch.InvalidRxCount++
		if d.Scratch.InvalidRxCount > d.Scratch.RestartThreshold {
			d.Scratch.InvalidRxCount = 0
			d.Scratch.RestartThreshold = randsrc.IntRange(d.Rand, d.Knobs.ChaosRestartMin, d.Knobs.ChaosRestartMax)
			d.Scratch.DidTx = true
			return StateTX
		}
	}
	return StateRX
}

func (d *Driver) processTX(slot int) SlotState {
	if (d.Scratch.RxProgress || !d.Knobs.ReliableFF) && d.Scratch.TxCountComplete >= d.Knobs.NTxComplete {
		d.Scratch.OffSlot = slot
		return StateOff
	}
	return StateRX
}

// handleReceivedPacket merges rx into tx and reports whether tx needs to
// be retransmitted as a result.
func (d *Driver) handleReceivedPacket(slot int, rx, tx *wire.Packet) bool {
	switch membership.CompareConfig(tx.Join.Config, rx.Join.Config) {
	case membership.ConfigRemoteAhead:
		d.forceRejoin()
		tx.CopyFrom(rx)
		d.State.JoinConfig = rx.Join.Config
		return true
	case membership.ConfigRemoteBehind:
		return true // educate the peer, no local change
	}

	// Cross-type handling at matching config (spec.md / merge-commit.c's
	// handle_received_packet): a node mid-election that hears the network
	// has already moved on to coordination under a freshly elected
	// initiator follows along; a node already coordinating that hears a
	// stale election packet ignores it and just keeps transmitting.
	switch {
	case tx.Type == wire.TypeElectionAndHandover && rx.Type == wire.TypeCoordination:
		if !d.Scratch.WasInitiator && d.State.IsInitiator {
			// We were just elected this very round; hold our own commit
			// packet rather than adopting the stale coordination content.
			return true
		}
		tx.CopyFrom(rx)
		return true
	case tx.Type == wire.TypeCoordination && rx.Type == wire.TypeElectionAndHandover:
		return true
	}

	// Convert away from TypeUnknown on first participation, taking on
	// whichever round kind the network is already running and seeding our
	// own election payload if that's an election.
	if tx.Type == wire.TypeUnknown {
		if rx.Type == wire.TypeElectionAndHandover {
			tx.Type = wire.TypeElectionAndHandover
			if d.State.HasNodeIndex {
				election.Seed(&tx.Election, d.State.NodeID, d.State.ElectionPriority)
			}
		} else {
			tx.Type = wire.TypeCoordination
		}
	}

	if rx.Phase > tx.Phase {
		tx.CopyFrom(rx)
		if d.State.IsInitiator && rx.Election.LeaderNodeID != d.State.NodeID {
			d.State.IsInitiator = false
		}
		if d.State.HasNodeIndex && int(d.State.NodeIndex) < len(tx.Leaves)*8 && tx.Leaves.Test(int(d.State.NodeIndex)) {
			d.State.HasNodeIndex = false
			d.Scratch.Left = true
		}
		if !d.State.HasNodeIndex && tx.Join.Commit {
			for i := 0; i < int(tx.Join.SlotCount) && i < len(tx.Join.Slots); i++ {
				if tx.Join.Slots[i] == d.State.NodeID {
					d.State.HasNodeIndex = true
					d.State.NodeIndex = tx.Join.Indices[i]
					d.Scratch.Joined = true
					break
				}
			}
		}
		return true
	}
	if rx.Phase < tx.Phase {
		return true // local is more advanced; retransmit, ignore rx content
	}

	txNeeded, flagsComplete, rxComplete := d.Flags.Merge(tx.Flags, tx.Leaves, rx.Flags, rx.Leaves)

	membership.AdoptRejoinSlot(tx, rx)
	if idx, ok := membership.TryRejoinSelf(tx, d.State.NodeID); ok {
		d.State.HasNodeIndex = true
		d.State.NodeIndex = idx
	}

	if mergeJoinData(&tx.Join, &rx.Join) {
		txNeeded = true
		d.Scratch.DeltaAtSlot = slot
	}

	if d.State.IsInitiator && d.Table != nil {
		membership.PublishRejoinSlot(d.Table, &tx.Join, tx)
	}

	switch rx.Type {
	case wire.TypeElectionAndHandover:
		if election.Merge(&tx.Election, &rx.Election) {
			txNeeded = true
		}
		if election.CanCommit(&tx.Election, d.State.NodeID, d.State.NodeIndex, d.State.HasNodeIndex, flagsComplete) {
			d.commitElectionHandover(tx)
			txNeeded = true
		}
	default:
		if d.Merge != nil && tx.Phase == wire.PhaseMerge {
			d.Merge(rx.Value, tx.Value)
		}
		if d.State.IsInitiator && tx.Phase == wire.PhaseMerge {
			if d.maybeCommitCoordination(slot, flagsComplete, tx) {
				txNeeded = true
			}
		}
	}

	if tx.Phase == wire.PhaseCommit && flagsComplete {
		if !d.Scratch.Complete {
			d.Scratch.Complete = true
			d.Scratch.CompletionSlot = slot
		}
		d.Scratch.RxProgress = d.Scratch.RxProgress || rxComplete
		txNeeded = true
	}

	return txNeeded
}

// forceRejoin resets identity on a detected config mismatch or divergence.
func (d *Driver) forceRejoin() {
	if d.State.IsInitiator {
		d.State.IsInitiator = false
	}
	d.State.HasNodeIndex = false
	d.State.NodeIndex = 0
	d.Scratch.RejoinNeeded = true
	d.Flags.HasInitialJoinMasks = false
}

// commitElectionHandover transitions a winning candidate into the new
// initiator role.
func (d *Driver) commitElectionHandover(tx *wire.Packet) {
	d.State.IsInitiator = true
	copy(d.State.JoinedNodes, tx.Election.JoinedNodes)
	d.Table = membership.NewTable(d.Knobs.MaxNodeCount)
	d.Table.Load(d.State.JoinedNodes)
	for i := range tx.Flags {
		tx.Flags[i] = 0
	}
	tx.Flags.Set(int(d.State.NodeIndex))
	tx.Phase = wire.PhaseCommit
	tx.RejoinSlot = 0
	tx.RejoinIndex = 0
	tx.Leaves.Clear(int(d.State.NodeIndex))
}

// maybeCommitCoordination implements the initiator's commit decision for
// a coordination round: once flags are complete and either the slot
// budget for an ordinary commit is reached, or the quiescent-since-last-
// delta threshold has elapsed, the initiator commits.
func (d *Driver) maybeCommitCoordination(slot int, flagsComplete bool, tx *wire.Packet) bool {
	if !flagsComplete {
		return false
	}
	pastDeadline := slot >= d.Knobs.MaxCommitSlot
	pastQuiescence := d.Knobs.CommitThreshold > 0 && slot >= d.Scratch.DeltaAtSlot+d.Knobs.CommitThreshold
	if !pastDeadline && !pastQuiescence {
		return false
	}

	for i := range tx.Flags {
		tx.Flags[i] = 0
	}
	if d.State.HasNodeIndex {
		tx.Flags.Set(int(d.State.NodeIndex))
	}
	tx.Phase = wire.PhaseCommit
	tx.Join.Commit = true

	if d.Table != nil {
		membership.AdmitJoiners(d.Table, &tx.Join, tx.Leaves)
		membership.PurgeLeavers(d.Table, tx.Leaves, d.State.NodeIndex)
		d.Flags.AdmitPresent(tx.Leaves)
		copy(d.State.JoinedNodes, d.Table.Joined())
	}
	return true
}

// mergeJoinData OR-style merges two JoinData views, taking the non-zero
// slot/index entries from either side. Reports whether tx changed.
func mergeJoinData(tx, rx *wire.JoinData) bool {
	changed := false
	for i := range tx.Slots {
		if tx.Slots[i] == 0 && i < len(rx.Slots) && rx.Slots[i] != 0 {
			tx.Slots[i] = rx.Slots[i]
			tx.Indices[i] = rx.Indices[i]
			changed = true
		}
	}
	if rx.SlotCount > tx.SlotCount {
		tx.SlotCount = rx.SlotCount
		changed = true
	}
	if rx.Overflow && !tx.Overflow {
		tx.Overflow = true
		changed = true
	}
	if rx.NodeCount > tx.NodeCount {
		tx.NodeCount = rx.NodeCount
		changed = true
	}
	return changed
}
