// Package wire implements the packed, byte-exact on-air layout of the
// merge-commit round packet and its codec.
//
// The layout is fixed down to individual bits, so unlike the rest of this
// module's domain stack this codec is hand-rolled on encoding/binary rather
// than a third-party serialization library: no self-describing format
// (protobuf, msgpack, JSON) can emit a 2-bit/6-bit packed control byte
// without generated glue that would itself just wrap encoding/binary (see
// DESIGN.md).
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/synchrotron/mergecommit/bitmap"
)

// NodeID identifies a node across rounds. Zero is reserved ("no node").
type NodeID uint16

// NodeIndex identifies a node's assigned slot within the current round's
// bitmaps, joined_nodes table, etc.
type NodeIndex uint16

// Election carries the leader-election/handover payload.
type Election struct {
	LeaderNodeID NodeID
	Priority     uint16
	// JoinedNodes is the authoritative post-election membership list,
	// length MaxNodeCount, indexed by NodeIndex.
	JoinedNodes []NodeID
}

// JoinData carries the membership admission payload.
type JoinData struct {
	Config    uint16
	NodeCount uint16
	// Slots holds node ids wishing to join this round (only index 0 is
	// used by a single joiner; the slice is sized MaxNodeCount to allow
	// a future batched-join extension without a wire change).
	Slots []NodeID
	// Indices holds the index assigned to each corresponding Slots entry
	// once the initiator commits.
	Indices   []NodeIndex
	SlotCount uint16
	Commit    bool
	Overflow  bool
}

// Packet is the decoded on-air merge-commit packet.
type Packet struct {
	Type  Type
	Phase Phase

	// RejoinSlot/RejoinIndex form the single-node rejoin channel.
	RejoinSlot  NodeID
	RejoinIndex NodeIndex

	Join JoinData

	// Election and Value are a tagged union keyed by Type: Election is
	// populated when Type == TypeElectionAndHandover, Value otherwise.
	// Only one is meaningful at a time; both fields are always present
	// in memory for simplicity, but the codec only ever encodes and
	// decodes the one indicated by Type; Decode leaves the other field as
	// it was in dst.
	Election Election
	Value    []byte

	// Flags/Leaves are FLAGS_LEN bytes each, sized by Width.MaxNodeCount.
	Flags  bitmap.Bitmap
	Leaves bitmap.Bitmap
}

// Width parameterizes the codec with the two size knobs the wire layout
// depends on: the maximum node count (bitmap/array widths) and the
// application value's fixed byte length.
type Width struct {
	MaxNodeCount int
	ValueLen     int
}

// FlagsLen returns FLAGS_LEN = ceil(MaxNodeCount/8).
func (w Width) FlagsLen() int { return bitmap.Len(w.MaxNodeCount) }

// electionLen returns the encoded byte length of an Election value at
// this width: leader(2) + priority(2) + joined_nodes(2*MaxNodeCount).
func (w Width) electionLen() int { return 4 + 2*w.MaxNodeCount }

// unionLen returns the size of the union(election|value) region: the max
// of the two variant encodings.
func (w Width) unionLen() int {
	e := w.electionLen()
	if w.ValueLen > e {
		return w.ValueLen
	}
	return e
}

// joinDataLen returns the encoded byte length of a JoinData at this width:
// config(2) + node_count(2) + slot_count(2) + flags(1) + slots(2*N) + indices(2*N).
func (w Width) joinDataLen() int { return 7 + 4*w.MaxNodeCount }

// Len returns the total encoded packet length at this width.
func (w Width) Len() int {
	return 1 /*control*/ + 2 /*rejoin_slot*/ + 2 /*rejoin_index*/ +
		w.joinDataLen() + w.unionLen() + 2*w.FlagsLen()
}

// NewPacket allocates a Packet with all slices/bitmaps sized for w, ready
// to be populated by the round driver.
func NewPacket(w Width) *Packet {
	return &Packet{
		Join: JoinData{
			Slots:   make([]NodeID, w.MaxNodeCount),
			Indices: make([]NodeIndex, w.MaxNodeCount),
		},
		Election: Election{
			JoinedNodes: make([]NodeID, w.MaxNodeCount),
		},
		Value:  make([]byte, w.ValueLen),
		Flags:  bitmap.New(w.FlagsLen()),
		Leaves: bitmap.New(w.FlagsLen()),
	}
}

// Clone deep-copies p so it can be used as scratch space without mutating
// the caller's packet. The received packet may be mutated as scratch; the
// outgoing packet stays authoritative.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Join.Slots = append([]NodeID(nil), p.Join.Slots...)
	c.Join.Indices = append([]NodeIndex(nil), p.Join.Indices...)
	c.Election.JoinedNodes = append([]NodeID(nil), p.Election.JoinedNodes...)
	c.Value = append([]byte(nil), p.Value...)
	c.Flags = p.Flags.Clone()
	c.Leaves = p.Leaves.Clone()
	return &c
}

// CopyFrom overwrites p with a deep copy of src's contents (used to adopt
// a received packet wholesale on phase adoption). The slice capacities of
// p are reused where possible.
func (p *Packet) CopyFrom(src *Packet) {
	p.Type = src.Type
	p.Phase = src.Phase
	p.RejoinSlot = src.RejoinSlot
	p.RejoinIndex = src.RejoinIndex
	p.Join.Config = src.Join.Config
	p.Join.NodeCount = src.Join.NodeCount
	p.Join.SlotCount = src.Join.SlotCount
	p.Join.Commit = src.Join.Commit
	p.Join.Overflow = src.Join.Overflow
	copy(p.Join.Slots, src.Join.Slots)
	copy(p.Join.Indices, src.Join.Indices)
	p.Election.LeaderNodeID = src.Election.LeaderNodeID
	p.Election.Priority = src.Election.Priority
	copy(p.Election.JoinedNodes, src.Election.JoinedNodes)
	copy(p.Value, src.Value)
	copy(p.Flags, src.Flags)
	copy(p.Leaves, src.Leaves)
}

// Encode serializes p into the packed on-air layout at width w.
func Encode(w Width, p *Packet) []byte {
	buf := make([]byte, w.Len())
	off := 0

	buf[off] = packControl(p.Type, p.Phase)
	off++

	binary.LittleEndian.PutUint16(buf[off:], uint16(p.RejoinSlot))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.RejoinIndex))
	off += 2

	off = encodeJoinData(buf, off, w, &p.Join)

	unionStart := off
	if p.Type == TypeElectionAndHandover {
		encodeElection(buf[unionStart:], w, &p.Election)
	} else {
		copy(buf[unionStart:unionStart+w.ValueLen], p.Value)
	}
	off += w.unionLen()

	fl := w.FlagsLen()
	copy(buf[off:off+fl], p.Flags)
	off += fl
	copy(buf[off:off+fl], p.Leaves)
	off += fl

	return buf
}

func encodeJoinData(buf []byte, off int, w Width, jd *JoinData) int {
	binary.LittleEndian.PutUint16(buf[off:], jd.Config)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], jd.NodeCount)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], jd.SlotCount)
	off += 2
	var flags byte
	if jd.Commit {
		flags |= 0x1
	}
	if jd.Overflow {
		flags |= 0x2
	}
	buf[off] = flags
	off++
	for i := 0; i < w.MaxNodeCount; i++ {
		binary.LittleEndian.PutUint16(buf[off:], uint16(jd.Slots[i]))
		off += 2
	}
	for i := 0; i < w.MaxNodeCount; i++ {
		binary.LittleEndian.PutUint16(buf[off:], uint16(jd.Indices[i]))
		off += 2
	}
	return off
}

func encodeElection(buf []byte, w Width, e *Election) {
	binary.LittleEndian.PutUint16(buf[0:], uint16(e.LeaderNodeID))
	binary.LittleEndian.PutUint16(buf[2:], e.Priority)
	off := 4
	for i := 0; i < w.MaxNodeCount; i++ {
		binary.LittleEndian.PutUint16(buf[off:], uint16(e.JoinedNodes[i]))
		off += 2
	}
}

// Decode parses a packet of width w from buf into dst (which must already
// be sized for w, e.g. via NewPacket). Returns an error only on a buffer
// that is too short to hold a packet of this width: the in-round protocol
// itself has no other failable decode path once the buffer is the right
// size.
func Decode(w Width, buf []byte, dst *Packet) error {
	if len(buf) < w.Len() {
		return errors.Errorf("wire: short packet: got %d bytes, need %d", len(buf), w.Len())
	}
	off := 0
	dst.Type, dst.Phase = unpackControl(buf[off])
	off++

	dst.RejoinSlot = NodeID(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	dst.RejoinIndex = NodeIndex(binary.LittleEndian.Uint16(buf[off:]))
	off += 2

	off = decodeJoinData(buf, off, w, &dst.Join)

	unionStart := off
	if dst.Type == TypeElectionAndHandover {
		decodeElection(buf[unionStart:], w, &dst.Election)
	} else {
		copy(dst.Value, buf[unionStart:unionStart+w.ValueLen])
	}
	off += w.unionLen()

	fl := w.FlagsLen()
	copy(dst.Flags, buf[off:off+fl])
	off += fl
	copy(dst.Leaves, buf[off:off+fl])
	off += fl

	return nil
}

func decodeJoinData(buf []byte, off int, w Width, jd *JoinData) int {
	jd.Config = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	jd.NodeCount = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	jd.SlotCount = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	flags := buf[off]
	jd.Commit = flags&0x1 != 0
	jd.Overflow = flags&0x2 != 0
	off++
	if len(jd.Slots) != w.MaxNodeCount {
		jd.Slots = make([]NodeID, w.MaxNodeCount)
	}
	if len(jd.Indices) != w.MaxNodeCount {
		jd.Indices = make([]NodeIndex, w.MaxNodeCount)
	}
	for i := 0; i < w.MaxNodeCount; i++ {
		jd.Slots[i] = NodeID(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
	}
	for i := 0; i < w.MaxNodeCount; i++ {
		jd.Indices[i] = NodeIndex(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
	}
	return off
}

func decodeElection(buf []byte, w Width, e *Election) {
	e.LeaderNodeID = NodeID(binary.LittleEndian.Uint16(buf[0:]))
	e.Priority = binary.LittleEndian.Uint16(buf[2:])
	if len(e.JoinedNodes) != w.MaxNodeCount {
		e.JoinedNodes = make([]NodeID, w.MaxNodeCount)
	}
	off := 4
	for i := 0; i < w.MaxNodeCount; i++ {
		e.JoinedNodes[i] = NodeID(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
	}
}
