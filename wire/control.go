package wire

// Type is the packet's coordination type, packed into the low 2 bits of
// the control byte.
type Type uint8

const (
	TypeUnknown             Type = 0
	TypeElectionAndHandover Type = 1
	TypeCoordination        Type = 2
)

// Phase is the packet's merge/commit phase, packed into the upper 6 bits
// of the control byte. The numeric values are part of the wire contract
// and must never be renumbered.
type Phase uint8

const (
	PhaseMerge  Phase = 4
	PhaseCommit Phase = 8
)

// packControl packs type and phase into a single control byte:
// control = (phase << 2) | type.
func packControl(t Type, p Phase) byte {
	return byte(p)<<2 | byte(t)
}

// unpackControl recovers (type, phase) from a control byte.
func unpackControl(c byte) (Type, Phase) {
	return Type(c & 0x3), Phase(c >> 2)
}
