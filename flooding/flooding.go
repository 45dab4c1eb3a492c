// Package flooding is the boundary between a merge-commit round and the
// underlying concurrent-transmission radio primitive. The protocol core
// never touches a radio directly; it is handed a Link that delivers one
// slot outcome at a time and accepts the node's own transmission for that
// slot, mirroring a radio driver's TX/RX channel pair rather than a
// request/response call.
package flooding

import "time"

// SlotRX is what a Link delivers for one radio slot: either a
// successfully decoded payload from a peer, or a miss.
type SlotRX struct {
	Payload []byte
	Success bool
	At      time.Time
}

// Link is the per-round handle into the flooding layer. A round driver
// calls Recv once per slot to learn what, if anything, arrived, and Send
// to push its own outgoing payload for that same slot.
type Link interface {
	// Recv blocks until the current slot's inbound outcome is known.
	Recv() SlotRX
	// Send transmits payload for the current slot.
	Send(payload []byte)
	// Close releases the link at round end.
	Close()
}

// Round drives slot-by-slot interaction between a round's per-slot
// callback and a Link until process returns done=true or maxSlots is
// exhausted. It mirrors the shape of a radio driver's blocking worker
// loop, but inlined into a single call since the merge-commit core has no
// background goroutine of its own.
func Round(link Link, maxSlots int, process func(slot int, rx SlotRX, send func([]byte)) (done bool)) (slotsUsed int) {
	defer link.Close()
	for slot := 0; slot < maxSlots; slot++ {
		rx := link.Recv()
		done := process(slot, rx, link.Send)
		slotsUsed = slot + 1
		if done {
			return slotsUsed
		}
	}
	return slotsUsed
}
