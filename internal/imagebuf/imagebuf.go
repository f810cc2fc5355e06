// Package imagebuf models the controller's on-device image memory as a
// fixed arena of frame-sized slots. Keeping several slots lets the playback
// loop transfer frames ahead of display time, amortizing USB transfer
// latency against display-cycle latency.
package imagebuf

import "fmt"

// Slot is one fixed device-memory range holding exactly one packed frame.
// Its content is valid only for the frame most recently written to it.
type Slot struct {
	index   int
	address uint32
}

// Index is the slot's position in the ring.
func (s Slot) Index() int {
	return s.index
}

// Address is the slot's device-memory base address, the destination for the
// frame transfer and the source named by the display trigger.
func (s Slot) Address() uint32 {
	return s.address
}

// Ring hands out slots in round-robin order. The slot count is fixed by
// hardware (device memory divided by frame size), so the ring is an index
// counter over a fixed arena, never a growing collection. It is owned and
// updated by the scheduler goroutine only.
type Ring struct {
	base      uint32
	frameSize uint32
	slots     int
	next      int
}

// NewRing derives the slot count from the usable device memory. Display is
// synchronous with respect to the transfer, so by the time a slot index
// cycles back its previous display command has long returned and the slot
// may be overwritten.
func NewRing(base uint32, memSize uint32, frameSize int) (*Ring, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("imagebuf: invalid frame size %d", frameSize)
	}
	slots := int(memSize) / frameSize
	if slots < 1 {
		return nil, fmt.Errorf("imagebuf: device memory %d bytes holds no %d-byte frame", memSize, frameSize)
	}
	return &Ring{
		base:      base,
		frameSize: uint32(frameSize),
		slots:     slots,
	}, nil
}

// Slots is the number of usable slots.
func (r *Ring) Slots() int {
	return r.slots
}

// Acquire returns the next slot in round-robin order.
func (r *Ring) Acquire() Slot {
	i := r.next
	r.next = (r.next + 1) % r.slots
	return Slot{
		index:   i,
		address: r.base + uint32(i)*r.frameSize,
	}
}
