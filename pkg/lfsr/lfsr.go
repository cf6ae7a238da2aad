package lfsr

import (
	"errors"
)

var (
	ErrInvalidSeed = errors.New("lfsr: seed must be non-zero and fit the register width")
	ErrInvalidTaps = errors.New("lfsr: tap set must be non-empty and include the top bit")
)

// Register is a Fibonacci LFSR of up to 32 bits. Each forward step shifts
// the state left by one bit and inserts the parity of the tapped bits at
// bit 0. Because the tap set always includes the top bit, every step is
// exactly invertible.
type Register struct {
	state uint32
	taps  uint32
	mask  uint32
	width uint
}

func New(seed uint32, taps []int, width uint) (*Register, error) {
	if width < 2 || width > 32 {
		return nil, ErrInvalidTaps
	}
	mask := ^uint32(0) >> (32 - width)
	if seed == 0 || seed&^mask != 0 {
		return nil, ErrInvalidSeed
	}
	var tapMask uint32
	top := false
	for _, t := range taps {
		if t < 0 || t >= int(width) {
			return nil, ErrInvalidTaps
		}
		if t == int(width)-1 {
			top = true
		}
		tapMask |= 1 << uint(t)
	}
	if tapMask == 0 || !top {
		return nil, ErrInvalidTaps
	}
	return &Register{
		state: seed,
		taps:  tapMask,
		mask:  mask,
		width: width,
	}, nil
}

func MustNew(seed uint32, taps []int, width uint) *Register {
	reg, err := New(seed, taps, width)
	if err != nil {
		panic(err)
	}
	return reg
}

// parity folds a word down to the XOR of all its bits.
func parity(x uint32) uint32 {
	x ^= x >> 16
	x ^= x >> 8
	x ^= x >> 4
	x ^= x >> 2
	x ^= x >> 1
	return x & 1
}

func (r *Register) StepForward() {
	fb := parity(r.state & r.taps)
	r.state = (r.state<<1 | fb) & r.mask
}

// StepBackward reconstructs the predecessor state. The inserted feedback
// bit sits at bit 0; the tapped bits below the top are still present in
// the shifted-down state, so the bit lost off the top is their parity
// XOR'ed with the feedback bit.
func (r *Register) StepBackward() {
	fb := r.state & 1
	rest := r.state >> 1
	lost := fb ^ parity(rest&r.taps)
	r.state = rest | lost<<(r.width-1)
}

// NextByte emits the low 8 bits of the state and advances the register
// by 8 steps.
func (r *Register) NextByte() byte {
	b := byte(r.state)
	for i := 0; i < 8; i++ {
		r.StepForward()
	}
	return b
}

// UndoByte rewinds the 8 steps consumed by a NextByte call.
func (r *Register) UndoByte() {
	for i := 0; i < 8; i++ {
		r.StepBackward()
	}
}

func (r *Register) State() uint32 {
	return r.state
}

func (r *Register) Width() uint {
	return r.width
}

func (r *Register) Clone() *Register {
	clone := *r
	return &clone
}
