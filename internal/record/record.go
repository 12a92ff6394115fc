// The MIT License (MIT)
//
// Copyright (c) 2024 timetag-tools authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package record implements the 48-bit packed timetagger record format: the
// wire codec and the wrap-aware absolute-time reconstruction.
package record

const (
	// Length is the size in bytes of a record on the wire.
	Length = 6

	// TimeBits is the width of the raw counter field.
	TimeBits = 36

	// TimeMask masks the low TimeBits bits of the 48-bit payload.
	TimeMask = (uint64(1) << TimeBits) - 1

	chanShift = TimeBits
	chanBits  = 4
	chanMask  = uint64(0xf) << chanShift

	typeMask = uint64(1) << 45
	wrapMask = uint64(1) << 46
	lostMask = uint64(1) << 47
)

// Type distinguishes a photon-arrival STROBE record from a digital-output
// state transition DELTA record.
type Type int

const (
	Strobe Type = iota
	Delta
)

func (t Type) String() string {
	if t == Delta {
		return "DELTA"
	}
	return "STROBE"
}

// Record is the in-memory decode of one 48-bit wire record plus the
// reconstructed 64-bit absolute time carried by the owning Reader.
type Record struct {
	Payload uint64 // low 48 bits significant
	Time    uint64 // raw time + accumulated wrap offset
}

// Type reports whether this is a STROBE or DELTA record.
func (r Record) Type() Type {
	if r.Payload&typeMask != 0 {
		return Delta
	}
	return Strobe
}

// RawTime is the 36-bit hardware counter value, before wrap reconstruction.
func (r Record) RawTime() uint64 {
	return r.Payload & TimeMask
}

// Wrap reports the timer-wrap flag (bit 46).
func (r Record) Wrap() bool {
	return r.Payload&wrapMask != 0
}

// Lost reports the FIFO-overflow flag (bit 47).
func (r Record) Lost() bool {
	return r.Payload&lostMask != 0
}

// Channels returns the 4-bit channel bitmap, one bool per channel index.
func (r Record) Channels() [4]bool {
	bits := (r.Payload & chanMask) >> chanShift
	var ch [4]bool
	for i := 0; i < chanBits; i++ {
		ch[i] = bits&(1<<uint(i)) != 0
	}
	return ch
}

// Channel reports whether channel n's bit is set.
func (r Record) Channel(n int) bool {
	return (r.Payload>>(chanShift+uint(n)))&1 != 0
}

// MaskChannels clears the channel bitmap, leaving type/wrap/lost/time intact.
// Used by the cutter when preserving wrap records across a channel filter.
func (r Record) MaskChannels() Record {
	r.Payload &^= chanMask
	return r
}

// Encode packs the record's 48-bit payload into 6 big-endian bytes. Only the
// payload is written; the reconstructed absolute time never reaches the wire.
func (r Record) Encode() [Length]byte {
	var buf [Length]byte
	v := r.Payload
	for i := Length - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// Decode unpacks 6 big-endian bytes into a payload-only Record (Time unset;
// the Reader stamps it during wrap reconstruction).
func Decode(buf [Length]byte) Record {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return Record{Payload: v}
}
