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

// Package instrument gives typed, named-register access to the timetagger:
// capture control, the strobe/delta channel masks, the pulse sequencer, and
// the free-running counters, all layered over the raw register protocol in
// internal/device.
package instrument

import (
	"context"
	"sync"

	"github.com/timetag-tools/timetagd/internal/device"
)

// Facade is the instrument's register-level control surface. Each register
// command is serialized by the device's own mutex, and the local cache is
// guarded by the facade's mutex. The read-modify-write setters are not atomic
// as a whole: two setters on the same register running concurrently can lose
// one update, so callers serialize them (the broker holds its own lock
// around every command).
type Facade struct {
	dev   *device.Device
	flush *device.FlushState

	mu    sync.Mutex
	cache [cacheSize]uint32
}

// Open claims dev and brings the instrument to its power-on-equivalent
// state, grounded on timetagger::timetagger()'s construction sequence:
// set the send window, clear the unjam register, flush the FX2 FIFO, zero
// CAPCTL, open both channel masks, then prime the register cache.
func Open(ctx context.Context, dev *device.Device) (*Facade, error) {
	f := &Facade{dev: dev, flush: device.NewFlushState()}

	if err := dev.SetSendWindow(512 / 6); err != nil {
		return nil, err
	}
	if _, err := dev.WriteReg(ctx, 0x00, 0); err != nil {
		return nil, err
	}
	if err := dev.FlushFX2FIFO(); err != nil {
		return nil, err
	}
	if _, err := dev.WriteReg(ctx, regCapCtl, 0); err != nil {
		return nil, err
	}
	if _, err := dev.WriteReg(ctx, regStrobe, 0x0F); err != nil {
		return nil, err
	}
	if _, err := dev.WriteReg(ctx, regDelta, 0x0F); err != nil {
		return nil, err
	}

	for addr := uint16(0x01); addr <= 0x4F; addr++ {
		if _, err := f.refresh(ctx, addr); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// FlushState exposes the needs-flush signal shared with the readout worker.
func (f *Facade) FlushState() *device.FlushState {
	return f.flush
}

// Device exposes the underlying register protocol, for callers (the readout
// worker) that need the raw transport rather than named registers.
func (f *Facade) Device() *device.Device {
	return f.dev
}

// refresh re-reads addr from the device and stores it in the cache.
func (f *Facade) refresh(ctx context.Context, addr uint16) (uint32, error) {
	v, err := f.dev.ReadReg(ctx, addr)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.cache[addr] = v
	f.mu.Unlock()
	return v, nil
}

// get returns addr's current value, always re-reading through the device
// (the cache only exists to support read-modify-write setters).
func (f *Facade) get(ctx context.Context, addr uint16) (uint32, error) {
	return f.refresh(ctx, addr)
}

// setBits writes addr with mask bits set according to on, computed against
// the last cached value rather than a fresh read, per the optimistic-update
// discipline in SPEC_FULL.md §5.
func (f *Facade) setBits(ctx context.Context, addr uint16, mask uint32, on bool) error {
	f.mu.Lock()
	cur := f.cache[addr]
	f.mu.Unlock()

	var next uint32
	if on {
		next = cur | mask
	} else {
		next = cur &^ mask
	}

	v, err := f.dev.WriteReg(ctx, addr, next)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cache[addr] = v
	f.mu.Unlock()
	return nil
}

func (f *Facade) writeRaw(ctx context.Context, addr uint16, val uint32) error {
	v, err := f.dev.WriteReg(ctx, addr, val)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cache[addr] = v
	f.mu.Unlock()
	return nil
}

// StartCapture waits for any pending flush to clear, then sets CAPTURE_EN.
func (f *Facade) StartCapture(ctx context.Context) error {
	if err := f.flush.Wait(ctx); err != nil {
		return err
	}
	return f.setBits(ctx, regCapCtl, capCaptureEn, true)
}

// StopCapture clears CAPTURE_EN.
func (f *Facade) StopCapture(ctx context.Context) error {
	return f.setBits(ctx, regCapCtl, capCaptureEn, false)
}

// CaptureEnabled reports whether CAPTURE_EN is currently set.
func (f *Facade) CaptureEnabled(ctx context.Context) (bool, error) {
	v, err := f.get(ctx, regCapCtl)
	return v&capCaptureEn != 0, err
}

// ResetCounter pulses RESET_CNT while clearing COUNT_EN, then drops
// RESET_CNT alone; COUNT_EN stays cleared until the next StartCapture. The
// two-write order is load-bearing and comes from timetagger.cpp's
// reset_counter(), which spec.md's one-line description leaves ambiguous.
func (f *Facade) ResetCounter(ctx context.Context) error {
	f.mu.Lock()
	cur := f.cache[regCapCtl]
	f.mu.Unlock()

	pulsed := (cur | capResetCnt) &^ capCountEn
	if err := f.writeRaw(ctx, regCapCtl, pulsed); err != nil {
		return err
	}
	return f.writeRaw(ctx, regCapCtl, pulsed&^capResetCnt)
}

// SetCountEnabled toggles the free-running record/lost counters independent
// of capture.
func (f *Facade) SetCountEnabled(ctx context.Context, on bool) error {
	return f.setBits(ctx, regCapCtl, capCountEn, on)
}

// FlushFifo clears the device-side record FIFO by pulsing REC_FIFO bit 0.
func (f *Facade) FlushFifo(ctx context.Context) error {
	if err := f.setBits(ctx, regRecFifo, recFifoClear, true); err != nil {
		return err
	}
	return f.setBits(ctx, regRecFifo, recFifoClear, false)
}

// Reset stops capture, flushes the FX2 FIFO at the transport level, and
// marks a drain as pending; the readout worker clears the flag once its
// drain protocol completes, unblocking a subsequent StartCapture.
func (f *Facade) Reset(ctx context.Context) error {
	if err := f.StopCapture(ctx); err != nil {
		return err
	}
	if err := f.dev.FlushFX2FIFO(); err != nil {
		return err
	}
	f.flush.Set(true)
	return nil
}

// SetStrobeOperate enables or disables channel ch (0-3) in the STROBE mask.
func (f *Facade) SetStrobeOperate(ctx context.Context, ch int, on bool) error {
	return f.setBits(ctx, regStrobe, 1<<uint(ch), on)
}

// StrobeOperate reports whether channel ch is enabled in the STROBE mask.
func (f *Facade) StrobeOperate(ctx context.Context, ch int) (bool, error) {
	v, err := f.get(ctx, regStrobe)
	return v&(1<<uint(ch)) != 0, err
}

// SetDeltaOperate enables or disables channel ch (0-3) in the DELTA mask.
func (f *Facade) SetDeltaOperate(ctx context.Context, ch int, on bool) error {
	return f.setBits(ctx, regDelta, 1<<uint(ch), on)
}

// DeltaOperate reports whether channel ch is enabled in the DELTA mask.
func (f *Facade) DeltaOperate(ctx context.Context, ch int) (bool, error) {
	v, err := f.get(ctx, regDelta)
	return v&(1<<uint(ch)) != 0, err
}

// SetGlobalSequencerOperate enables or disables the pulse sequencer as a
// whole.
func (f *Facade) SetGlobalSequencerOperate(ctx context.Context, on bool) error {
	return f.setBits(ctx, regSeq, seqGlobalOp, on)
}

// GlobalSequencerOperate reports the sequencer's global run state.
func (f *Facade) GlobalSequencerOperate(ctx context.Context) (bool, error) {
	v, err := f.get(ctx, regSeq)
	return v&seqGlobalOp != 0, err
}

// ResetSequencer pulses the sequencer reset line. Grounded directly on
// timetagger.cpp's reset_sequencer(), which writes SEQ_REG unconditionally
// (0x2 then 0x0) rather than preserving GLOBAL_OP across the pulse; a
// caller that wants the sequencer running afterward must re-enable it.
func (f *Facade) ResetSequencer(ctx context.Context) error {
	if err := f.writeRaw(ctx, regSeq, seqReset); err != nil {
		return err
	}
	return f.writeRaw(ctx, regSeq, 0)
}

// SetSeqChanOperate enables or disables sequencer channel ch.
func (f *Facade) SetSeqChanOperate(ctx context.Context, ch int, on bool) error {
	return f.setBits(ctx, seqChanReg(ch, seqChanConfig), seqChanOp, on)
}

// SeqChanOperate reports sequencer channel ch's run state.
func (f *Facade) SeqChanOperate(ctx context.Context, ch int) (bool, error) {
	v, err := f.get(ctx, seqChanReg(ch, seqChanConfig))
	return v&seqChanOp != 0, err
}

// SetSeqChanInitialState sets sequencer channel ch's output level at the
// start of each cycle.
func (f *Facade) SetSeqChanInitialState(ctx context.Context, ch int, high bool) error {
	return f.setBits(ctx, seqChanReg(ch, seqChanConfig), seqChanInitialState, high)
}

// SeqChanInitialState reports sequencer channel ch's initial output level.
func (f *Facade) SeqChanInitialState(ctx context.Context, ch int) (bool, error) {
	v, err := f.get(ctx, seqChanReg(ch, seqChanConfig))
	return v&seqChanInitialState != 0, err
}

// SetSeqChanInitialCount sets the one-shot delay before channel ch's first
// transition.
func (f *Facade) SetSeqChanInitialCount(ctx context.Context, ch int, count uint32) error {
	return f.writeRaw(ctx, seqChanReg(ch, seqChanInitCount), count)
}

// SeqChanInitialCount returns channel ch's configured initial count.
func (f *Facade) SeqChanInitialCount(ctx context.Context, ch int) (uint32, error) {
	return f.get(ctx, seqChanReg(ch, seqChanInitCount))
}

// SetSeqChanLowCount sets the low-phase duration of channel ch's square
// wave.
func (f *Facade) SetSeqChanLowCount(ctx context.Context, ch int, count uint32) error {
	return f.writeRaw(ctx, seqChanReg(ch, seqChanLowCount), count)
}

// SeqChanLowCount returns channel ch's configured low-phase count.
func (f *Facade) SeqChanLowCount(ctx context.Context, ch int) (uint32, error) {
	return f.get(ctx, seqChanReg(ch, seqChanLowCount))
}

// SetSeqChanHighCount sets the high-phase duration of channel ch's square
// wave.
func (f *Facade) SetSeqChanHighCount(ctx context.Context, ch int, count uint32) error {
	return f.writeRaw(ctx, seqChanReg(ch, seqChanHighCount), count)
}

// SeqChanHighCount returns channel ch's configured high-phase count.
func (f *Facade) SeqChanHighCount(ctx context.Context, ch int) (uint32, error) {
	return f.get(ctx, seqChanReg(ch, seqChanHighCount))
}

// Version returns the device's firmware version register.
func (f *Facade) Version(ctx context.Context) (uint32, error) {
	return f.get(ctx, regVersion)
}

// Clockrate returns the device's timestamp clock rate, in Hz.
func (f *Facade) Clockrate(ctx context.Context) (uint32, error) {
	return f.get(ctx, regClockrate)
}

// SeqClockrate returns the pulse sequencer's clock rate, in Hz.
func (f *Facade) SeqClockrate(ctx context.Context) (uint32, error) {
	return f.get(ctx, regSeqClockrate)
}

// RecordCount returns the free-running accepted-record counter.
func (f *Facade) RecordCount(ctx context.Context) (uint32, error) {
	return f.get(ctx, regRecCounter)
}

// LostRecordCount returns the free-running dropped-record counter.
func (f *Facade) LostRecordCount(ctx context.Context) (uint32, error) {
	return f.get(ctx, regLostCount)
}

// Close releases the underlying device.
func (f *Facade) Close() error {
	return f.dev.Close()
}
