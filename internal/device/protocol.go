package device

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// FlushState is the shared "needs_flush" flag between the instrument facade
// and the readout worker (SPEC_FULL.md §4.D/§5): set by the facade's Reset,
// cleared by the worker once its drain protocol completes. A sync.Cond lets
// start_capture block until the flag clears without busy-polling.
type FlushState struct {
	mu     sync.Mutex
	cond   *sync.Cond
	needed bool
}

// NewFlushState constructs a cleared FlushState.
func NewFlushState() *FlushState {
	fs := &FlushState{}
	fs.cond = sync.NewCond(&fs.mu)
	return fs
}

// Needed reports whether a drain is pending.
func (f *FlushState) Needed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needed
}

// Set marks a drain as pending or clears it, waking any waiter.
func (f *FlushState) Set(needed bool) {
	f.mu.Lock()
	f.needed = needed
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Wait blocks until the flag clears or ctx is done.
func (f *FlushState) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.mu.Lock()
		for f.needed && ctx.Err() == nil {
			f.cond.Wait()
		}
		f.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiting goroutine so it can observe the canceled ctx and
		// exit; it would otherwise stay parked until the next Set(). The
		// broadcast happens under the lock so it cannot slip in between the
		// goroutine's ctx check and its Wait.
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
		return ctx.Err()
	}
}

// ProtocolError signals a malformed reply: wrong length or a framing
// violation. Fatal to the current command, never retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "device: protocol error: " + e.Reason
}

const (
	cmdFrameLen  = 8
	replyFrameLen = 4

	frameMagic = 0xAA

	// setSendWindowRequest and flushFX2FIFORequest are the vendor control
	// transfer request codes from SPEC_FULL.md §4.B.
	setSendWindowRequest  = 0x01
	flushFX2FIFORequest   = 0x02
	maxSendWindowBytes    = 512
)

// Device drives the register request/reply protocol over a Transport. The
// command and reply endpoints share one mutex so only one register command
// is ever in flight, per SPEC_FULL.md §4.B / §5.
type Device struct {
	transport Transport

	mu         sync.Mutex
	sendWindow uint32 // in records
}

// New wraps a Transport in the register protocol.
func New(t Transport) *Device {
	return &Device{transport: t}
}

// ReadReg sends a read-register command and returns the device's current
// value for addr.
func (d *Device) ReadReg(ctx context.Context, addr uint16) (uint32, error) {
	return d.regCmd(ctx, false, addr, 0)
}

// WriteReg sends a write-register command; the device echoes back the
// post-write value, which is returned.
func (d *Device) WriteReg(ctx context.Context, addr uint16, val uint32) (uint32, error) {
	return d.regCmd(ctx, true, addr, val)
}

func (d *Device) regCmd(ctx context.Context, write bool, addr uint16, val uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame := make([]byte, cmdFrameLen)
	frame[0] = frameMagic
	if write {
		frame[1] = 1
	}
	binary.LittleEndian.PutUint16(frame[2:4], addr)
	binary.LittleEndian.PutUint32(frame[4:8], val)

	if err := d.transport.SendCommand(ctx, frame); err != nil {
		return 0, err
	}

	reply := make([]byte, replyFrameLen)
	n, err := d.transport.RecvReply(ctx, reply)
	if err != nil {
		return 0, err
	}
	if n != replyFrameLen {
		return 0, &ProtocolError{Reason: "reply length mismatch"}
	}

	return binary.LittleEndian.Uint32(reply), nil
}

// FlushFX2FIFO issues the vendor flush control transfer. It does not drain
// the endpoints: the instrument facade requests that drain through
// FlushState, and the readout worker, which alone owns the data endpoint,
// performs it.
func (d *Device) FlushFX2FIFO() error {
	return d.transport.ControlOut(flushFX2FIFORequest, 0)
}

// SetSendWindow configures the device's USB bulk-transfer size, in whole
// records, capped at 512 bytes per SPEC_FULL.md §4.B.
func (d *Device) SetSendWindow(records uint32) error {
	bytes := records * 6
	if bytes > maxSendWindowBytes {
		return errors.Errorf("device: send window %d bytes exceeds %d byte maximum", bytes, maxSendWindowBytes)
	}
	if err := d.transport.ControlOut(setSendWindowRequest, uint16(bytes)); err != nil {
		return err
	}

	d.mu.Lock()
	d.sendWindow = records
	d.mu.Unlock()
	return nil
}

// SendWindow returns the most recently configured send window, in records.
func (d *Device) SendWindow() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendWindow
}

// RawTransport exposes the underlying Transport for the readout worker,
// which needs direct access to the data endpoint (outside the register
// mutex, per SPEC_FULL.md §5: "the readout worker holds [the device] only
// during bulk reads and releases it immediately").
func (d *Device) RawTransport() Transport {
	return d.transport
}

// Close releases the underlying transport.
func (d *Device) Close() error {
	return d.transport.Close()
}
