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

// Package readout runs the background loop that drains the timetagger's
// bulk data endpoint and hands completed buffers to a publish callback. It
// takes only the narrow dependencies it needs (a transport and a flush
// flag), not the instrument facade itself, so there is no back-pointer from
// worker to facade: the worker's stop channel is owned by whoever launches
// Run (the daemon's composition root), and the worker holds no reference to
// the facade.
package readout

import (
	"context"

	"github.com/fatih/color"

	"github.com/timetag-tools/timetagd/internal/device"
)

// recordsPerRead is the largest whole number of six-byte records that fits
// in 512 bytes: 85 records, i.e. 510 bytes, the same send window configured
// at open.
const recordsPerRead = 85

const readBufSize = recordsPerRead * 6 // 510

// drainBufSize is the buffer used while discarding stale data during the
// flush protocol.
const drainBufSize = 512

// maxConsecutiveFailures bounds how many transport errors in a row the
// worker tolerates before giving up permanently.
const maxConsecutiveFailures = 1000

// Worker drains the data endpoint and publishes raw record buffers.
type Worker struct {
	transport device.Transport
	flush     *device.FlushState
	publish   func([]byte)

	failures int
}

// New constructs a Worker over transport, signaling on flush when a drain
// completes and delivering each successful read to publish. publish must
// not retain its argument slice past the call.
func New(transport device.Transport, flush *device.FlushState, publish func([]byte)) *Worker {
	return &Worker{transport: transport, flush: flush, publish: publish}
}

// Run reads the data endpoint until stop is closed or the failure budget is
// exhausted, draining stale data at the top of every iteration a flush is
// pending (set by a concurrent Facade.Reset) before resuming the steady-state
// read. Run is meant to be launched in its own goroutine; it returns when
// done.
func (w *Worker) Run(stop <-chan struct{}) {
	raisePriority()

	buf := make([]byte, readBufSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if w.flush.Needed() {
			w.drain()
			w.flush.Set(false)
		}

		ctx, cancel := context.WithTimeout(context.Background(), device.DataReadTimeout)
		n, err := w.transport.ReadData(ctx, buf)
		cancel()

		if err != nil {
			if isTimeout(err) {
				continue
			}
			w.failures++
			if w.failures > maxConsecutiveFailures {
				color.Red("readout: %d consecutive failures, stopping: %v", w.failures, err)
				return
			}
			continue
		}
		w.failures = 0

		if n == 0 {
			continue
		}
		if n%6 != 0 {
			color.Red("readout: partial record at end of %d-byte read (%d bytes), delivering anyway", n, n%6)
		}
		w.publish(buf[:n])
	}
}

// drain discards stale data and replies left over from before a flush,
// reading the data endpoint then the reply endpoint with a short timeout
// until each yields a zero-length read. Grounded on
// timetagger::readout_handler::do_flush.
func (w *Worker) drain() {
	buf := make([]byte, drainBufSize)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), device.DrainReadTimeout)
		n, err := w.transport.ReadData(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), device.DrainReadTimeout)
		n, err := w.transport.RecvReply(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return err == context.DeadlineExceeded
}
