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

// Package fanout broadcasts readout buffers to a dynamic set of named
// sinks, each with its own bounded queue and backpressure policy. It
// generalizes the teacher's std.Pipe goroutine-per-peer shape from a single
// bidirectional pipe to a 1:N broadcast with per-sink drop-on-overrun.
package fanout

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// DefaultHighWaterMark is the queue depth, in buffers, at which a
// slow subscriber is declared dead.
const DefaultHighWaterMark = 1000

// Subscriber is a named sink receiving a copy of every published buffer.
type Subscriber struct {
	Name string

	sink      io.Writer
	closer    io.Closer
	needClose bool

	queue chan []byte
	lost  uint64
	dead  int32

	wg sync.WaitGroup
}

// Lost returns the number of bytes dropped for this subscriber due to
// would-block writes.
func (s *Subscriber) Lost() uint64 {
	return atomic.LoadUint64(&s.lost)
}

// Dead reports whether the subscriber has stopped accepting buffers,
// either due to overrun or a fatal write error.
func (s *Subscriber) Dead() bool {
	return atomic.LoadInt32(&s.dead) != 0
}

// Fd reports the underlying file descriptor number for list_outputs, or -1
// if the sink isn't backed by an *os.File (the daemon's own stdout is an
// *os.File and reports 1).
func (s *Subscriber) Fd() int {
	if f, ok := s.sink.(*os.File); ok {
		return int(f.Fd())
	}
	return -1
}

func (s *Subscriber) markDead() {
	if atomic.CompareAndSwapInt32(&s.dead, 0, 1) {
		// Drain any buffers already queued so the writer goroutine isn't
		// stuck trying to deliver to a sink we've given up on.
		for {
			select {
			case <-s.queue:
			default:
				return
			}
		}
	}
}

func (s *Subscriber) run() {
	defer s.wg.Done()
	for buf := range s.queue {
		if s.Dead() {
			continue
		}
		offset := 0
		for offset < len(buf) {
			n, err := s.sink.Write(buf[offset:])
			offset += n
			if err == nil {
				continue
			}
			if isWouldBlock(err) {
				atomic.AddUint64(&s.lost, uint64(len(buf)-offset))
				break
			}
			s.markDead()
			break
		}
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// Fanout holds the live subscriber set and broadcasts buffers to it.
type Fanout struct {
	highWaterMark int

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// New constructs a Fanout with the given per-subscriber queue depth; 0
// selects DefaultHighWaterMark.
func New(highWaterMark int) *Fanout {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Fanout{highWaterMark: highWaterMark, subs: make(map[string]*Subscriber)}
}

// Add registers a new subscriber. needClose tells Remove (and Close)
// whether the fanout owns sink's lifetime.
func (fo *Fanout) Add(name string, sink io.Writer, needClose bool) *Subscriber {
	closer, _ := sink.(io.Closer)
	s := &Subscriber{
		Name:      name,
		sink:      sink,
		closer:    closer,
		needClose: needClose,
		queue:     make(chan []byte, fo.highWaterMark),
	}
	s.wg.Add(1)
	go s.run()

	fo.mu.Lock()
	fo.subs[name] = s
	fo.mu.Unlock()
	return s
}

// Remove unregisters the named subscriber(s), joins their writer goroutines,
// and closes owned sinks. Returns the number removed.
func (fo *Fanout) Remove(name string) int {
	fo.mu.Lock()
	s, ok := fo.subs[name]
	if ok {
		delete(fo.subs, name)
	}
	fo.mu.Unlock()
	if !ok {
		return 0
	}
	fo.joinAndClose(s)
	return 1
}

func (fo *Fanout) joinAndClose(s *Subscriber) {
	close(s.queue)
	s.wg.Wait()
	if s.needClose && s.closer != nil {
		s.closer.Close()
	}
}

// List returns a snapshot of the current subscribers.
func (fo *Fanout) List() []*Subscriber {
	fo.mu.Lock()
	defer fo.mu.Unlock()
	out := make([]*Subscriber, 0, len(fo.subs))
	for _, s := range fo.subs {
		out = append(out, s)
	}
	return out
}

// Publish copies buf once per live subscriber and enqueues it on each,
// non-blockingly; a full queue declares that subscriber dead and skips it,
// per the high-water-mark overrun policy.
func (fo *Fanout) Publish(buf []byte) {
	fo.mu.Lock()
	subs := make([]*Subscriber, 0, len(fo.subs))
	for _, s := range fo.subs {
		subs = append(subs, s)
	}
	fo.mu.Unlock()

	for _, s := range subs {
		if s.Dead() {
			continue
		}
		cp := append([]byte(nil), buf...)
		select {
		case s.queue <- cp:
		default:
			s.markDead()
		}
	}
}

// Close removes every subscriber, joining writers and closing owned sinks.
func (fo *Fanout) Close() {
	fo.mu.Lock()
	subs := make([]*Subscriber, 0, len(fo.subs))
	for _, s := range fo.subs {
		subs = append(subs, s)
	}
	fo.subs = make(map[string]*Subscriber)
	fo.mu.Unlock()

	for _, s := range subs {
		fo.joinAndClose(s)
	}
}
