package readout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/timetag-tools/timetagd/internal/device"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// fakeTransport serves scripted data/reply reads for the worker under test.
type fakeTransport struct {
	mu        sync.Mutex
	dataReads [][]byte // each a chunk to return, or nil for a timeout
	replies   [][]byte

	dataIdx, replyIdx int
}

func (f *fakeTransport) SendCommand(ctx context.Context, frame []byte) error { return nil }
func (f *fakeTransport) RecvReply(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyIdx >= len(f.replies) {
		return 0, nil
	}
	chunk := f.replies[f.replyIdx]
	f.replyIdx++
	return copy(buf, chunk), nil
}

func (f *fakeTransport) ReadData(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dataIdx >= len(f.dataReads) {
		return 0, timeoutErr{}
	}
	chunk := f.dataReads[f.dataIdx]
	f.dataIdx++
	if chunk == nil {
		return 0, timeoutErr{}
	}
	return copy(buf, chunk), nil
}

func (f *fakeTransport) ControlOut(request uint8, value uint16) error { return nil }
func (f *fakeTransport) Close() error                                { return nil }

func TestRunDrainsBeforeSteadyState(t *testing.T) {
	ft := &fakeTransport{
		dataReads: [][]byte{{1, 2, 3}, nil}, // drain: one chunk, then zero/timeout ends it
		replies:   [][]byte{{9}, nil},
	}
	flush := device.NewFlushState()
	flush.Set(true)

	var published [][]byte
	var mu sync.Mutex
	w := New(ft, flush, func(b []byte) {
		mu.Lock()
		published = append(published, append([]byte(nil), b...))
		mu.Unlock()
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if flush.Needed() {
		t.Fatal("flush flag not cleared after drain")
	}
	close(stop)
	<-done
}

func TestRunPublishesWholeRecords(t *testing.T) {
	payload := make([]byte, 12) // two 6-byte records
	for i := range payload {
		payload[i] = byte(i)
	}
	ft := &fakeTransport{dataReads: [][]byte{payload}}
	flush := device.NewFlushState()

	var got []byte
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	w := New(ft, flush, func(b []byte) {
		mu.Lock()
		got = append([]byte(nil), b...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	stop := make(chan struct{})
	go w.Run(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish never called")
	}
	close(stop)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 12 {
		t.Fatalf("published %d bytes, want 12", len(got))
	}
}

func TestRunStopsAfterFailureBudget(t *testing.T) {
	ft := &permanentErrTransport{}
	flush := device.NewFlushState()
	w := New(ft, flush, func(b []byte) {})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after exhausting failure budget")
	}
}

type permanentErrTransport struct{}

func (permanentErrTransport) SendCommand(ctx context.Context, frame []byte) error { return nil }
func (permanentErrTransport) RecvReply(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}
func (permanentErrTransport) ReadData(ctx context.Context, buf []byte) (int, error) {
	return 0, errNotTimeout{}
}
func (permanentErrTransport) ControlOut(request uint8, value uint16) error { return nil }
func (permanentErrTransport) Close() error                                { return nil }

type errNotTimeout struct{}

func (errNotTimeout) Error() string { return "device gone" }
