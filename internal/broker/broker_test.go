package broker

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/timetag-tools/timetagd/internal/device"
	"github.com/timetag-tools/timetagd/internal/fanout"
	"github.com/timetag-tools/timetagd/internal/instrument"
)

type fakeTransport struct {
	regs    map[uint16]uint32
	lastCmd []byte
}

func newFakeTransport() *fakeTransport { return &fakeTransport{regs: make(map[uint16]uint32)} }

func (f *fakeTransport) SendCommand(ctx context.Context, frame []byte) error {
	f.lastCmd = append([]byte(nil), frame...)
	return nil
}

func (f *fakeTransport) RecvReply(ctx context.Context, buf []byte) (int, error) {
	addr := binary.LittleEndian.Uint16(f.lastCmd[2:4])
	if f.lastCmd[1] == 1 {
		f.regs[addr] = binary.LittleEndian.Uint32(f.lastCmd[4:8])
	}
	binary.LittleEndian.PutUint32(buf, f.regs[addr])
	return 4, nil
}

func (f *fakeTransport) ReadData(ctx context.Context, buf []byte) (int, error) { return 0, nil }
func (f *fakeTransport) ControlOut(request uint8, value uint16) error          { return nil }
func (f *fakeTransport) Close() error                                         { return nil }

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	ft := newFakeTransport()
	dev := device.New(ft)
	facade, err := instrument.Open(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}
	return New(facade, fanout.New(10))
}

// runLines feeds lines through ServeStdin and returns the response lines
// (with "ready" prompts stripped).
func runLines(t *testing.T, b *Broker, lines ...string) []string {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	ServeStdin(context.Background(), b, in, &out)

	var resp []string
	for _, l := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if l != "ready" {
			resp = append(resp, l)
		}
	}
	return resp
}

func TestUnknownCommand(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "bogus_verb")
	if len(resp) != 1 || resp[0] != "error: unknown command" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestArityMismatch(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "strobe_operate 0")
	if len(resp) != 1 || resp[0] != "error: invalid command (expects 2 arguments)" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestStartStopCaptureQuery(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "capture?", "start_capture", "capture?", "stop_capture", "capture?")
	want := []string{"= 0", "= ok", "= 1", "= ok", "= 0"}
	if len(resp) != len(want) {
		t.Fatalf("resp = %v, want %v", resp, want)
	}
	for i := range want {
		if resp[i] != want[i] {
			t.Fatalf("line %d: %q, want %q", i, resp[i], want[i])
		}
	}
}

func TestStrobeOperateRoundTrip(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "strobe_operate 2 1", "strobe_operate? 2")
	if len(resp) != 2 || resp[0] != "= ok" || resp[1] != "= 1" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestSeqChanConfigAndQueries(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b,
		"seqchan_config 1 1 10 20 30",
		"seqchan_initial_state? 1",
		"seqchan_initial_count? 1",
		"seqchan_low_count? 1",
		"seqchan_high_count? 1",
	)
	want := []string{"= ok", "= 1", "= 10", "= 20", "= 30"}
	for i := range want {
		if resp[i] != want[i] {
			t.Fatalf("line %d: %q, want %q", i, resp[i], want[i])
		}
	}
}

func TestChannelOutOfRange(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "strobe_operate 99 1")
	if len(resp) != 1 || !strings.HasPrefix(resp[0], "error:") {
		t.Fatalf("resp = %v, want an error", resp)
	}
}

func TestAddOutputFileAndListAndRemove(t *testing.T) {
	b := newTestBroker(t)
	dir := t.TempDir()
	resp := runLines(t, b,
		"add_output_file out "+dir+"/out.bin",
		"list_outputs",
		"remove_output out",
		"list_outputs",
	)
	if resp[0] != "= ok" {
		t.Fatalf("add_output_file: %q", resp[0])
	}
	if !strings.HasPrefix(resp[1], "= out ") {
		t.Fatalf("list_outputs: %q", resp[1])
	}
	if resp[2] != "= 1" {
		t.Fatalf("remove_output: %q", resp[2])
	}
	// The final list_outputs has nothing to report, so it produces no
	// response line at all (empty responses are never written).
	if len(resp) != 3 {
		t.Fatalf("resp = %v, want 3 lines (empty final list_outputs elided)", resp)
	}
}

func TestAddOutputFDRejectedOnStdin(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "add_output_fd sub")
	if len(resp) != 1 || !strings.HasPrefix(resp[0], "error:") {
		t.Fatalf("resp = %v, want an error for fd passing over stdin", resp)
	}
}

func TestQuitEndsSession(t *testing.T) {
	b := newTestBroker(t)
	in := strings.NewReader("quit\nversion?\n")
	var out bytes.Buffer
	ServeStdin(context.Background(), b, in, &out)
	if strings.Contains(out.String(), "version") {
		t.Fatal("session continued processing after quit")
	}
}

func TestHelpListsEveryVerb(t *testing.T) {
	b := newTestBroker(t)
	resp := runLines(t, b, "help")
	if len(resp) < len(verbs) {
		t.Fatalf("help returned %d lines, want at least %d verbs", len(resp), len(verbs))
	}
}
