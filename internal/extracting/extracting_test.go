package extracting

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/timetag-tools/timetagd/internal/record"
)

func writeStrobe(t *testing.T, buf *bytes.Buffer, channels uint64, tm uint64) {
	t.Helper()
	payload := (tm & record.TimeMask) | (channels << 36)
	w := record.NewWriter(buf)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func writeDelta(t *testing.T, buf *bytes.Buffer, channels uint64, tm uint64) {
	t.Helper()
	payload := (tm & record.TimeMask) | (channels << 36) | (uint64(1) << 45)
	w := record.NewWriter(buf)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func readU64s(t *testing.T, path string) []uint64 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data)%8 != 0 {
		t.Fatalf("%s: length %d not a multiple of 8", path, len(data))
	}
	var out []uint64
	for i := 0; i < len(data); i += 8 {
		out = append(out, binary.LittleEndian.Uint64(data[i:i+8]))
	}
	return out
}

func TestStrobeChannelsGetLazilyCreatedTimestampFiles(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "run")

	var in bytes.Buffer
	writeStrobe(t, &in, 1<<0, 10)
	writeStrobe(t, &in, 1<<2, 20)
	writeStrobe(t, &in, 1<<0, 30)

	if err := Run(&in, root); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(root + ".strobe2.times"); err == nil {
		t.Fatalf("channel 1 produced no records but its file was created")
	}

	times1 := readU64s(t, root+".strobe1.times")
	if len(times1) != 2 || times1[0] != 10 || times1[1] != 30 {
		t.Fatalf("strobe1.times = %v, want [10 30]", times1)
	}
	times3 := readU64s(t, root+".strobe3.times")
	if len(times3) != 1 || times3[0] != 20 {
		t.Fatalf("strobe3.times = %v, want [20]", times3)
	}
}

func TestFirstDeltaRecordOnlySeedsState(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "run")

	var in bytes.Buffer
	writeDelta(t, &in, 1<<0, 5) // seeds channel 0 = on, others off

	if err := Run(&in, root); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, "run.delta"+string(rune('0'+i))+".times")); err == nil {
			t.Fatalf("no transition occurred but delta%d.times was created", i)
		}
	}
}

func TestDeltaTransitionWritesHeaderThenEntries(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "run")

	var in bytes.Buffer
	writeDelta(t, &in, 1<<0, 5)  // seed: channel0=on
	writeDelta(t, &in, 0, 15)    // channel0 transitions off
	writeDelta(t, &in, 1<<0, 25) // channel0 transitions back on

	if err := Run(&in, root); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(root + ".delta1.times")
	if err != nil {
		t.Fatal(err)
	}
	// header: first_delta_time(8) + old_state(1), then two (time(8)+state(1)) entries.
	if len(data) != 9+9+9 {
		t.Fatalf("delta1.times length = %d, want %d", len(data), 9+9+9)
	}
	headerTime := binary.LittleEndian.Uint64(data[0:8])
	headerState := data[8]
	if headerTime != 5 || headerState != 1 {
		t.Fatalf("header = (%d, %d), want (5, 1) [old_state at first transition]", headerTime, headerState)
	}
	e1Time := binary.LittleEndian.Uint64(data[9:17])
	e1State := data[17]
	if e1Time != 15 || e1State != 0 {
		t.Fatalf("entry1 = (%d, %d), want (15, 0)", e1Time, e1State)
	}
	e2Time := binary.LittleEndian.Uint64(data[18:26])
	e2State := data[26]
	if e2Time != 25 || e2State != 1 {
		t.Fatalf("entry2 = (%d, %d), want (25, 1)", e2Time, e2State)
	}
}

func TestUnchangedDeltaStateProducesNoEntry(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "run")

	var in bytes.Buffer
	writeDelta(t, &in, 1<<1, 1) // seed: channel1=on
	writeDelta(t, &in, 1<<1, 2) // no change
	writeDelta(t, &in, 1<<1, 3) // no change
	writeDelta(t, &in, 0, 4)    // channel1 transitions off

	if err := Run(&in, root); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(root + ".delta2.times")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 18 {
		t.Fatalf("delta2.times length = %d, want 18 (one header + one transition)", len(data))
	}
}
