package cutting

import (
	"bytes"
	"testing"

	"github.com/timetag-tools/timetagd/internal/record"
)

func writeStrobe(t *testing.T, buf *bytes.Buffer, channels uint64, tm uint64) {
	t.Helper()
	payload := tm & record.TimeMask
	payload |= channels << 36
	w := record.NewWriter(buf)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func writeDelta(t *testing.T, buf *bytes.Buffer, channels uint64, tm uint64) {
	t.Helper()
	payload := tm & record.TimeMask
	payload |= channels << 36
	payload |= uint64(1) << 45
	w := record.NewWriter(buf)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func readAllTimes(t *testing.T, buf []byte) []uint64 {
	t.Helper()
	r := record.NewReader(bytes.NewReader(buf))
	var times []uint64
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		times = append(times, rec.Time)
	}
	return times
}

func TestScenario4StartEndWindow(t *testing.T) {
	var in bytes.Buffer
	writeStrobe(t, &in, 1, 5)
	writeStrobe(t, &in, 1, 15)
	writeStrobe(t, &in, 1, 25)

	opts := DefaultOptions()
	opts.StartTime = 10
	opts.EndTime = 20

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	if len(times) != 1 || times[0] != 15 {
		t.Fatalf("got %v, want [15]", times)
	}
}

func TestOutputIsOrderedSubsequence(t *testing.T) {
	var in bytes.Buffer
	for _, tm := range []uint64{1, 2, 3, 4, 5, 6, 7} {
		writeStrobe(t, &in, 1, tm)
	}
	opts := DefaultOptions()

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Fatalf("output not strictly increasing: %v", times)
		}
	}
}

func TestStartTimeLowerBound(t *testing.T) {
	var in bytes.Buffer
	for _, tm := range []uint64{0, 5, 10, 15, 20} {
		writeStrobe(t, &in, 1, tm)
	}
	opts := DefaultOptions()
	opts.StartTime = 10

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	for _, tm := range readAllTimes(t, out.Bytes()) {
		if tm < 10 {
			t.Fatalf("record at time %d violates start_time=10", tm)
		}
	}
}

func TestEndTimeUpperBound(t *testing.T) {
	var in bytes.Buffer
	for _, tm := range []uint64{0, 5, 10, 15, 20} {
		writeStrobe(t, &in, 1, tm)
	}
	opts := DefaultOptions()
	opts.EndTime = 10

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	for _, tm := range readAllTimes(t, out.Bytes()) {
		if tm > 10 {
			t.Fatalf("record at time %d violates end_time=10", tm)
		}
	}
}

func TestSkipRecordsDropsExactlyFirstN(t *testing.T) {
	var in bytes.Buffer
	for _, tm := range []uint64{1, 2, 3, 4, 5} {
		writeStrobe(t, &in, 1, tm)
	}
	opts := DefaultOptions()
	opts.SkipRecords = 2

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	want := []uint64{3, 4, 5}
	if len(times) != len(want) {
		t.Fatalf("got %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("got %v, want %v", times, want)
		}
	}
}

func TestSkipRecordsCountsDeltaRecordsToo(t *testing.T) {
	var in bytes.Buffer
	writeDelta(t, &in, 0xF, 1)
	writeStrobe(t, &in, 1, 2)
	writeStrobe(t, &in, 1, 3)
	opts := DefaultOptions()
	opts.SkipRecords = 2 // the DELTA record at i=1 counts toward the skip budget

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	if len(times) != 1 || times[0] != 3 {
		t.Fatalf("got %v, want [3]", times)
	}
}

func TestDeltaRecordsDroppedFromOutputByDefault(t *testing.T) {
	var in bytes.Buffer
	writeDelta(t, &in, 0xF, 1)
	writeStrobe(t, &in, 1, 2)
	opts := DefaultOptions()

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	r := record.NewReader(bytes.NewReader(out.Bytes()))
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		if rec.Type() == record.Delta {
			t.Fatalf("DELTA record leaked into output")
		}
	}
}

func TestDeltaOnFiltersByLatestDeltaStatus(t *testing.T) {
	var in bytes.Buffer
	writeDelta(t, &in, 1<<2, 0) // channel 2's delta_status becomes true
	writeStrobe(t, &in, 1, 1)
	opts := DefaultOptions()
	opts.DeltaOn = 2

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	if len(times) != 1 || times[0] != 1 {
		t.Fatalf("got %v, want [1] (delta_status[2] is true)", times)
	}
}

func TestStrobeOnFiltersByChannelBit(t *testing.T) {
	var in bytes.Buffer
	writeStrobe(t, &in, 1<<0, 1)
	writeStrobe(t, &in, 1<<1, 2)
	opts := DefaultOptions()
	opts.StrobeOn = 1

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	if len(times) != 1 || times[0] != 2 {
		t.Fatalf("got %v, want [2]", times)
	}
}

func TestPreserveWrapsMasksChannelsOnWrapRecord(t *testing.T) {
	var in bytes.Buffer
	// A STROBE record flagged as a wrap, past the 36-bit boundary so its
	// raw time wraps to a small value on the next record.
	payload := (record.TimeMask) | (uint64(0x2) << 36) | (uint64(1) << 46)
	w := record.NewWriter(&in)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.StrobeOn = 0 // would otherwise drop the wrap record: channel 0 unset
	opts.PreserveWraps = true

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	r := record.NewReader(bytes.NewReader(out.Bytes()))
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("expected the wrap record to survive, got err %v", err)
	}
	if rec.Channels() != [4]bool{} {
		t.Fatalf("preserve_wraps did not mask channel bits: %+v", rec.Channels())
	}
}

func TestTruncateRecordsDropsAtAndAfter(t *testing.T) {
	var in bytes.Buffer
	for _, tm := range []uint64{1, 2, 3, 4, 5} {
		writeStrobe(t, &in, 1, tm)
	}
	opts := DefaultOptions()
	opts.TruncateRecords = 3

	var out bytes.Buffer
	if err := Run(&in, &out, opts); err != nil {
		t.Fatal(err)
	}
	times := readAllTimes(t, out.Bytes())
	want := []uint64{1, 2}
	if len(times) != len(want) {
		t.Fatalf("got %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("got %v, want %v", times, want)
		}
	}
}
