package binning

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/timetag-tools/timetagd/internal/record"
)

func writeRecord(t *testing.T, buf *bytes.Buffer, typ record.Type, channels uint64, time uint64) {
	t.Helper()
	payload := time & record.TimeMask
	payload |= channels << 36
	if typ == record.Delta {
		payload |= uint64(1) << 45
	}
	w := record.NewWriter(buf)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

func decodeBins(t *testing.T, buf []byte) []Bin {
	t.Helper()
	if len(buf)%24 != 0 {
		t.Fatalf("output length %d not a multiple of 24", len(buf))
	}
	var bins []Bin
	for i := 0; i < len(buf); i += 24 {
		row := buf[i : i+24]
		bins = append(bins, Bin{
			Chan:      int32(binary.LittleEndian.Uint32(row[0:4])),
			StartTime: binary.LittleEndian.Uint64(row[4:12]),
			Count:     binary.LittleEndian.Uint32(row[12:16]),
			Lost:      binary.LittleEndian.Uint32(row[16:20]),
		})
	}
	return bins
}

func TestBinningScenario(t *testing.T) {
	// Scenario 3: three STROBE records on channel 0 at times 10, 12, 25,
	// bin width 10.
	var in bytes.Buffer
	writeRecord(t, &in, record.Strobe, 1<<0, 10)
	writeRecord(t, &in, record.Strobe, 1<<0, 12)
	writeRecord(t, &in, record.Strobe, 1<<0, 25)

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{}); err != nil {
		t.Fatal(err)
	}
	bins := decodeBins(t, out.Bytes())

	var chan0 []Bin
	for _, b := range bins {
		if b.Chan == 0 {
			chan0 = append(chan0, b)
		}
	}
	if len(chan0) != 2 {
		t.Fatalf("channel 0 emitted %d bins, want 2 ({10,2,0} then the final {20,1,0})", len(chan0))
	}
	if chan0[0].StartTime != 10 || chan0[0].Count != 2 || chan0[0].Lost != 0 {
		t.Fatalf("chan0[0] = %+v, want {10,2,0}", chan0[0])
	}
	if chan0[1].StartTime != 20 || chan0[1].Count != 1 || chan0[1].Lost != 0 {
		t.Fatalf("chan0[1] = %+v, want {20,1,0} (the in-progress bin flushed at end of stream)", chan0[1])
	}
}

func TestEveryStartTimeIsMultipleOfWidth(t *testing.T) {
	var in bytes.Buffer
	writeRecord(t, &in, record.Strobe, 1<<1, 3)
	writeRecord(t, &in, record.Strobe, 1<<1, 47)
	writeRecord(t, &in, record.Strobe, 1<<1, 99)

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{}); err != nil {
		t.Fatal(err)
	}
	for _, b := range decodeBins(t, out.Bytes()) {
		if b.StartTime%10 != 0 {
			t.Fatalf("start_time %d not a multiple of 10", b.StartTime)
		}
	}
}

func TestCountSumsMatchStrobeRecords(t *testing.T) {
	var in bytes.Buffer
	times := []uint64{1, 2, 15, 16, 16, 31}
	for _, tm := range times {
		writeRecord(t, &in, record.Strobe, 1<<2, tm)
	}

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{}); err != nil {
		t.Fatal(err)
	}

	var total uint32
	for _, b := range decodeBins(t, out.Bytes()) {
		if b.Chan == 2 {
			total += b.Count
		}
	}
	if int(total) != len(times) {
		t.Fatalf("sum of counts = %d, want %d", total, len(times))
	}
}

func TestOmitZerosDropsEmptyBins(t *testing.T) {
	var in bytes.Buffer
	writeRecord(t, &in, record.Strobe, 1<<0, 0)
	writeRecord(t, &in, record.Strobe, 1<<0, 100) // many empty bins between

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{OmitZeros: true}); err != nil {
		t.Fatal(err)
	}
	bins := decodeBins(t, out.Bytes())
	for _, b := range bins {
		if b.Chan == 0 && b.Count == 0 && b.StartTime != 0 {
			t.Fatalf("omit_zeros still emitted an empty bin: %+v", b)
		}
	}
}

func TestPruneKeepsOnlyFirstAndLastOfLongRun(t *testing.T) {
	var in bytes.Buffer
	writeRecord(t, &in, record.Strobe, 1<<0, 0)
	writeRecord(t, &in, record.Strobe, 1<<0, 100)

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{Prune: true}); err != nil {
		t.Fatal(err)
	}
	bins := decodeBins(t, out.Bytes())

	var zeroBins []Bin
	for _, b := range bins {
		if b.Chan == 0 && b.Count == 0 {
			zeroBins = append(zeroBins, b)
		}
	}
	// Run is from start_time=10 to start_time=90 in steps of 10: 9 bins;
	// pruned to the first (10) and last (90).
	if len(zeroBins) != 2 {
		t.Fatalf("got %d zero bins under prune, want 2", len(zeroBins))
	}
	if zeroBins[0].StartTime != 10 || zeroBins[1].StartTime != 90 {
		t.Fatalf("zero bins = %+v, want start_times 10 and 90", zeroBins)
	}
}

func TestLostFlagIncrementsEveryChannel(t *testing.T) {
	var in bytes.Buffer
	payload := uint64(5) | (uint64(1) << 47) // lost flag set
	w := record.NewWriter(&in)
	if err := w.Write(record.Record{Payload: payload}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Run(&in, &out, 10, Options{}); err != nil {
		t.Fatal(err)
	}
	bins := decodeBins(t, out.Bytes())
	seen := make(map[int32]bool)
	for _, b := range bins {
		if b.StartTime == 0 {
			if b.Lost != 1 {
				t.Fatalf("channel %d: lost = %d, want 1", b.Chan, b.Lost)
			}
			seen[b.Chan] = true
		}
	}
	for ch := int32(0); ch < 4; ch++ {
		if !seen[ch] {
			t.Fatalf("channel %d never flushed its lost-flagged bin", ch)
		}
	}
}
