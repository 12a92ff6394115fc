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

// Package dumping renders a record stream to a human-readable tab-separated
// table. Grounded on dump_records.cpp's dump_record, column for column.
package dumping

import (
	"bufio"
	"fmt"
	"io"

	"github.com/timetag-tools/timetagd/internal/record"
)

// Run writes one tab-separated line per record in src to dst:
//
//	index  raw_time  type  WRAP-or-blank  LOST-or-blank  c0  c1  c2  c3
//
// raw_time is the 36-bit hardware counter, not the wrap-reconstructed
// absolute time, matching the original dumper.
func Run(src io.Reader, dst io.Writer) error {
	r := record.NewReader(src)
	w := bufio.NewWriter(dst)

	var count uint32
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return w.Flush()
		}
		if err != nil {
			return err
		}
		if err := dumpRecord(w, rec, count); err != nil {
			return err
		}
		count++
	}
}

func dumpRecord(w *bufio.Writer, rec record.Record, count uint32) error {
	typ := "STROBE"
	if rec.Type() == record.Delta {
		typ = "DELTA"
	}
	wrap := ""
	if rec.Wrap() {
		wrap = "WRAP"
	}
	lost := ""
	if rec.Lost() {
		lost = "LOST"
	}
	channels := rec.Channels()

	_, err := fmt.Fprintf(w, "%d\t%11d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
		count, rec.RawTime(), typ, wrap, lost,
		boolToInt(channels[0]), boolToInt(channels[1]), boolToInt(channels[2]), boolToInt(channels[3]))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
