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

// Package eliding drops DELTA records that don't bracket a STROBE record,
// shrinking ALEX-style acquisitions without losing information. Grounded on
// timetag_elide.cpp's two-phase main loop.
package eliding

import (
	"io"

	"github.com/timetag-tools/timetagd/internal/record"
)

// initialDeltaBudget bounds the leading pass-through phase: every record is
// copied unconditionally until the (initialDeltaBudget+1)th DELTA record,
// which is itself copied and ends the phase. This lets excitation periods be
// recovered from the start of the file even before any bracketing STROBE
// record appears.
const initialDeltaBudget = 1000

// Run copies src's record stream to dst, eliding non-bracketing DELTA
// records after the first initialDeltaBudget+1 DELTA records have passed.
func Run(src io.Reader, dst io.Writer) error {
	r := record.NewReader(src)
	w := record.NewWriter(dst)

	var lastDelta record.Record
	lastDeltaValid := false
	deltaCount := 0

	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.Write(rec); err != nil {
			return err
		}
		if rec.Type() == record.Delta {
			deltaCount++
			if deltaCount > initialDeltaBudget {
				break
			}
		}
	}

	writeNextDelta := false
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if rec.Type() == record.Strobe {
			if lastDeltaValid {
				if err := w.Write(lastDelta); err != nil {
					return err
				}
				lastDeltaValid = false
			}
			if err := w.Write(rec); err != nil {
				return err
			}
			writeNextDelta = true
			continue
		}

		if writeNextDelta {
			if err := w.Write(rec); err != nil {
				return err
			}
			writeNextDelta = false
		} else {
			lastDelta = rec
			lastDeltaValid = true
		}
	}
}
