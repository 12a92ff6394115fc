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

// Package cutting implements the temporal/channel cutter: a single-pass
// filter cascade over a record stream. Grounded line-for-line on
// timetag_cut.cpp's main loop.
package cutting

import (
	"io"
	"math"

	"github.com/timetag-tools/timetagd/internal/record"
)

// Options mirrors timetag_cut.cpp's command-line flags. StrobeOn/DeltaOn of
// -1 mean "no channel filter"; EndTime defaults to the maximum representable
// time, matching the original's `1ULL << 63` sentinel.
type Options struct {
	StrobeOn         int
	DeltaOn          int
	StartTime        uint64
	EndTime          uint64
	SkipRecords      uint32
	TruncateRecords  uint32
	DropInitialWraps uint
	PreserveWraps    bool
}

// DefaultOptions matches the original's defaults: no channel filter, the
// whole time range, no skip/truncate, wraps not preserved.
func DefaultOptions() Options {
	return Options{
		StrobeOn: -1,
		DeltaOn:  -1,
		EndTime:  math.MaxUint64,
	}
}

// Run filters src's record stream into dst per opts.
func Run(src io.Reader, dst io.Writer, opts Options) error {
	var r *record.Reader
	if opts.DropInitialWraps > 0 {
		r = record.NewReaderSkipWraps(src, opts.DropInitialWraps)
	} else {
		r = record.NewReader(src)
	}
	w := record.NewWriter(dst)

	var deltaStatus [4]bool
	var i uint32

	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		i++

		if rec.Type() == record.Delta {
			deltaStatus = rec.Channels()
			if rec.Wrap() && opts.PreserveWraps {
				if err := w.Write(rec.MaskChannels()); err != nil {
					return err
				}
			}
			continue
		}

		drop := false
		if rec.Time > opts.EndTime {
			drop = true
		}
		if rec.Time < opts.StartTime {
			drop = true
		}
		if i <= opts.SkipRecords {
			drop = true
		}
		if opts.TruncateRecords != 0 && i >= opts.TruncateRecords {
			drop = true
		}

		switch {
		case rec.Wrap() && opts.PreserveWraps:
			if err := w.Write(rec.MaskChannels()); err != nil {
				return err
			}
		case drop:
			continue
		default:
			chans := rec.Channels()
			if opts.StrobeOn != -1 && !chans[opts.StrobeOn] {
				continue
			}
			if opts.DeltaOn != -1 && !deltaStatus[opts.DeltaOn] {
				continue
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
	}
}
