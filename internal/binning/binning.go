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

// Package binning implements the temporal binner: four independent
// per-channel bins of {start_time, count, lost}, advanced and flushed as
// records arrive. Grounded on bin_photons.cpp's input_channel/bin_record.
package binning

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/timetag-tools/timetagd/internal/record"
)

// Bin is one emitted {chan, start_time, count, lost} record.
type Bin struct {
	Chan      int32
	StartTime uint64
	Count     uint32
	Lost      uint32
}

// Encode serializes a Bin in the host little-endian layout from
// SPEC_FULL.md/spec.md §6.
func (b Bin) Encode() [24]byte {
	var out [24]byte
	binary.LittleEndian.PutUint32(out[0:4], uint32(b.Chan))
	binary.LittleEndian.PutUint64(out[4:12], b.StartTime)
	binary.LittleEndian.PutUint32(out[12:16], b.Count)
	binary.LittleEndian.PutUint32(out[16:20], b.Lost)
	return out
}

// Options controls the zero-bin emission policy; the original always
// zero-filled every skipped interval. omit_zeros/pruning are additions.
type Options struct {
	OmitZeros bool
	Prune     bool
}

type channelState struct {
	binStart uint64
	count    uint32
	lost     uint32
}

// Run consumes a wrap-aware record stream from src and writes Bin records
// to dst until end of stream.
func Run(src io.Reader, dst io.Writer, binLength uint64, opts Options) error {
	if binLength == 0 {
		return errors.New("binning: bin length must be positive")
	}
	r := record.NewReader(src)

	first, err := r.Next()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	chans := make([]channelState, 4)
	for i := range chans {
		chans[i].binStart = (first.Time / binLength) * binLength
	}
	if err := apply(dst, chans, binLength, opts, first); err != nil {
		return err
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			return flushFinal(dst, chans, opts)
		}
		if err != nil {
			return err
		}
		if err := apply(dst, chans, binLength, opts, rec); err != nil {
			return err
		}
	}
}

// flushFinal emits each channel's still-open bin at end of stream, so the
// last interval a record fell into is never silently dropped. A final bin
// with zero count and zero lost is itself subject to OmitZeros.
func flushFinal(dst io.Writer, chans []channelState, opts Options) error {
	for i := range chans {
		c := &chans[i]
		if opts.OmitZeros && c.count == 0 && c.lost == 0 {
			continue
		}
		if err := emit(dst, i, c.binStart, c.count, c.lost); err != nil {
			return err
		}
	}
	return nil
}

func apply(dst io.Writer, chans []channelState, binLength uint64, opts Options, rec record.Record) error {
	channels := rec.Channels()
	for i := range chans {
		c := &chans[i]
		if rec.Time >= c.binStart+binLength {
			newStart := (rec.Time / binLength) * binLength

			if err := emit(dst, i, c.binStart, c.count, c.lost); err != nil {
				return err
			}
			if err := emitZeroRun(dst, i, c.binStart+binLength, newStart, binLength, opts); err != nil {
				return err
			}

			c.count = 0
			c.lost = 0
			c.binStart = newStart
		}

		if rec.Lost() {
			c.lost++
		}
		if rec.Type() == record.Strobe && channels[i] {
			c.count++
		}
	}
	return nil
}

func emit(dst io.Writer, chanN int, start uint64, count, lost uint32) error {
	b := Bin{Chan: int32(chanN), StartTime: start, Count: count, Lost: lost}.Encode()
	_, err := dst.Write(b[:])
	return errors.Wrap(err, "binning: write")
}

// emitZeroRun writes zero-count bins for each interval in [from, to), per
// opts. A "run" longer than two bins is pruned to just its first and last
// member under Prune; OmitZeros drops the whole run.
func emitZeroRun(dst io.Writer, chanN int, from, to, binLength uint64, opts Options) error {
	if from >= to || opts.OmitZeros {
		return nil
	}

	var starts []uint64
	for t := from; t < to; t += binLength {
		starts = append(starts, t)
	}
	if len(starts) == 0 {
		return nil
	}

	if opts.Prune && len(starts) > 2 {
		starts = []uint64{starts[0], starts[len(starts)-1]}
	}
	for _, t := range starts {
		if err := emit(dst, chanN, t, 0, 0); err != nil {
			return err
		}
	}
	return nil
}
