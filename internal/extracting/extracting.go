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

// Package extracting splits a record stream into per-channel timestamp
// files: one binary uint64 timestamp stream per STROBE channel, and one
// timestamp+state transition stream per DELTA channel. Grounded on
// timetag_extract.cpp's process_record.
package extracting

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/timetag-tools/timetagd/internal/record"
)

// Run consumes src's record stream and writes one file per non-empty
// channel alongside root, named "<root>.strobe<N>.times" and
// "<root>.delta<N>.times" for N in 1..4. Files are created lazily, only
// once a channel actually produces output.
func Run(src io.Reader, root string) error {
	e := &extractor{root: root, firstDelta: true}
	defer e.closeAll()

	r := record.NewReader(src)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.process(rec); err != nil {
			return err
		}
	}
}

type extractor struct {
	root string

	strobeFiles [4]*os.File
	deltaFiles  [4]*os.File

	firstDelta     bool
	firstDeltaTime uint64
	deltaStates    [4]bool
}

func (e *extractor) process(rec record.Record) error {
	channels := rec.Channels()

	if rec.Type() == record.Strobe {
		for i := 0; i < 4; i++ {
			if !channels[i] {
				continue
			}
			f, err := e.strobeFile(i)
			if err != nil {
				return err
			}
			if err := writeUint64(f, rec.Time); err != nil {
				return err
			}
		}
		return nil
	}

	// DELTA: the first one seen only seeds the initial per-channel state;
	// it produces no output of its own.
	if e.firstDelta {
		e.firstDeltaTime = rec.Time
		e.deltaStates = channels
		e.firstDelta = false
		return nil
	}

	for i := 0; i < 4; i++ {
		newState := channels[i]
		oldState := e.deltaStates[i]
		if newState == oldState {
			continue
		}

		f, created, err := e.deltaFile(i)
		if err != nil {
			return err
		}
		if created {
			if err := writeUint64(f, e.firstDeltaTime); err != nil {
				return err
			}
			if err := writeBool(f, oldState); err != nil {
				return err
			}
		}
		if err := writeUint64(f, rec.Time); err != nil {
			return err
		}
		if err := writeBool(f, newState); err != nil {
			return err
		}
		e.deltaStates[i] = newState
	}
	return nil
}

func (e *extractor) strobeFile(i int) (*os.File, error) {
	if e.strobeFiles[i] != nil {
		return e.strobeFiles[i], nil
	}
	f, err := os.Create(fmt.Sprintf("%s.strobe%d.times", e.root, i+1))
	if err != nil {
		return nil, err
	}
	e.strobeFiles[i] = f
	return f, nil
}

// deltaFile lazily creates channel i's delta file, reporting whether this
// call created it (the caller must then write the header record).
func (e *extractor) deltaFile(i int) (f *os.File, created bool, err error) {
	if e.deltaFiles[i] != nil {
		return e.deltaFiles[i], false, nil
	}
	f, err = os.Create(fmt.Sprintf("%s.delta%d.times", e.root, i+1))
	if err != nil {
		return nil, false, err
	}
	e.deltaFiles[i] = f
	return f, true, nil
}

func (e *extractor) closeAll() {
	for _, f := range e.strobeFiles {
		if f != nil {
			f.Close()
		}
	}
	for _, f := range e.deltaFiles {
		if f != nil {
			f.Close()
		}
	}
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeBool(w io.Writer, v bool) error {
	var b [1]byte
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}
